// Package deepgram is a minimal client for Deepgram's prerecorded
// transcription and text-to-speech endpoints.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "https://api.deepgram.com"
	DefaultListenModel = "nova-2"
	DefaultSpeakModel  = "aura-asteria-en"
)

// HTTPStatusError captures non-2xx Deepgram responses.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("deepgram: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	listenModel string
	speakModel  string
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithListenModel(m string) Option {
	return func(c *Client) {
		if m != "" {
			c.listenModel = m
		}
	}
}

func WithSpeakModel(m string) Option {
	return func(c *Client) {
		if m != "" {
			c.speakModel = m
		}
	}
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	c := &Client{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		listenModel: DefaultListenModel,
		speakModel:  DefaultSpeakModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type errorResponse struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

// Transcribe sends prerecorded audio to /v1/listen and returns the best
// transcript of the first channel.
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("deepgram: audio must not be empty")
	}
	if contentType == "" {
		contentType = "audio/wav"
	}
	params := url.Values{}
	params.Set("model", c.listenModel)
	params.Set("smart_format", "true")

	body, err := c.do(ctx, "/v1/listen?"+params.Encode(), contentType, bytes.NewReader(audio))
	if err != nil {
		return "", err
	}

	var out listenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("deepgram: decode transcript: %w", err)
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Results.Channels[0].Alternatives[0].Transcript), nil
}

// Speak synthesizes text with /v1/speak and returns MP3 audio.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("deepgram: text must not be empty")
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("deepgram: marshal speak request: %w", err)
	}
	params := url.Values{}
	params.Set("model", c.speakModel)
	params.Set("encoding", "mp3")
	return c.do(ctx, "/v1/speak?"+params.Encode(), "application/json", bytes.NewReader(payload))
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		var errResp errorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.ErrMsg != "" {
			msg = errResp.ErrMsg
		}
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	return data, nil
}
