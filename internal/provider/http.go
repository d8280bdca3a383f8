package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"drax-assistant/internal/domain"
)

const maxErrorBody = 1024

// StatusError is returned for non-2xx replies from a remote provider.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type httpRequest struct {
	Text    string           `json:"text"`
	History []domain.Message `json:"history"`
}

type httpResponse struct {
	Content string `json:"content"`
}

// HTTP forwards requests to a remote provider service as JSON.
type HTTP struct {
	endpoint   string
	httpClient *http.Client
	headers    map[string]string
}

type HTTPOption func(*HTTP)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTP) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithHeader sets a header on every request, e.g. an API key.
func WithHeader(key, value string) HTTPOption {
	return func(p *HTTP) {
		p.headers[key] = value
	}
}

func NewHTTP(endpoint string, opts ...HTTPOption) (*HTTP, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("provider: endpoint must not be empty")
	}
	p := &HTTP{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		headers:    map[string]string{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *HTTP) Handle(ctx context.Context, text string, history []domain.Message) (Result, error) {
	if history == nil {
		history = []domain.Message{}
	}
	body, err := json.Marshal(httpRequest{Text: text, History: history})
	if err != nil {
		return Result{}, fmt.Errorf("provider: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("provider: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Result{}, &StatusError{StatusCode: resp.StatusCode, URL: p.endpoint, Body: strings.TrimSpace(string(b))}
	}

	var out httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("provider: decode response: %w", err)
	}
	content := strings.TrimSpace(out.Content)
	if content == "" {
		return Result{}, fmt.Errorf("%w from %s", ErrEmptyReply, p.endpoint)
	}
	return Result{Content: content}, nil
}
