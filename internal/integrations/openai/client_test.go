package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drax-assistant/internal/domain"
)

// ---------------------------------------------------------------------------
// URL helpers
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"https://api.groq.com/openai/v1", "https://api.groq.com/openai/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

func TestTranscriptionURL(t *testing.T) {
	require.Equal(t, "https://api.groq.com/openai/v1/audio/transcriptions", transcriptionURL(GroqBaseURL))
	require.Equal(t, "http://localhost:8080/v1/audio/transcriptions", transcriptionURL("http://localhost:8080/"))
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_RequiresKeySource(t *testing.T) {
	_, err := NewClient()
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")

	_, err = NewClient(WithParamStoreKey(&fakeGetter{}, " "))
	require.Error(t, err)
}

func TestNewClient_Valid(t *testing.T) {
	c, err := NewClient(WithAPIKey("sk-static"))
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, c.baseURL)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-static", key)
}

// ---------------------------------------------------------------------------
// resolveAPIKey: SSM caching behaviour
// ---------------------------------------------------------------------------

func TestResolveAPIKey_FetchedOnFirstCall(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(WithParamStoreKey(g, "/drax/openai-token"))
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, 1, calls)

	// subsequent calls must never hit SSM again
	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

// ---------------------------------------------------------------------------
// fetchAPIKeyFromParamStore
// ---------------------------------------------------------------------------

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func() // optional; called on each GetParameter invocation
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestFetchAPIKey_JSONToken(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	key, err := fetchAPIKeyFromParamStore(context.Background(), g, "/drax/openai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", key)
}

func TestFetchAPIKey_RawToken(t *testing.T) {
	key, err := fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: " gsk-raw\n"}, "/drax/groq_api_key")
	require.NoError(t, err)
	require.Equal(t, "gsk-raw", key)
}

func TestFetchAPIKey_Errors(t *testing.T) {
	_, err := fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"other":"value"}`}, "/drax/openai-token")
	require.ErrorContains(t, err, "token is empty")

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"broken`}, "/drax/openai-token")
	require.ErrorContains(t, err, "unmarshal")

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: "  "}, "/drax/openai-token")
	require.ErrorContains(t, err, "token is empty")

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{err: errors.New("ssm unavailable")}, "/drax/openai-token")
	require.ErrorContains(t, err, "ssm unavailable")

	_, err = fetchAPIKeyFromParamStore(context.Background(), nil, "/drax/openai-token")
	require.ErrorContains(t, err, "nil")

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"token":"x"}`}, " ")
	require.ErrorContains(t, err, "empty")
}

// ---------------------------------------------------------------------------
// Client.Chat / ChatJSON
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		WithParamStoreKey(&fakeGetter{val: `{"token":"sk-test"}`}, "/drax/openai-token"),
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

const chatOK = `{
	"id": "chatcmpl-123",
	"object": "chat.completion",
	"created": 1670000000,
	"choices": [{
		"index": 0,
		"message": { "role": "assistant", "content": "Hello from mock" }
	}]
}`

func TestClient_Chat_HappyPath(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatOK))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Chat(context.Background(), "gpt-mock", []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "Hello from mock", resp)
	require.Equal(t, "Bearer sk-test", gotAuth)
	require.Equal(t, "gpt-mock", gotBody["model"])
	require.NotContains(t, gotBody, "response_format")
}

func TestClient_ChatJSON_SendsSchema(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(chatOK))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ChatJSON(context.Background(), "gpt-mock", nil, JSONSchema{
		Name:   "route_decision",
		Strict: true,
		Schema: json.RawMessage(`{"type":"object","required":["provider"]}`),
	})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"response_format":{"type":"json_schema"`)
	require.Contains(t, string(raw), `"name":"route_decision"`)
	require.Contains(t, string(raw), `"required":["provider"]`)
}

func TestClient_Chat_UpstreamErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.Chat(context.Background(), "gpt-mock", nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "unexpected status")

		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, status, statusErr.HTTPStatusCode())
		srv.Close()
	}
}

func TestClient_Chat_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.ErrorContains(t, err, "decode response")
}

func TestClient_Chat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.ErrorContains(t, err, "no choices")
}

func TestClient_Chat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.Error(t, err)
}

func TestClient_Chat_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Chat(ctx, "gpt-mock", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Chat_EmptyModel(t *testing.T) {
	c, err := NewClient(WithAPIKey("sk-test"))
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "", nil)
	require.ErrorContains(t, err, "model")
}

func TestClient_Chat_NetworkError(t *testing.T) {
	c, err := NewClient(WithAPIKey("sk-test"), WithBaseURL("http://127.0.0.1:1"))
	require.NoError(t, err)
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Chat(context.Background(), "gpt-mock", nil)
	require.ErrorContains(t, err, "request failed")
}

// ---------------------------------------------------------------------------
// Client.Transcribe
// ---------------------------------------------------------------------------

func TestClient_Transcribe_HappyPath(t *testing.T) {
	var model, filename string
	var audio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		model = r.FormValue("model")
		f, hdr, err := r.FormFile("file")
		if err == nil {
			filename = hdr.Filename
			audio, _ = io.ReadAll(f)
		}
		_, _ = w.Write([]byte(`{"text":"  what is the weather  "}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	text, err := c.Transcribe(context.Background(), "whisper-large-v3", "", []byte("RIFF...."))
	require.NoError(t, err)
	require.Equal(t, "what is the weather", text)
	require.Equal(t, "whisper-large-v3", model)
	require.Equal(t, "input.wav", filename)
	require.Equal(t, []byte("RIFF...."), audio)
}

func TestClient_Transcribe_Validation(t *testing.T) {
	c, err := NewClient(WithAPIKey("sk-test"))
	require.NoError(t, err)

	_, err = c.Transcribe(context.Background(), "", "a.wav", []byte("x"))
	require.ErrorContains(t, err, "model")
	_, err = c.Transcribe(context.Background(), "whisper-large-v3", "a.wav", nil)
	require.ErrorContains(t, err, "audio")
}

func TestClient_Transcribe_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Transcribe(context.Background(), "whisper-large-v3", "a.wav", []byte("x"))
	require.ErrorContains(t, err, "transcription request failed")
	require.ErrorContains(t, err, "401")
}
