package deepgram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(" ")
	require.Error(t, err)
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/listen", r.URL.Path)
		require.Equal(t, "nova-3", r.URL.Query().Get("model"))
		require.Equal(t, "Token dg-key", r.Header.Get("Authorization"))
		require.Equal(t, "audio/wav", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		require.Equal(t, "RIFF", string(b))
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":" what is the weather ","confidence":0.98}]}]}}`))
	}))
	defer srv.Close()

	c, err := New("dg-key", WithBaseURL(srv.URL+"/"), WithListenModel("nova-3"))
	require.NoError(t, err)

	text, err := c.Transcribe(context.Background(), []byte("RIFF"), "")
	require.NoError(t, err)
	require.Equal(t, "what is the weather", text)
}

func TestTranscribe_NoAlternatives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer srv.Close()

	c, err := New("k", WithBaseURL(srv.URL))
	require.NoError(t, err)
	text, err := c.Transcribe(context.Background(), []byte("x"), "audio/mpeg")
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestTranscribe_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"err_code":"INVALID_AUTH","err_msg":"Invalid credentials."}`))
	}))
	defer srv.Close()

	c, err := New("k", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Transcribe(context.Background(), nil, "")
	require.Error(t, err)

	_, err = c.Transcribe(context.Background(), []byte("x"), "")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.HTTPStatusCode())
	require.Equal(t, "Invalid credentials.", statusErr.Message)
}

func TestSpeak(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/speak", r.URL.Path)
		require.Equal(t, DefaultSpeakModel, r.URL.Query().Get("model"))
		require.Equal(t, "mp3", r.URL.Query().Get("encoding"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "hello there", body["text"])
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	c, err := New("k", WithBaseURL(srv.URL))
	require.NoError(t, err)

	audio, err := c.Speak(context.Background(), "hello there")
	require.NoError(t, err)
	require.Equal(t, []byte("ID3audio"), audio)

	_, err = c.Speak(context.Background(), " ")
	require.Error(t, err)
}
