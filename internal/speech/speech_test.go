package speech

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdapter_SpeechToText(t *testing.T) {
	a := NewAdapter(TranscriberFunc(func(_ context.Context, audio []byte) (string, error) {
		require.Equal(t, []byte("wav"), audio)
		return "  weather in Paris  ", nil
	}), nil)

	text, err := a.SpeechToText(context.Background(), []byte("wav"))
	require.NoError(t, err)
	require.Equal(t, "weather in Paris", text)
	require.True(t, a.CanTranscribe())
	require.False(t, a.CanSynthesize())
}

func TestAdapter_SpeechToTextErrors(t *testing.T) {
	_, err := NewAdapter(nil, nil).SpeechToText(context.Background(), []byte("wav"))
	require.ErrorContains(t, err, "not configured")

	silent := NewAdapter(TranscriberFunc(func(context.Context, []byte) (string, error) { return " ", nil }), nil)
	_, err = silent.SpeechToText(context.Background(), []byte("wav"))
	require.ErrorIs(t, err, ErrEmptyTranscript)

	_, err = silent.SpeechToText(context.Background(), nil)
	require.Error(t, err)

	boom := errors.New("boom")
	broken := NewAdapter(TranscriberFunc(func(context.Context, []byte) (string, error) { return "", boom }), nil)
	_, err = broken.SpeechToText(context.Background(), []byte("wav"))
	require.ErrorIs(t, err, boom)
}

func TestAdapter_TextToSpeech(t *testing.T) {
	a := NewAdapter(nil, SynthesizerFunc(func(_ context.Context, text string) ([]byte, error) {
		return []byte("mp3:" + text), nil
	}))

	audio, err := a.TextToSpeech(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, []byte("mp3:hi"), audio)

	_, err = a.TextToSpeech(context.Background(), " ")
	require.Error(t, err)

	_, err = NewAdapter(nil, nil).TextToSpeech(context.Background(), "hi")
	require.ErrorContains(t, err, "not configured")
}

func TestNewTranscriber_Groq(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.Equal(t, "Bearer gq", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, DefaultWhisperModel, r.FormValue("model"))
		_, _ = w.Write([]byte(`{"text":"hello drax"}`))
	}))
	defer srv.Close()

	stt, err := NewTranscriber(BackendGroq, Keys{Groq: "gq"}, Options{GroqBaseURL: srv.URL})
	require.NoError(t, err)
	text, err := stt.Transcribe(context.Background(), []byte("RIFF"))
	require.NoError(t, err)
	require.Equal(t, "hello drax", text)
}

func TestNewTranscriber_Deepgram(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/listen", r.URL.Path)
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"hi"}]}]}}`))
	}))
	defer srv.Close()

	stt, err := NewTranscriber(BackendDeepgram, Keys{Deepgram: "dg"}, Options{DeepgramBaseURL: srv.URL})
	require.NoError(t, err)
	text, err := stt.Transcribe(context.Background(), []byte("RIFF"))
	require.NoError(t, err)
	require.Equal(t, "hi", text)
}

func TestNewTranscriber_Rejects(t *testing.T) {
	_, err := NewTranscriber("local", Keys{}, Options{})
	require.ErrorContains(t, err, "unsupported")

	_, err = NewTranscriber(BackendGroq, Keys{}, Options{})
	require.Error(t, err)

	_, err = NewTranscriber(BackendDeepgram, Keys{}, Options{})
	require.Error(t, err)
}

func TestNewSynthesizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	tts, err := NewSynthesizer(BackendDeepgram, Keys{Deepgram: "dg"}, Options{DeepgramBaseURL: srv.URL})
	require.NoError(t, err)
	audio, err := tts.Synthesize(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "/v1/speak", string(audio))

	tts, err = NewSynthesizer(BackendElevenLabs, Keys{ElevenLabs: "el"}, Options{ElevenLabsBaseURL: srv.URL, ElevenLabsVoice: "v1"})
	require.NoError(t, err)
	audio, err = tts.Synthesize(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "/v1/text-to-speech/v1", string(audio))

	_, err = NewSynthesizer("polly", Keys{}, Options{})
	require.Error(t, err)
	_, err = NewSynthesizer(BackendElevenLabs, Keys{}, Options{})
	require.Error(t, err)
}
