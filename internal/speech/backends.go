package speech

import (
	"context"
	"fmt"

	"drax-assistant/internal/integrations/deepgram"
	"drax-assistant/internal/integrations/elevenlabs"
	"drax-assistant/internal/integrations/openai"
)

// Backend names accepted in configuration.
const (
	BackendGroq       = "groq"
	BackendDeepgram   = "deepgram"
	BackendElevenLabs = "elevenlabs"
)

const DefaultWhisperModel = "whisper-large-v3"

type whisperAPI interface {
	Transcribe(ctx context.Context, model, filename string, audio []byte) (string, error)
}

// NewWhisperTranscriber transcribes through an OpenAI-compatible
// /audio/transcriptions endpoint such as Groq's.
func NewWhisperTranscriber(api whisperAPI, model string) Transcriber {
	if model == "" {
		model = DefaultWhisperModel
	}
	return TranscriberFunc(func(ctx context.Context, audio []byte) (string, error) {
		return api.Transcribe(ctx, model, "input.wav", audio)
	})
}

func NewDeepgramTranscriber(c *deepgram.Client) Transcriber {
	return TranscriberFunc(func(ctx context.Context, audio []byte) (string, error) {
		return c.Transcribe(ctx, audio, "audio/wav")
	})
}

func NewDeepgramSynthesizer(c *deepgram.Client) Synthesizer {
	return SynthesizerFunc(c.Speak)
}

func NewElevenLabsSynthesizer(c *elevenlabs.Client) Synthesizer {
	return SynthesizerFunc(c.Synthesize)
}

// Keys holds the API keys used to build backends.
type Keys struct {
	Groq       string
	Deepgram   string
	ElevenLabs string
}

// Options points backends at non-default endpoints, mainly for tests.
type Options struct {
	GroqBaseURL       string
	DeepgramBaseURL   string
	ElevenLabsBaseURL string
	WhisperModel      string
	ElevenLabsVoice   string
}

// NewTranscriber builds the transcription backend named by backend.
func NewTranscriber(backend string, keys Keys, opts Options) (Transcriber, error) {
	switch backend {
	case BackendGroq:
		baseURL := opts.GroqBaseURL
		if baseURL == "" {
			baseURL = openai.GroqBaseURL
		}
		client, err := openai.NewClient(openai.WithBaseURL(baseURL), openai.WithAPIKey(keys.Groq))
		if err != nil {
			return nil, fmt.Errorf("speech: groq client: %w", err)
		}
		return NewWhisperTranscriber(client, opts.WhisperModel), nil
	case BackendDeepgram:
		client, err := newDeepgram(keys.Deepgram, opts)
		if err != nil {
			return nil, err
		}
		return NewDeepgramTranscriber(client), nil
	default:
		return nil, fmt.Errorf("speech: unsupported transcription backend %q", backend)
	}
}

// NewSynthesizer builds the text-to-speech backend named by backend.
func NewSynthesizer(backend string, keys Keys, opts Options) (Synthesizer, error) {
	switch backend {
	case BackendDeepgram:
		client, err := newDeepgram(keys.Deepgram, opts)
		if err != nil {
			return nil, err
		}
		return NewDeepgramSynthesizer(client), nil
	case BackendElevenLabs:
		elOpts := []elevenlabs.Option{elevenlabs.WithVoice(opts.ElevenLabsVoice)}
		if opts.ElevenLabsBaseURL != "" {
			elOpts = append(elOpts, elevenlabs.WithBaseURL(opts.ElevenLabsBaseURL))
		}
		client, err := elevenlabs.New(keys.ElevenLabs, elOpts...)
		if err != nil {
			return nil, fmt.Errorf("speech: %w", err)
		}
		return NewElevenLabsSynthesizer(client), nil
	default:
		return nil, fmt.Errorf("speech: unsupported tts backend %q", backend)
	}
}

func newDeepgram(key string, opts Options) (*deepgram.Client, error) {
	var dgOpts []deepgram.Option
	if opts.DeepgramBaseURL != "" {
		dgOpts = append(dgOpts, deepgram.WithBaseURL(opts.DeepgramBaseURL))
	}
	client, err := deepgram.New(key, dgOpts...)
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	return client, nil
}
