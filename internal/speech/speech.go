// Package speech converts recorded audio to request text and replies to
// audio, selecting hosted backends by name.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyTranscript is returned when the backend heard nothing.
var ErrEmptyTranscript = errors.New("speech: empty transcript")

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audio []byte) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f(ctx, audio)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, text string) ([]byte, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

// Adapter is the speech boundary used by the interactive loop. Either side
// may be nil when that direction is not configured.
type Adapter struct {
	stt Transcriber
	tts Synthesizer
}

func NewAdapter(stt Transcriber, tts Synthesizer) *Adapter {
	return &Adapter{stt: stt, tts: tts}
}

func (a *Adapter) CanTranscribe() bool { return a != nil && a.stt != nil }

func (a *Adapter) CanSynthesize() bool { return a != nil && a.tts != nil }

// SpeechToText transcribes audio into request text.
func (a *Adapter) SpeechToText(ctx context.Context, audio []byte) (string, error) {
	if !a.CanTranscribe() {
		return "", errors.New("speech: transcription is not configured")
	}
	if len(audio) == 0 {
		return "", errors.New("speech: audio must not be empty")
	}
	text, err := a.stt.Transcribe(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("speech: transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// TextToSpeech synthesizes text into audio bytes.
func (a *Adapter) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	if !a.CanSynthesize() {
		return nil, errors.New("speech: synthesis is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("speech: text must not be empty")
	}
	audio, err := a.tts.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("speech: synthesize: %w", err)
	}
	return audio, nil
}
