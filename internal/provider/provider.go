// Package provider defines the capability provider contract consumed by the
// coordinator and the adapters that reach hosted capability backends.
package provider

import (
	"context"

	"drax-assistant/internal/domain"
)

// Result is the successful outcome of a provider invocation.
type Result struct {
	Content string `json:"content"`
}

// Provider handles a single request. Implementations may block on network
// I/O and must honor ctx cancellation.
type Provider interface {
	Handle(ctx context.Context, text string, history []domain.Message) (Result, error)
}

// Func adapts an ordinary function to Provider.
type Func func(ctx context.Context, text string, history []domain.Message) (Result, error)

func (f Func) Handle(ctx context.Context, text string, history []domain.Message) (Result, error) {
	return f(ctx, text, history)
}
