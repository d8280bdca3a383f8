// Package session defines the session history contract used by the
// coordinator and an in-memory implementation of it.
package session

import (
	"context"

	"drax-assistant/internal/domain"
)

// Store persists ordered message history keyed by session id. Append assigns
// the message a sequence number strictly greater than any previous one in the
// same session. GetHistory returns an empty slice for an unseen session.
type Store interface {
	Append(ctx context.Context, sessionID string, msg domain.Message) error
	GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error)
}

// PairAppender is implemented by stores that can append a request/response
// pair atomically: either both messages become visible or neither does.
type PairAppender interface {
	AppendPair(ctx context.Context, sessionID string, request, response domain.Message) error
}
