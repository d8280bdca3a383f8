// Package routing selects exactly one provider for a request. Scoring is
// pluggable; the Policy turns scores into a single RoutingDecision.
package routing

import (
	"context"

	"drax-assistant/internal/domain"
)

// Query is what a Scorer sees of a request.
type Query struct {
	Text    string
	History []domain.Message
}

// Candidate is one provider's score for a query. Score is in [0,1].
type Candidate struct {
	Name      string
	Score     float64
	Rationale string
}

// Scorer ranks providers for a query. Implementations may return candidates
// in any order and may omit providers they consider irrelevant.
type Scorer interface {
	Score(ctx context.Context, q Query, providers []domain.ProviderDescriptor) ([]Candidate, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, q Query, providers []domain.ProviderDescriptor) ([]Candidate, error)

func (f ScorerFunc) Score(ctx context.Context, q Query, providers []domain.ProviderDescriptor) ([]Candidate, error) {
	return f(ctx, q, providers)
}
