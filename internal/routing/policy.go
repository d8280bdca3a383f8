package routing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"drax-assistant/internal/domain"
)

// ErrNoProviders is returned when there is nothing to route to.
var ErrNoProviders = errors.New("no providers available")

const DefaultThreshold = 0.1

// Policy turns scorer output into exactly one RoutingDecision. The highest
// score wins; ties go to the earlier registered provider. When the best score
// is below the threshold, or the scorer fails, the default provider is chosen,
// and if none is configured, the first registered one.
type Policy struct {
	scorer          Scorer
	threshold       float64
	defaultProvider string
	logger          *slog.Logger
}

type PolicyOption func(*Policy)

func WithThreshold(t float64) PolicyOption {
	return func(p *Policy) {
		p.threshold = t
	}
}

func WithDefaultProvider(name string) PolicyOption {
	return func(p *Policy) {
		p.defaultProvider = name
	}
}

func WithLogger(l *slog.Logger) PolicyOption {
	return func(p *Policy) {
		p.logger = l
	}
}

// NewPolicy creates a Policy around scorer.
func NewPolicy(scorer Scorer, opts ...PolicyOption) (*Policy, error) {
	if scorer == nil {
		return nil, errors.New("routing: scorer must not be nil")
	}
	p := &Policy{scorer: scorer, threshold: DefaultThreshold, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.threshold < 0 || p.threshold > 1 {
		return nil, fmt.Errorf("routing: threshold %v outside [0,1]", p.threshold)
	}
	return p, nil
}

// Decide selects one of providers, which must be in registration order.
func (p *Policy) Decide(ctx context.Context, q Query, providers []domain.ProviderDescriptor) (domain.RoutingDecision, error) {
	if len(providers) == 0 {
		return domain.RoutingDecision{}, ErrNoProviders
	}

	candidates, err := p.scorer.Score(ctx, q, providers)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.RoutingDecision{}, ctxErr
		}
		p.logger.WarnContext(ctx, "routing scorer failed, using fallback provider", "err", err)
		return p.fallback(providers, 0, fmt.Sprintf("scorer failed: %v", err)), nil
	}

	best, ok := rank(candidates, providers)
	if !ok {
		return p.fallback(providers, 0, "no candidate matched a registered provider"), nil
	}
	if best.Score < p.threshold {
		return p.fallback(providers, best.Score, fmt.Sprintf("best score %.2f for %s below threshold %.2f", best.Score, best.Name, p.threshold)), nil
	}

	d := domain.RoutingDecision{Score: best.Score, Rationale: best.Rationale}
	d.Selected = providers[indexOf(providers, best.Name)]
	if d.Rationale == "" {
		d.Rationale = fmt.Sprintf("highest score %.2f", best.Score)
	}
	return d, nil
}

// rank returns the best candidate naming a registered provider. Unknown
// names and duplicate entries (first one wins) are ignored.
func rank(candidates []Candidate, providers []domain.ProviderDescriptor) (Candidate, bool) {
	type ranked struct {
		Candidate
		order int
	}
	seen := make(map[string]struct{}, len(candidates))
	pool := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		idx := indexOf(providers, c.Name)
		if idx < 0 {
			continue
		}
		if _, dup := seen[c.Name]; dup {
			continue
		}
		seen[c.Name] = struct{}{}
		pool = append(pool, ranked{Candidate: c, order: idx})
	}
	if len(pool) == 0 {
		return Candidate{}, false
	}
	slices.SortFunc(pool, func(a, b ranked) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
	return pool[0].Candidate, true
}

func (p *Policy) fallback(providers []domain.ProviderDescriptor, score float64, reason string) domain.RoutingDecision {
	idx := 0
	if p.defaultProvider != "" {
		if i := indexOf(providers, p.defaultProvider); i >= 0 {
			idx = i
		}
	}
	return domain.RoutingDecision{
		Selected:  providers[idx],
		Score:     score,
		Fallback:  true,
		Rationale: reason,
	}
}

func indexOf(providers []domain.ProviderDescriptor, name string) int {
	return slices.IndexFunc(providers, func(d domain.ProviderDescriptor) bool {
		return d.Name == name
	})
}
