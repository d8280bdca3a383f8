package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"drax-assistant/internal/domain"
	"drax-assistant/internal/provider"
	"drax-assistant/internal/registry"
)

func permutations(in []domain.ProviderDescriptor) [][]domain.ProviderDescriptor {
	if len(in) <= 1 {
		return [][]domain.ProviderDescriptor{append([]domain.ProviderDescriptor(nil), in...)}
	}
	var out [][]domain.ProviderDescriptor
	for i := range in {
		rest := make([]domain.ProviderDescriptor, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]domain.ProviderDescriptor{in[i]}, p...))
		}
	}
	return out
}

func registryOf(t *testing.T, descriptors []domain.ProviderDescriptor) *registry.Registry {
	t.Helper()
	reg := registry.New()
	noop := provider.Func(func(context.Context, string, []domain.Message) (provider.Result, error) {
		return provider.Result{}, nil
	})
	for _, d := range descriptors {
		require.NoError(t, reg.Register(d, noop))
	}
	return reg
}

func TestPolicy_RegistrationOrderOnlyBreaksTies(t *testing.T) {
	ctx := context.Background()
	p, err := NewPolicy(KeywordScorer{}, WithDefaultProvider("WeatherAgent"))
	require.NoError(t, err)

	unique := map[string]string{
		"weather forecast for Paris": "WeatherAgent",
		"stock market prices":        "StockAgent",
		"please review my code":      "CodeAgent",
		"hello there":                "WeatherAgent",
	}
	const tied = "stock code"

	perms := permutations(testProviders())
	require.Len(t, perms, 6)
	for _, perm := range perms {
		listed := registryOf(t, perm).List()

		for text, want := range unique {
			d, err := p.Decide(ctx, Query{Text: text}, listed)
			require.NoError(t, err)
			require.Equal(t, want, d.Selected.Name, "query %q, order %v", text, names(listed))
		}

		d, err := p.Decide(ctx, Query{Text: tied}, listed)
		require.NoError(t, err)
		require.False(t, d.Fallback)
		require.Equal(t, firstOf(listed, "StockAgent", "CodeAgent"), d.Selected.Name, "order %v", names(listed))
	}
}

func names(ds []domain.ProviderDescriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}

func firstOf(ds []domain.ProviderDescriptor, candidates ...string) string {
	for _, d := range ds {
		for _, c := range candidates {
			if d.Name == c {
				return c
			}
		}
	}
	return ""
}
