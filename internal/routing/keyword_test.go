package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"drax-assistant/internal/domain"
)

func testProviders() []domain.ProviderDescriptor {
	return []domain.ProviderDescriptor{
		{Name: "WeatherAgent", Description: "Weather forecasts and current conditions", Capabilities: []string{"weather", "forecast"}},
		{Name: "StockAgent", Description: "Stock prices and market analysis", Capabilities: []string{"stock", "market", "finance"}},
		{Name: "CodeAgent", Description: "Writes and reviews code", Capabilities: []string{"code", "programming"}},
	}
}

func TestKeywordScorer_PrefersCapabilityMatch(t *testing.T) {
	got, err := KeywordScorer{}.Score(context.Background(), Query{Text: "What's the weather forecast for Paris?"}, testProviders())
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "WeatherAgent", got[0].Name)
	require.Greater(t, got[0].Score, got[1].Score)
	require.Greater(t, got[0].Score, got[2].Score)
	require.Contains(t, got[0].Rationale, "weather")
}

func TestKeywordScorer_FoldsPlurals(t *testing.T) {
	got, err := KeywordScorer{}.Score(context.Background(), Query{Text: "stocks"}, testProviders())
	require.NoError(t, err)
	require.Equal(t, 1.0, got[1].Score)
}

func TestKeywordScorer_ScoresStayInRange(t *testing.T) {
	got, err := KeywordScorer{}.Score(context.Background(), Query{Text: "stock market finance stock code weather"}, testProviders())
	require.NoError(t, err)
	for _, c := range got {
		require.GreaterOrEqual(t, c.Score, 0.0)
		require.LessOrEqual(t, c.Score, 1.0)
	}
}

func TestKeywordScorer_NoMeaningfulTerms(t *testing.T) {
	got, err := KeywordScorer{}.Score(context.Background(), Query{Text: "  what is the  "}, testProviders())
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, c := range got {
		require.Zero(t, c.Score)
	}
}

func TestKeywordScorer_IgnoresHistory(t *testing.T) {
	q := Query{Text: "how is the market"}
	first, err := KeywordScorer{}.Score(context.Background(), q, testProviders())
	require.NoError(t, err)

	q.History = []domain.Message{{Role: domain.RoleUser, Content: "weather forecast please"}}
	second, err := KeywordScorer{}.Score(context.Background(), q, testProviders())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestTokenize(t *testing.T) {
	require.Equal(t, []string{"stock", "price", "aapl"}, tokenize("What are the stock prices for AAPL?"))
	require.Equal(t, []string{"class"}, tokenize("class"))
	require.Empty(t, tokenize("a I ."))
}
