package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"drax-assistant/internal/domain"
)

func TestMemoryStore_UnseenSessionIsEmpty(t *testing.T) {
	s := NewMemoryStore()
	history, err := s.GetHistory(context.Background(), "new-session-xyz")
	require.NoError(t, err)
	require.NotNil(t, history)
	require.Empty(t, history)
}

func TestMemoryStore_AppendAssignsIncreasingSeq(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "s1", domain.Message{Role: domain.RoleUser, Content: "hi"}))
	require.NoError(t, s.Append(ctx, "s1", domain.Message{Role: domain.RoleUser, Content: "hi"}))
	require.NoError(t, s.AppendPair(ctx, "s1",
		domain.Message{Role: domain.RoleUser, Content: "weather?"},
		domain.Message{Role: domain.RoleAssistant, Content: "sunny", ProviderName: "weather"},
	))

	history, err := s.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i, m := range history {
		require.Equal(t, int64(i+1), m.Seq)
		require.False(t, m.Timestamp.IsZero())
	}
	require.Equal(t, domain.RoleUser, history[2].Role)
	require.Equal(t, "weather", history[3].ProviderName)
}

func TestMemoryStore_SessionsAreIndependent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "a", domain.Message{Role: domain.RoleUser, Content: "1"}))
	require.NoError(t, s.Append(ctx, "b", domain.Message{Role: domain.RoleUser, Content: "2"}))

	b, err := s.GetHistory(ctx, "b")
	require.NoError(t, err)
	require.Len(t, b, 1)
	require.Equal(t, int64(1), b[0].Seq)
}

func TestMemoryStore_CanceledContextAppendsNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.AppendPair(ctx, "s1", domain.Message{Role: domain.RoleUser}, domain.Message{Role: domain.RoleAssistant})
	require.ErrorIs(t, err, context.Canceled)

	history, err := s.GetHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestMemoryStore_RejectsEmptySessionID(t *testing.T) {
	s := NewMemoryStore()
	require.Error(t, s.Append(context.Background(), " ", domain.Message{}))
}

func TestMemoryStore_ConcurrentAppendsAreTotallyOrdered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.AppendPair(ctx, "s1",
				domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("q%d", i)},
				domain.Message{Role: domain.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
			)
		}(i)
	}
	wg.Wait()

	history, err := s.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 100)
	for i := 0; i < len(history); i += 2 {
		require.Equal(t, domain.RoleUser, history[i].Role)
		require.Equal(t, domain.RoleAssistant, history[i+1].Role)
		require.Equal(t, "a"+history[i].Content[1:], history[i+1].Content)
		require.Equal(t, int64(i+1), history[i].Seq)
	}
}

func TestMemoryStore_HistoryIsACopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "s1", domain.Message{Role: domain.RoleUser, Content: "hi"}))

	h, err := s.GetHistory(ctx, "s1")
	require.NoError(t, err)
	h[0].Content = "changed"

	h2, err := s.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "hi", h2[0].Content)
}
