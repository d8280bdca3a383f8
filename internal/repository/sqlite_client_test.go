package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drax-assistant/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSQLiteStore_NilDB(t *testing.T) {
	_, err := NewSQLiteStore(nil)
	require.Error(t, err)
}

func TestSQLite_UnseenSessionIsEmpty(t *testing.T) {
	s := newTestSQLite(t)
	history, err := s.GetHistory(context.Background(), "new-session-xyz")
	require.NoError(t, err)
	require.NotNil(t, history)
	require.Empty(t, history)
}

func TestSQLite_AppendPairRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)

	require.NoError(t, s.Append(ctx, "s1", domain.Message{Role: domain.RoleUser, Content: "earlier", Timestamp: ts}))
	require.NoError(t, s.AppendPair(ctx, "s1",
		domain.Message{Role: domain.RoleUser, Content: "stock price of ACME?"},
		domain.Message{Role: domain.RoleAssistant, Content: "ACME is at 42", ProviderName: "stock"},
	))

	history, err := s.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, ts, history[0].Timestamp)
	require.Equal(t, "", history[0].ProviderName)
	require.Equal(t, int64(2), history[1].Seq)
	require.Equal(t, domain.RoleUser, history[1].Role)
	require.Equal(t, int64(3), history[2].Seq)
	require.Equal(t, "stock", history[2].ProviderName)
	require.Equal(t, "ACME is at 42", history[2].Content)
}

func TestSQLite_FailedPairLeavesNothingBehind(t *testing.T) {
	s := newTestSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.AppendPair(ctx, "s1", domain.Message{Role: domain.RoleUser}, domain.Message{Role: domain.RoleAssistant})
	require.Error(t, err)

	history, err := s.GetHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestSQLite_ConcurrentPairsStayAdjacent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.AppendPair(ctx, "s1",
				domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("q%d", i)},
				domain.Message{Role: domain.RoleAssistant, Content: fmt.Sprintf("a%d", i), ProviderName: "calc"},
			)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := s.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 40)
	for i := 0; i < len(history); i += 2 {
		require.Equal(t, int64(i+1), history[i].Seq)
		require.Equal(t, "a"+history[i].Content[1:], history[i+1].Content)
	}
}

func TestSQLite_RejectsEmptySessionID(t *testing.T) {
	s := newTestSQLite(t)
	require.Error(t, s.Append(context.Background(), "", domain.Message{}))
}

func TestSQLite_RejectsUnknownRole(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	err := s.AppendPair(ctx, "s1", domain.Message{Role: domain.RoleUser, Content: "hi"}, domain.Message{Role: "", Content: "x"})
	require.ErrorContains(t, err, "invalid message role")
	history, err := s.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, history)

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO messages (session_id, seq, role, content, provider_name, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		"s2", 1, "robot", "x", nil, "2026-01-02T03:04:05Z",
	)
	require.NoError(t, err)
	_, err = s.GetHistory(ctx, "s2")
	require.ErrorContains(t, err, `unknown role "robot"`)
}

func TestSQLite_SharedDB(t *testing.T) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLiteStore(db)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), "s1", domain.Message{Role: domain.RoleUser, Content: "x"}))
	history, err := s.GetHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}
