package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jonathan/mp-harvester/internal/types"
)

func newTestStore(t *testing.T, limit int) (*Store, *time.Time) {
	t.Helper()
	s, err := Open(":memory:", limit, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestStore_TouchOrdersByRecency(t *testing.T) {
	s, now := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Touch(ctx, types.Account{FakeID: "A", Nickname: "Alpha"}))
	*now = now.Add(time.Minute)
	require.NoError(t, s.Touch(ctx, types.Account{FakeID: "B", Nickname: "Beta"}))
	*now = now.Add(time.Minute)
	require.NoError(t, s.Touch(ctx, types.Account{FakeID: "A"}))

	entries, err := s.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "A", entries[0].FakeID)
	assert.Equal(t, "Alpha", entries[0].Nickname, "empty fields keep the stored value")
	assert.Equal(t, 2, entries[0].UseCount)
	assert.Equal(t, *now, entries[0].LastUsed)
	assert.Equal(t, "B", entries[1].FakeID)
	assert.Equal(t, 1, entries[1].UseCount)
}

func TestStore_KeepsAtMostMaxAccounts(t *testing.T) {
	s, now := newTestStore(t, 3)
	ctx := context.Background()

	for i := range 5 {
		*now = now.Add(time.Second)
		require.NoError(t, s.Touch(ctx, types.Account{FakeID: fmt.Sprintf("F%d", i), Nickname: "n"}))
	}

	entries, err := s.Accounts(ctx)
	require.NoError(t, err)
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.FakeID)
	}
	assert.Equal(t, []string{"F4", "F3", "F2"}, ids)
}

func TestStore_TouchRequiresFakeID(t *testing.T) {
	s, _ := newTestStore(t, 0)
	assert.Error(t, s.Touch(context.Background(), types.Account{Nickname: "nobody"}))
}

func TestStore_RecordSearch(t *testing.T) {
	s, now := newTestStore(t, 0)
	ctx := context.Background()

	set := &types.SearchResultSet{
		ID:             "search-1",
		Query:          "Gopher Weekly",
		Account:        &types.Account{FakeID: "FAKE1", Nickname: "Gopher Weekly"},
		RequestedPages: 5,
		FetchedPages:   4,
		Articles:       make([]types.ArticleRecord, 20),
		Failures:       []types.PageFailure{{Page: 3, Kind: types.FailureClient}},
		StartedAt:      *now,
		FinishedAt:     now.Add(3 * time.Second),
	}
	require.NoError(t, s.RecordSearch(ctx, set))

	acqs, err := s.Acquisitions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, acqs, 1)
	assert.Equal(t, Acquisition{
		ID:             "search-1",
		Query:          "Gopher Weekly",
		FakeID:         "FAKE1",
		RequestedPages: 5,
		FetchedPages:   4,
		Articles:       20,
		Failures:       1,
		StartedAt:      *now,
		FinishedAt:     now.Add(3 * time.Second),
	}, acqs[0])

	entries, err := s.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "FAKE1", entries[0].FakeID)
}

func TestStore_RemoveAndClear(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Touch(ctx, types.Account{FakeID: "A", Nickname: "a"}))
	require.NoError(t, s.Touch(ctx, types.Account{FakeID: "B", Nickname: "b"}))
	require.NoError(t, s.Remove(ctx, "A"))

	entries, err := s.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, s.RecordSearch(ctx, &types.SearchResultSet{ID: "x", Query: "q"}))
	require.NoError(t, s.Clear(ctx))

	entries, err = s.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	acqs, err := s.Acquisitions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, acqs)
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(path, 0, nil)
	require.NoError(t, err)
	require.NoError(t, s.Touch(context.Background(), types.Account{FakeID: "A", Nickname: "a"}))
	require.NoError(t, s.Close())

	reopened, err := Open(path, 0, nil)
	require.NoError(t, err)
	defer reopened.Close()
	entries, err := reopened.Accounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
