package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite://" + filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := s.Record(ctx, Entry{
		Path:      "pkg/a_test.go",
		Line:      12,
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
		Collected: 2,
		Started:   2,
		Outcomes:  map[string]int{"passed": 1, "failed": 1},
		Class:     "bad",
		Summary:   "2 tests done: 1 passed, 1 failed",
		Items: []Item{
			{ID: "a", File: "pkg/a_test.go", Line: 3, State: "outcome_passed"},
			{ID: "b", File: "pkg/a_test.go", Line: 9, State: "outcome_failed"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "pkg/a_test.go", got.Path)
	assert.Equal(t, 12, got.Line)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.Equal(t, map[string]int{"passed": 1, "failed": 1}, got.Outcomes)
	assert.Equal(t, "bad", got.Class)
	assert.False(t, got.Cancelled)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "b", got.Items[1].ID)
	assert.Equal(t, "outcome_failed", got.Items[1].State)
}

func TestStore_GetMissing(t *testing.T) {
	s := openTemp(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RecentNewestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.Record(ctx, Entry{
			ID:          string(rune('a' + i)),
			Path:        "a_test.go",
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			Class:       "good",
			Summary:     "ok",
			Cancelled:   i == 4,
			WorkerError: "",
		})
		require.NoError(t, err)
	}

	recent, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "e", recent[0].ID)
	assert.True(t, recent[0].Cancelled)
	assert.Equal(t, "c", recent[2].ID)
	assert.Nil(t, recent[0].Items)
}

func TestStore_Prune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_, err := s.Record(ctx, Entry{
			Path:      "a_test.go",
			StartedAt: base.Add(time.Duration(i) * time.Second),
			Items:     []Item{{ID: "x", File: "a_test.go", Line: 1, State: "collected"}},
		})
		require.NoError(t, err)
	}

	removed, err := s.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestStore_DuplicateID(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.Record(ctx, Entry{ID: "same", Path: "a_test.go"})
	require.NoError(t, err)
	_, err = s.Record(ctx, Entry{ID: "same", Path: "a_test.go"})
	assert.Error(t, err)
}

func TestParseConnectionString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sqlite:///tmp/h.db", "/tmp/h.db"},
		{"sqlite:./h.db", "./h.db"},
		{"  h.db ", "h.db"},
		{":memory:", ":memory:"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseConnectionString(tt.in))
		})
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Record(context.Background(), Entry{Path: "a_test.go"})
	require.NoError(t, err)
}
