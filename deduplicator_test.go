package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDeduplicationStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryDeduplicationStore()

	processed, err := store.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.MarkProcessed(ctx, "msg-1", "raw/a.tsv"))

	processed, err = store.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = store.IsProcessed(ctx, "msg-2")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestInMemoryDeduplicationStoreCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryDeduplicationStore()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.MarkProcessed(ctx, "old", "raw/old.tsv"))
	now = now.Add(48 * time.Hour)
	require.NoError(t, store.MarkProcessed(ctx, "new", "raw/new.tsv"))

	require.NoError(t, store.Cleanup(ctx, 24*time.Hour))

	processed, _ := store.IsProcessed(ctx, "old")
	assert.False(t, processed)
	processed, _ = store.IsProcessed(ctx, "new")
	assert.True(t, processed)
}

func TestNopDeduplicationStore(t *testing.T) {
	ctx := context.Background()
	var store DeduplicationStore = NopDeduplicationStore{}

	require.NoError(t, store.MarkProcessed(ctx, "msg-1", "raw/a.tsv"))
	processed, err := store.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, processed)
	assert.NoError(t, store.Cleanup(ctx, time.Hour))
	assert.NoError(t, store.Close())
}

type MockPgxQuerier struct {
	mock.Mock
}

func (m *MockPgxQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	called := m.Called(ctx, sql, args)
	return called.Get(0).(pgconn.CommandTag), called.Error(1)
}

func (m *MockPgxQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	called := m.Called(ctx, sql, args)
	return called.Get(0).(pgx.Row)
}

// boolRow scans a single bool
type boolRow struct {
	value bool
	err   error
}

func (r boolRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.value
	return nil
}

func TestPostgresDeduplicationStore(t *testing.T) {
	ctx := context.Background()
	db := new(MockPgxQuerier)
	store := &PostgresDeduplicationStore{db: db}

	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "SELECT EXISTS")
	}), []any{"msg-1"}).Return(boolRow{value: true}).Once()
	db.On("Exec", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "ON CONFLICT (message_id) DO NOTHING")
	}), mock.MatchedBy(func(args []any) bool {
		return len(args) == 3 && args[0] == "msg-2" && args[1] == "raw/a.tsv"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	db.On("Exec", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.HasPrefix(q, "DELETE FROM processed_messages")
	}), mock.Anything).Return(pgconn.NewCommandTag("DELETE 4"), nil).Once()

	processed, err := store.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, processed)

	require.NoError(t, store.MarkProcessed(ctx, "msg-2", "raw/a.tsv"))
	require.NoError(t, store.Cleanup(ctx, 24*time.Hour))
	assert.NoError(t, store.Close())

	db.AssertExpectations(t)
}

func TestPostgresDeduplicationStoreLookupError(t *testing.T) {
	db := new(MockPgxQuerier)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(boolRow{err: errors.New("connection reset")}).Once()

	store := &PostgresDeduplicationStore{db: db}

	_, err := store.IsProcessed(context.Background(), "msg-1")
	assert.Error(t, err)
}

func TestNewDedupStore(t *testing.T) {
	tests := []struct {
		name      string
		dedupType string
		dedupURL  string
		expected  DeduplicationStore
		errMsg    string
	}{
		{name: "none", dedupType: "none", expected: NopDeduplicationStore{}},
		{name: "memory", dedupType: "memory", expected: NewInMemoryDeduplicationStore()},
		{name: "postgres needs its own url", dedupType: "postgres", errMsg: "dedup-url is required"},
		{name: "unknown type", dedupType: "redis", errMsg: "invalid dedup-type: redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := newDedupStore(context.Background(), tt.dedupType, tt.dedupURL)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, store)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.expected, store)
		})
	}
}
