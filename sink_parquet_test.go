package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func readParquetRows(t *testing.T, data []byte) []parquetTitle {
	t.Helper()

	path := filepath.Join(t.TempDir(), "out.parquet")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetTitle), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	rows := make([]parquetTitle, pr.GetNumRows())
	require.NoError(t, pr.Read(&rows))
	return rows
}

func TestParquetSinkWritesOneObject(t *testing.T) {
	store := newMemoryStore()
	sink := NewParquetSink(store, ParquetConfig{Bucket: "analytics", Prefix: "titles/", ScratchDir: t.TempDir()})

	records := []Record{
		{ID: "tt1", Kind: strPtr("movie"), IsAdult: boolPtr(false), StartYear: intPtr(1999), Genres: []string{"Drama", "Comedy"}},
		{ID: "tt2", Genres: []string{}},
		{ID: "tt3"},
	}
	require.NoError(t, sink.Write(context.Background(), records))

	keys := store.keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "analytics/titles/data_"))
	assert.True(t, strings.HasSuffix(keys[0], ".parquet"))

	rows := readParquetRows(t, store.objects[keys[0]])
	require.Len(t, rows, 3)

	assert.Equal(t, "tt1", rows[0].TitleID)
	require.NotNil(t, rows[0].StartYear)
	assert.Equal(t, int32(1999), *rows[0].StartYear)
	assert.Nil(t, rows[0].EndYear)
	require.NotNil(t, rows[0].Genres)
	assert.Equal(t, `["Drama","Comedy"]`, *rows[0].Genres)

	require.NotNil(t, rows[1].Genres, "an empty list is kept")
	assert.Equal(t, `[]`, *rows[1].Genres)
	assert.Nil(t, rows[2].Genres)
	assert.Nil(t, rows[2].TitleType)
}

func TestParquetSinkRetryLeavesSecondObject(t *testing.T) {
	store := newMemoryStore()
	sink := NewParquetSink(store, ParquetConfig{Bucket: "analytics", ScratchDir: t.TempDir()})

	records := []Record{{ID: "tt1"}}
	require.NoError(t, sink.Write(context.Background(), records))
	require.NoError(t, sink.Write(context.Background(), records))

	assert.Len(t, store.keys(), 2)
}

func TestParquetSinkUploadFailure(t *testing.T) {
	scratch := t.TempDir()
	store := new(MockObjectStore)
	store.On("Put", mock.Anything, "analytics", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("bucket not found")).Once()

	sink := NewParquetSink(store, ParquetConfig{Bucket: "analytics", ScratchDir: scratch})

	err := sink.Write(context.Background(), []Record{{ID: "tt1"}})

	var sinkErr *SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, "parquet", sinkErr.Sink)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
	store.AssertExpectations(t)
}
