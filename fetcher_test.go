package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSourceFetcherDecodesKey(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, store.Put(context.Background(), "raw", "imdb/title basics.tsv", strings.NewReader("payload"), 7))

	fetcher := NewSourceFetcher(store)
	dir := t.TempDir()

	path, err := fetcher.Fetch(context.Background(), ObjectLocation{Bucket: "raw", Key: "imdb%2Ftitle+basics.tsv"}, dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, scratchFileName), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestSourceFetcherNotFound(t *testing.T) {
	fetcher := NewSourceFetcher(newMemoryStore())

	_, err := fetcher.Fetch(context.Background(), ObjectLocation{Bucket: "raw", Key: "missing.tsv"}, t.TempDir())

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "missing.tsv", fetchErr.Location.Key)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "fetch", errorKind(err))
}

func TestSourceFetcherBadEncoding(t *testing.T) {
	store := new(MockObjectStore)
	fetcher := NewSourceFetcher(store)

	_, err := fetcher.Fetch(context.Background(), ObjectLocation{Bucket: "raw", Key: "bad%zz.tsv"}, t.TempDir())

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.False(t, IsNotFound(err))
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestSourceFetcherTruncated(t *testing.T) {
	store := new(MockObjectStore)
	store.On("Get", mock.Anything, "raw", "k.tsv").
		Return(io.NopCloser(strings.NewReader("short")), int64(100), nil).Once()

	fetcher := NewSourceFetcher(store)

	_, err := fetcher.Fetch(context.Background(), ObjectLocation{Bucket: "raw", Key: "k.tsv"}, t.TempDir())

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "truncated")
	store.AssertExpectations(t)
}

func TestSourceFetcherUnknownSize(t *testing.T) {
	store := new(MockObjectStore)
	store.On("Get", mock.Anything, "raw", "k.tsv").
		Return(io.NopCloser(strings.NewReader("streamed")), int64(-1), nil).Once()

	fetcher := NewSourceFetcher(store)

	path, err := fetcher.Fetch(context.Background(), ObjectLocation{Bucket: "raw", Key: "k.tsv"}, t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(data))
}

func TestSourceFetcherStoreError(t *testing.T) {
	store := new(MockObjectStore)
	store.On("Get", mock.Anything, "raw", "k.tsv").Return(nil, int64(0), errors.New("access denied")).Once()

	fetcher := NewSourceFetcher(store)

	_, err := fetcher.Fetch(context.Background(), ObjectLocation{Bucket: "raw", Key: "k.tsv"}, t.TempDir())

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.False(t, IsNotFound(err))
}
