package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const scratchFileName = "source.tsv"

// SourceFetcher resolves a notification into a local copy of the object.
type SourceFetcher struct {
	store ObjectStore
}

func NewSourceFetcher(store ObjectStore) *SourceFetcher {
	return &SourceFetcher{store: store}
}

// Fetch downloads the object at loc into dir and returns the local path.
// The caller owns dir and removes it.
func (f *SourceFetcher) Fetch(ctx context.Context, loc ObjectLocation, dir string) (string, error) {
	key, err := loc.DecodedKey()
	if err != nil {
		return "", &FetchError{Location: loc, Err: fmt.Errorf("decode key: %w", err)}
	}

	body, size, err := f.store.Get(ctx, loc.Bucket, key)
	if err != nil {
		return "", &FetchError{Location: loc, Err: err}
	}
	defer body.Close()

	path := filepath.Join(dir, scratchFileName)
	file, err := os.Create(path)
	if err != nil {
		return "", &FetchError{Location: loc, Err: fmt.Errorf("create scratch file: %w", err)}
	}

	n, err := io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", &FetchError{Location: loc, Err: fmt.Errorf("download: %w", err)}
	}
	if size >= 0 && n != size {
		return "", &FetchError{Location: loc, Err: fmt.Errorf("truncated download: got %d of %d bytes", n, size)}
	}

	log.Debug().
		Str("bucket", loc.Bucket).
		Str("key", key).
		Int64("bytes", n).
		Msg("Fetched source object")

	return path, nil
}

// IsNotFound reports whether a fetch failed because the object is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
