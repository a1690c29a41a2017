package main

import (
	"context"
	"time"
)

// tracks messages whose batch has already been written, so a redelivery
// after a failed delete does not write the batch again
type DeduplicationStore interface {
	// checks if a message has already been processed
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// records that a message has been processed, object is informational
	MarkProcessed(ctx context.Context, messageID, object string) error

	// removes old entries to prevent unbounded growth
	Cleanup(ctx context.Context, olderThan time.Duration) error

	// releases any resources, could be a noop if not required
	Close() error
}

// used when deduplication is switched off
type NopDeduplicationStore struct{}

func (NopDeduplicationStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	return false, nil
}

func (NopDeduplicationStore) MarkProcessed(ctx context.Context, messageID, object string) error {
	return nil
}

func (NopDeduplicationStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	return nil
}

func (NopDeduplicationStore) Close() error {
	return nil
}
