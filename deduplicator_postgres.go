package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const dedupSchema = `CREATE TABLE IF NOT EXISTS processed_messages (
	message_id   TEXT PRIMARY KEY,
	object_key   TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL
)`

// pgxQuerier is the part of *pgxpool.Pool the store uses.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDeduplicationStore keeps processed message ids in a Postgres
// table so that separate worker processes share them.
type PostgresDeduplicationStore struct {
	db   pgxQuerier
	pool *pgxpool.Pool
}

// OpenPostgresDeduplicationStore connects with its own pool and creates the
// table when missing.
func OpenPostgresDeduplicationStore(ctx context.Context, databaseURL string) (*PostgresDeduplicationStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("dedup pool: %w", err)
	}
	if _, err := pool.Exec(ctx, dedupSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dedup schema: %w", err)
	}
	return &PostgresDeduplicationStore{db: pool, pool: pool}, nil
}

func (p *PostgresDeduplicationStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var seen bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_messages WHERE message_id = $1)`,
		messageID,
	).Scan(&seen)
	return seen, err
}

// MarkProcessed keeps the first recorded object for a message id.
func (p *PostgresDeduplicationStore) MarkProcessed(ctx context.Context, messageID, object string) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO processed_messages (message_id, object_key, processed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id) DO NOTHING`,
		messageID, object, time.Now().UTC(),
	)
	return err
}

func (p *PostgresDeduplicationStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM processed_messages WHERE processed_at < $1`,
		time.Now().UTC().Add(-olderThan),
	)
	if err != nil {
		return err
	}
	log.Debug().Int64("removed", tag.RowsAffected()).Msg("Cleaned up processed messages")
	return nil
}

func (p *PostgresDeduplicationStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
