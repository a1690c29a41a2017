package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

const redshiftPort = 5439

type Database struct {
	db *sql.DB
}

// NewDatabase opens a pool with the "postgres" (lib/pq) or "pgx" driver and
// checks connectivity.
func NewDatabase(ctx context.Context, driver, databaseURL string) (*Database, error) {
	switch driver {
	case "postgres", "pgx":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func (d *Database) DB() *sql.DB {
	return d.db
}

func (d *Database) Close() error {
	return d.db.Close()
}

// DBTX is the subset of *sql.DB the warehouse sink needs.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

type RedshiftParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// URL builds a postgres style connection URL, Redshift listens on 5439
// unless told otherwise.
func (p RedshiftParams) URL() string {
	port := p.Port
	if port == 0 {
		port = redshiftPort
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + strconv.Itoa(port),
		Path:   "/" + p.Database,
	}
	return u.String()
}
