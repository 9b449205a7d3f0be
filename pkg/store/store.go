// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package store is the persistence gateway. Three logical stores (auth,
// config, data) each own a database handle; a DSN starting with
// postgres:// opens the pgx driver, anything else opens sqlite. Every
// write runs in a scoped transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	// Database drivers selected by DSN scheme.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tundzai001/land-slide-web/pkg/config"
	"github.com/tundzai001/land-slide-web/pkg/telemetry"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
)

// Sentinel errors surfaced to callers for taxonomy decisions.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

var (
	tlmWrites = telemetry.NewCounter("store", "writes",
		[]string{"table"}, "Committed writes by table")
	tlmErrors = telemetry.NewCounter("store", "errors",
		[]string{"op"}, "Failed store operations")
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// pgUniqueViolation is the postgres error code for unique constraint hits.
const pgUniqueViolation = "23505"

// Stores aggregates the three gateway handles.
type Stores struct {
	Auth   *AuthStore
	Config *ConfigStore
	Data   *DataStore
}

// Open connects all three stores, pings them and applies the idempotent
// schema. On any failure the handles opened so far are closed.
func Open(ctx context.Context, settings config.StoreSettings) (*Stores, error) {
	auth, err := openDB(ctx, settings.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("auth store: %w", err)
	}
	cfg, err := openDB(ctx, settings.ConfigURL)
	if err != nil {
		_ = auth.Close()
		return nil, fmt.Errorf("config store: %w", err)
	}
	data, err := openDB(ctx, settings.DataURL)
	if err != nil {
		_ = auth.Close()
		_ = cfg.Close()
		return nil, fmt.Errorf("data store: %w", err)
	}

	s := &Stores{
		Auth:   &AuthStore{db: auth, dialect: dialectOf(settings.AuthURL)},
		Config: &ConfigStore{db: cfg, dialect: dialectOf(settings.ConfigURL)},
		Data:   &DataStore{db: data, dialect: dialectOf(settings.DataURL)},
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	log.Infof("stores ready: auth=%s config=%s data=%s",
		redactDSN(settings.AuthURL), redactDSN(settings.ConfigURL), redactDSN(settings.DataURL))
	return s, nil
}

// Migrate applies the schema of every store.
func (s *Stores) Migrate(ctx context.Context) error {
	if err := s.Auth.migrate(ctx); err != nil {
		return fmt.Errorf("auth schema: %w", err)
	}
	if err := s.Config.migrate(ctx); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	if err := s.Data.migrate(ctx); err != nil {
		return fmt.Errorf("data schema: %w", err)
	}
	return nil
}

// Close closes all three handles and aggregates their errors.
func (s *Stores) Close() error {
	var result *multierror.Error
	for _, h := range []struct {
		name string
		db   *sqlx.DB
	}{
		{"auth", s.Auth.db},
		{"config", s.Config.db},
		{"data", s.Data.db},
	} {
		if err := h.db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing %s store: %w", h.name, err))
		}
	}
	return result.ErrorOrNil()
}

func dialectOf(dsn string) dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return dialectPostgres
	}
	return dialectSQLite
}

func driverOf(dsn string) string {
	if dialectOf(dsn) == dialectPostgres {
		return "pgx"
	}
	return "sqlite3"
}

func openDB(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverOf(dsn), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", redactDSN(dsn), err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s: %w", redactDSN(dsn), err)
	}
	return db, nil
}

// redactDSN strips credentials from a DSN before it reaches a log line.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	scheme := strings.Index(dsn, "://")
	if scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error.
func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = multierror.Append(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// isConflict recognizes unique constraint violations on both backends.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return true
	}
	return false
}

// insertReturningID runs an INSERT ... RETURNING id, which both backends
// support.
func insertReturningID(ctx context.Context, tx *sqlx.Tx, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := tx.QueryRowxContext(ctx, tx.Rebind(query), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
