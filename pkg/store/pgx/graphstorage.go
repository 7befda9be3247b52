// Package pgx implements store.GraphStorage on PostgreSQL. Entities and
// relationships are kept as JSONB documents next to the columns that
// lookups and uniqueness depend on; relationships form an adjacency table.
package pgx

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
)

//go:embed migrations/*.sql
var migrations embed.FS

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

var log = logger.With("Postgres")

// GraphDBStorage implements store.GraphStorage using PostgreSQL. Upserts
// run in their own transaction; staleness updates are chunked.
type GraphDBStorage struct {
	conn pgxIConn
	now  func() time.Time

	// upserts of the same natural key from one process are serialised so
	// the id lookup and the insert observe each other.
	upsertMu sync.Mutex
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.now = now
	}
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool. The schema must already be migrated, see Migrate.
func NewGraphDBStorageWithConnection(ctx context.Context, conn pgxIConn, opts ...GraphDBStorageOption) (*GraphDBStorage, error) {
	if conn == nil {
		return nil, errors.New("pgx: connection is required")
	}
	s := &GraphDBStorage{
		conn: conn,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	if _, err := conn.Exec(ctx, "SELECT 1 FROM entities LIMIT 1"); err != nil {
		return nil, fmt.Errorf("pgx: catalog schema not available: %w", err)
	}
	return s, nil
}

// Migrate applies the embedded schema migrations to databaseURL. It is a
// no-op when the schema is current.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("pgx: load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("pgx: open migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err := errors.Join(srcErr, dbErr); err != nil {
			log.Warn("Failed to close migrator", "err", err)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("Schema up to date")
			return nil
		}
		return fmt.Errorf("pgx: migrate: %w", err)
	}
	version, _, _ := m.Version()
	log.Info("Schema migrated", "version", version)
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
