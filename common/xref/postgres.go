package xref

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/logistics-bridge/common/database"
	"github.com/telhawk-systems/logistics-bridge/migrations"
)

// PostgresStore keeps mappings in the cross_references table. The primary
// key on source_id makes INSERT ... ON CONFLICT DO NOTHING the atomic claim.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Migrate applies the embedded schema migrations to connString.
func Migrate(connString string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, connString)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, source, target string) (string, bool, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	var existing string
	var created bool
	err := s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO cross_references (source_id, target_id)
			VALUES ($1, $2)
			ON CONFLICT (source_id) DO NOTHING
			RETURNING target_id
		)
		SELECT target_id, true FROM ins
		UNION ALL
		SELECT target_id, false FROM cross_references WHERE source_id = $1
		LIMIT 1`, source, target).Scan(&existing, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent claim committed after this statement's snapshot.
		existing, err = s.Get(ctx, source)
		if err != nil {
			return "", false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("claim %s: %w", source, err)
	}
	return existing, created, nil
}

func (s *PostgresStore) Get(ctx context.Context, source string) (string, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var target string
	err := s.pool.QueryRow(ctx,
		`SELECT target_id FROM cross_references WHERE source_id = $1`, source).Scan(&target)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", source, err)
	}
	return target, nil
}

func (s *PostgresStore) Set(ctx context.Context, source, target string) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO cross_references (source_id, target_id)
		VALUES ($1, $2)
		ON CONFLICT (source_id) DO UPDATE
		SET target_id = EXCLUDED.target_id, updated_at = now()`, source, target)
	if err != nil {
		return fmt.Errorf("set %s: %w", source, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, source string) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `DELETE FROM cross_references WHERE source_id = $1`, source); err != nil {
		return fmt.Errorf("delete %s: %w", source, err)
	}
	return nil
}
