// Package pg implements the conversation store on Postgres with pgvector.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/bwads001/claude-conversation-analyzer/internal/config"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

var _ store.Store = (*PGStore)(nil)

// PGStore implements store.Store backed by Postgres.
type PGStore struct {
	db       *sql.DB
	x        *sqlx.DB
	bulkSize int
	logger   zerolog.Logger
}

// New connects to Postgres. When dims > 0 the messages.embedding column
// must have exactly that many dimensions.
func New(ctx context.Context, cfg config.DatabaseConfig, dims int, logger zerolog.Logger) (*PGStore, error) {
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := NewWithDB(db, cfg.BulkBatchSize, logger)
	if dims > 0 {
		if err := s.CheckDimensions(ctx, dims); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an open connection.
func NewWithDB(db *sql.DB, bulkSize int, logger zerolog.Logger) *PGStore {
	if bulkSize <= 0 {
		bulkSize = 500
	}
	return &PGStore{
		db:       db,
		x:        sqlx.NewDb(db, "pgx"),
		bulkSize: bulkSize,
		logger:   logger.With().Str("component", "store.pg").Logger(),
	}
}

func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) Close() error { return s.db.Close() }

// ColumnDimensions returns the declared size of messages.embedding.
func (s *PGStore) ColumnDimensions(ctx context.Context) (int, error) {
	var dims int
	err := s.db.QueryRowContext(ctx, `SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'messages'::regclass AND attname = 'embedding'`).Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("messages.embedding column missing; run: cca migrate up")
	}
	if err != nil {
		return 0, fmt.Errorf("read embedding column: %w", err)
	}
	return dims, nil
}

// CheckDimensions fails when the schema was built for another vector size.
func (s *PGStore) CheckDimensions(ctx context.Context, dims int) error {
	got, err := s.ColumnDimensions(ctx)
	if err != nil {
		return err
	}
	if got != dims {
		return fmt.Errorf("embedding column has %d dimensions but embedding.dimensions is %d; add a migration altering messages.embedding", got, dims)
	}
	return nil
}

// HasPgvector reports whether the vector extension is installed.
func (s *PGStore) HasPgvector(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return version, err
}
