package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/internal/feedback"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the tables the store writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS task_outcomes (
    id          UUID PRIMARY KEY,
    task_id     TEXT NOT NULL,
    pattern_key TEXT NOT NULL,
    prompt      TEXT NOT NULL,
    url         TEXT NOT NULL,
    success     BOOLEAN NOT NULL,
    score       DOUBLE PRECISION,
    error       TEXT NOT NULL,
    actions     JSONB NOT NULL,
    observed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS task_outcomes_pattern_idx ON task_outcomes (pattern_key);
CREATE TABLE IF NOT EXISTS learned_patterns (
    key        TEXT PRIMARY KEY,
    successes  INTEGER NOT NULL,
    failures   INTEGER NOT NULL,
    actions    JSONB NOT NULL,
    task       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`

const (
	sqlInsertOutcome = `
        INSERT INTO task_outcomes (id, task_id, pattern_key, prompt, url, success, score, error, actions, observed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `
	sqlUpsertPattern = `
        INSERT INTO learned_patterns (key, successes, failures, actions, task, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (key) DO UPDATE SET
            successes = EXCLUDED.successes,
            failures = EXCLUDED.failures,
            actions = EXCLUDED.actions,
            task = EXCLUDED.task,
            updated_at = EXCLUDED.updated_at;
    `
	sqlSelectPatterns = `
        SELECT key, successes, failures, actions, task, updated_at
        FROM learned_patterns
        ORDER BY updated_at DESC;
    `
)

// Store is the optional Postgres sink for validated outcomes and learned
// patterns. Nothing in the request path depends on it.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a pool for url and wraps it. The returned close function
// releases the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// RecordOutcome inserts one validated outcome.
func (s *Store) RecordOutcome(ctx context.Context, key string, o feedback.Outcome) error {
	actions, err := json.Marshal(o.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}
	if o.Actions == nil {
		actions = []byte("[]")
	}
	observed := o.Timestamp
	if observed.IsZero() {
		observed = time.Now()
	}
	_, err = s.pool.Exec(ctx, sqlInsertOutcome,
		uuid.NewString(), o.TaskID, key, o.Prompt, o.URL,
		o.Success, o.Score, o.Error, actions, observed.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

// SavePatterns upserts every pattern in one transaction.
func (s *Store) SavePatterns(ctx context.Context, patterns []memory.PatternStats) error {
	if len(patterns) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	batch := &pgx.Batch{}
	for _, p := range patterns {
		actions, err := json.Marshal(p.Actions)
		if err != nil {
			return fmt.Errorf("failed to encode actions for pattern %s: %w", p.Key, err)
		}
		task, err := json.Marshal(p.Task)
		if err != nil {
			return fmt.Errorf("failed to encode task for pattern %s: %w", p.Key, err)
		}
		batch.Queue(sqlUpsertPattern, p.Key, p.Successes, p.Failures, actions, task, p.Updated.UTC())
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	for i := range patterns {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to upsert pattern %s (index %d): %w", patterns[i].Key, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadPatterns returns every stored pattern, newest first.
func (s *Store) LoadPatterns(ctx context.Context) ([]memory.PatternStats, error) {
	rows, err := s.pool.Query(ctx, sqlSelectPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var out []memory.PatternStats
	for rows.Next() {
		var (
			p             memory.PatternStats
			actions, task []byte
		)
		if err := rows.Scan(&p.Key, &p.Successes, &p.Failures, &actions, &task, &p.Updated); err != nil {
			return nil, fmt.Errorf("failed to scan pattern row: %w", err)
		}
		if err := json.Unmarshal(actions, &p.Actions); err != nil {
			return nil, fmt.Errorf("failed to decode actions for pattern %s: %w", p.Key, err)
		}
		if err := json.Unmarshal(task, &p.Task); err != nil {
			return nil, fmt.Errorf("failed to decode task for pattern %s: %w", p.Key, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
