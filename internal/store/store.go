// Package store archives finished traces in PostgreSQL. The engine never reads from it;
// hosts use it to share and revisit traces.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when no archived trace has the requested id.
var ErrNotFound = errors.New("trace not found in archive")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ArchivedTrace is a trace as stored. Steps hold the JSON rendering of trace.Step values.
type ArchivedTrace struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Domain       string              `json:"domain"`
	Source       string              `json:"source"`
	Steps        jsoniter.RawMessage `json:"steps"`
	Annotation   string              `json:"annotation"`
	FindingCount int                 `json:"findingCount"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// Summary is one row of a trace listing.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Domain       string    `json:"domain"`
	StepCount    int       `json:"stepCount"`
	FindingCount int       `json:"findingCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store provides the PostgreSQL trace archive.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
        CREATE TABLE IF NOT EXISTS traces (
            id            UUID PRIMARY KEY,
            name          TEXT NOT NULL,
            domain        TEXT NOT NULL,
            source        TEXT NOT NULL,
            steps         JSONB NOT NULL,
            step_count    INTEGER NOT NULL,
            finding_count INTEGER NOT NULL,
            annotation    TEXT NOT NULL,
            created_at    TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS traces_created_at_idx ON traces (created_at DESC);
    `

// EnsureSchema creates the archive table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create trace archive schema: %w", err)
	}
	return nil
}

const upsertTraceSQL = `
        INSERT INTO traces (id, name, domain, source, steps, step_count, finding_count, annotation, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            annotation = EXCLUDED.annotation;
    `

// SaveTrace archives t. Trace ids are derived from domain and source, so saving the same
// build twice only refreshes its name and annotation.
func (s *Store) SaveTrace(ctx context.Context, t *trace.Trace) error {
	steps, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps of trace %s: %w", t.ID, err)
	}
	_, err = s.pool.Exec(ctx, upsertTraceSQL,
		t.ID, t.Name, string(t.Domain), t.Source,
		steps, len(t.Steps), len(t.Findings()), t.Annotation,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive trace %s: %w", t.ID, err)
	}
	s.log.Debug("Trace archived.", zap.String("id", t.ID), zap.Int("steps", len(t.Steps)))
	return nil
}

const getTraceSQL = `
        SELECT id, name, domain, source, steps, annotation, finding_count, created_at
        FROM traces
        WHERE id = $1;
    `

// GetTrace loads one archived trace.
func (s *Store) GetTrace(ctx context.Context, id string) (*ArchivedTrace, error) {
	var t ArchivedTrace
	var steps []byte
	err := s.pool.QueryRow(ctx, getTraceSQL, id).Scan(
		&t.ID, &t.Name, &t.Domain, &t.Source, &steps, &t.Annotation, &t.FindingCount, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trace %s: %w", id, err)
	}
	t.Steps = steps
	return &t, nil
}

const listTracesSQL = `
        SELECT id, name, domain, step_count, finding_count, created_at
        FROM traces
        ORDER BY created_at DESC
        LIMIT $1;
    `

// ListTraces returns the most recently archived traces, newest first.
func (s *Store) ListTraces(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, listTracesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Domain, &sum.StepCount, &sum.FindingCount, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trace row: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return summaries, nil
}
