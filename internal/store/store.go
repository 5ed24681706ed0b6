// Package store persists terminal session summaries for auditing.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"infra-wizard/internal/common/database"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/models"
)

// SessionStore records finished sessions and serves them back for review.
type SessionStore interface {
	Save(ctx context.Context, summary *models.SessionSummary) error
	Get(ctx context.Context, sessionID string) (*models.SessionSummary, error)
	List(ctx context.Context, limit int) ([]*models.SessionSummary, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    utterance   TEXT NOT NULL,
    provider    TEXT NOT NULL,
    region      TEXT NOT NULL,
    environment TEXT NOT NULL,
    status      TEXT NOT NULL,
    counts      JSONB NOT NULL DEFAULT '{}',
    warnings    JSONB NOT NULL DEFAULT '[]',
    artifacts   JSONB NOT NULL DEFAULT '[]',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
)`

const upsertQuery = `
INSERT INTO sessions (id, utterance, provider, region, environment, status, counts, warnings, artifacts, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    counts = EXCLUDED.counts,
    warnings = EXCLUDED.warnings,
    artifacts = EXCLUDED.artifacts,
    finished_at = EXCLUDED.finished_at`

const selectColumns = `id, utterance, provider, region, environment, status, counts, warnings, artifacts, started_at, finished_at`

// PostgresStore is the postgres-backed SessionStore.
type PostgresStore struct {
	db  *database.PostgresClient
	log logger.Logger
}

func NewPostgresStore(db *database.PostgresClient, log logger.Logger) *PostgresStore {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &PostgresStore{db: db, log: log}
}

// EnsureSchema creates the sessions table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}
	return nil
}

// Save upserts one summary; re-saving a session id updates its terminal state.
func (s *PostgresStore) Save(ctx context.Context, summary *models.SessionSummary) error {
	counts, err := json.Marshal(summary.Counts)
	if err != nil {
		return fmt.Errorf("encoding counts: %w", err)
	}
	warnings, err := json.Marshal(summary.Warnings)
	if err != nil {
		return fmt.Errorf("encoding warnings: %w", err)
	}
	artifacts, err := json.Marshal(summary.Artifacts)
	if err != nil {
		return fmt.Errorf("encoding artifacts: %w", err)
	}

	_, err = s.db.Exec(ctx, upsertQuery,
		summary.SessionID,
		summary.Utterance,
		summary.Provider,
		summary.Region,
		summary.Environment,
		string(summary.Status),
		counts,
		warnings,
		artifacts,
		summary.StartedAt,
		summary.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", summary.SessionID, err)
	}
	s.log.Debug("session saved", map[string]interface{}{
		"sessionId": summary.SessionID,
		"status":    string(summary.Status),
	})
	return nil
}

// Get returns the summary for a session id, or sql.ErrNoRows.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM sessions WHERE id = $1`, sessionID)
	return scanSummary(row)
}

// List returns the most recently started sessions, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*models.SessionSummary, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM sessions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.SessionSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner) (*models.SessionSummary, error) {
	var (
		summary   models.SessionSummary
		status    string
		counts    []byte
		warnings  []byte
		artifacts []byte
	)
	err := row.Scan(
		&summary.SessionID,
		&summary.Utterance,
		&summary.Provider,
		&summary.Region,
		&summary.Environment,
		&status,
		&counts,
		&warnings,
		&artifacts,
		&summary.StartedAt,
		&summary.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	summary.Status = models.SessionStatus(status)
	if err := json.Unmarshal(counts, &summary.Counts); err != nil {
		return nil, fmt.Errorf("decoding counts: %w", err)
	}
	if err := json.Unmarshal(warnings, &summary.Warnings); err != nil {
		return nil, fmt.Errorf("decoding warnings: %w", err)
	}
	if err := json.Unmarshal(artifacts, &summary.Artifacts); err != nil {
		return nil, fmt.Errorf("decoding artifacts: %w", err)
	}
	return &summary, nil
}

var _ SessionStore = (*PostgresStore)(nil)
var _ rowScanner = (*sql.Row)(nil)
