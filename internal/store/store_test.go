package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-wizard/internal/common/database"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(&database.PostgresClient{DB: db}, logger.NewTestLogger(t)), mock
}

func sampleSummary() *models.SessionSummary {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &models.SessionSummary{
		SessionID:   "f3f0a1d2-0000-4000-8000-000000000001",
		Utterance:   "deploy a network with two subnets",
		Provider:    "aws",
		Region:      "us-east-1",
		Environment: "dev",
		Status:      models.StatusSuccess,
		Counts: map[models.ResourceKind]int{
			models.KindNetwork: 1,
			models.KindSubnet:  2,
		},
		Warnings: []models.Warning{
			{Code: "STALE_CAPABILITY_DATA", Message: "served from snapshot"},
		},
		Artifacts: []models.ArtifactInfo{
			{Path: "environments/dev/main.tf", SHA256: "abc", Bytes: 120},
		},
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
	}
}

func TestEnsureSchema(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_Upsert(t *testing.T) {
	s, mock := newMockStore(t)
	summary := sampleSummary()

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(
			summary.SessionID,
			summary.Utterance,
			"aws",
			"us-east-1",
			"dev",
			"success",
			sqlmock.AnyArg(), // counts
			sqlmock.AnyArg(), // warnings
			sqlmock.AnyArg(), // artifacts
			summary.StartedAt,
			summary.FinishedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Save(context.Background(), summary))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_RoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	want := sampleSummary()

	rows := sqlmock.NewRows([]string{
		"id", "utterance", "provider", "region", "environment", "status",
		"counts", "warnings", "artifacts", "started_at", "finished_at",
	}).AddRow(
		want.SessionID, want.Utterance, want.Provider, want.Region,
		want.Environment, string(want.Status),
		[]byte(`{"network":1,"subnet":2}`),
		[]byte(`[{"code":"STALE_CAPABILITY_DATA","message":"served from snapshot"}]`),
		[]byte(`[{"path":"environments/dev/main.tf","sha256":"abc","bytes":120}]`),
		want.StartedAt, want.FinishedAt,
	)
	mock.ExpectQuery("SELECT .+ FROM sessions WHERE id").
		WithArgs(want.SessionID).
		WillReturnRows(rows)

	got, err := s.Get(context.Background(), want.SessionID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM sessions WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestList_OrdersNewestFirst(t *testing.T) {
	s, mock := newMockStore(t)
	want := sampleSummary()

	rows := sqlmock.NewRows([]string{
		"id", "utterance", "provider", "region", "environment", "status",
		"counts", "warnings", "artifacts", "started_at", "finished_at",
	}).AddRow(
		want.SessionID, want.Utterance, want.Provider, want.Region,
		want.Environment, string(want.Status),
		[]byte(`{"network":1,"subnet":2}`),
		[]byte(`[{"code":"STALE_CAPABILITY_DATA","message":"served from snapshot"}]`),
		[]byte(`[{"path":"environments/dev/main.tf","sha256":"abc","bytes":120}]`),
		want.StartedAt, want.FinishedAt,
	)
	mock.ExpectQuery("SELECT .+ FROM sessions ORDER BY started_at DESC LIMIT").
		WithArgs(10).
		WillReturnRows(rows)

	got, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
