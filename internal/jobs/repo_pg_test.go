package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Nadosaurusrex/devin-proj/internal/devin"
)

func newPGRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoCreate(t *testing.T) {
	repo, mock := newPGRepo(t)
	job := New(TypeAnalyze, Metadata{Owner: "acme", Repo: "webapp", Branch: "main", Flags: []string{"x"}})
	job.SessionID = "sess-1"

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			job.ID,
			job.Type,
			job.Status,
			sqlmock.AnyArg(), // session_id
			sqlmock.AnyArg(), // logs
			job.Error,
			sqlmock.AnyArg(), // metadata
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByID(t *testing.T) {
	repo, mock := newPGRepo(t)

	logs, _ := json.Marshal([]LogEntry{{Timestamp: time.Now().UTC(), Level: LevelInfo, Message: "started"}})
	meta, _ := json.Marshal(Metadata{Owner: "acme", Repo: "webapp", Branch: "main", Flags: []string{"x"}})
	result := []byte(`{"pr_url": "https://github.com/acme/webapp/pull/3", "summary": {"flags_removed": ["x"], "files_changed": 1}}`)

	rows := sqlmock.NewRows([]string{
		"id", "type", "status", "session_id", "logs", "result", "result_kind", "error", "metadata", "created_at", "updated_at",
	}).AddRow(
		"job-1", "remove", "completed", "sess-1", logs, result, "removal", nil, meta, time.Now().UTC(), time.Now().UTC(),
	)
	mock.ExpectQuery("SELECT id, type, status, session_id").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := repo.GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Type != TypeRemove || job.Status != devin.StatusCompleted {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(job.Logs) != 1 || job.Logs[0].Message != "started" {
		t.Fatalf("logs not decoded: %+v", job.Logs)
	}
	if job.Result == nil || job.Result.Kind != devin.ResultRemoval || job.Result.Removal.PRURL == "" {
		t.Fatalf("result not decoded: %+v", job.Result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	repo, mock := newPGRepo(t)

	mock.ExpectQuery("SELECT id, type, status, session_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoSetResultGuardsExisting(t *testing.T) {
	repo, mock := newPGRepo(t)
	result := devin.Result{Kind: devin.ResultAnalysis, Analysis: &devin.AnalysisResult{}}

	// Zero rows touched but the job exists: a result already landed.
	mock.ExpectExec("UPDATE jobs SET result").
		WithArgs("job-1", sqlmock.AnyArg(), result.Kind, devin.StatusCompleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM jobs").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	if err := repo.SetResult(context.Background(), "job-1", result); err != nil {
		t.Fatalf("SetResult on existing result must be a no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSetResultUnknownJob(t *testing.T) {
	repo, mock := newPGRepo(t)
	result := devin.Result{Kind: devin.ResultAnalysis, Analysis: &devin.AnalysisResult{}}

	mock.ExpectExec("UPDATE jobs SET result").
		WithArgs("missing", sqlmock.AnyArg(), result.Kind, devin.StatusCompleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM jobs").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	if err := repo.SetResult(context.Background(), "missing", result); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoAppendLog(t *testing.T) {
	repo, mock := newPGRepo(t)

	mock.ExpectExec("UPDATE jobs SET logs").
		WithArgs("job-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.AppendLog(context.Background(), "job-1", LevelInfo, "hello"); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSetErrorUnknownJob(t *testing.T) {
	repo, mock := newPGRepo(t)

	mock.ExpectExec("UPDATE jobs SET error").
		WithArgs("missing", "boom", devin.StatusFailed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.SetError(context.Background(), "missing", "boom"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
