package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Nadosaurusrex/devin-proj/internal/devin"
)

// PGRepo implements Repo using Postgres. The result payload is stored as
// jsonb next to its kind discriminant because the wire encoding omits it.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new job row.
func (r *PGRepo) Create(ctx context.Context, job Job) error {
	const query = `
INSERT INTO jobs (id, type, status, session_id, logs, result, result_kind, error, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULL, NULL, $6, $7, $8, $9)`
	logsPayload, err := json.Marshal(job.Logs)
	if err != nil {
		return err
	}
	metaPayload, err := json.Marshal(job.Metadata)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		job.ID,
		job.Type,
		job.Status,
		nullString(job.SessionID),
		logsPayload,
		job.Error,
		metaPayload,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// GetByID returns a job by ID.
func (r *PGRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	const query = `
SELECT id, type, status, session_id, logs, result, result_kind, error, metadata, created_at, updated_at
FROM jobs
WHERE id = $1
LIMIT 1`
	var job Job
	var sessionID sql.NullString
	var logsRaw []byte
	var resultRaw []byte
	var resultKind sql.NullString
	var errMsg sql.NullString
	var metaRaw []byte
	err := r.DB.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&sessionID,
		&logsRaw,
		&resultRaw,
		&resultKind,
		&errMsg,
		&metaRaw,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	job.SessionID = sessionID.String
	job.Error = errMsg.String
	if err := json.Unmarshal(logsRaw, &job.Logs); err != nil {
		return Job{}, fmt.Errorf("decode job logs: %w", err)
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &job.Metadata); err != nil {
			return Job{}, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	if len(resultRaw) > 0 && resultKind.Valid {
		result, err := decodeStoredResult(devin.ResultKind(resultKind.String), resultRaw)
		if err != nil {
			return Job{}, err
		}
		job.Result = &result
	}
	return job, nil
}

// AttachSession records the upstream session handle.
func (r *PGRepo) AttachSession(ctx context.Context, jobID, sessionID string) error {
	const query = `UPDATE jobs SET session_id = $2, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, jobID, query, sessionID, time.Now().UTC())
}

// SetStatus overwrites the job status.
func (r *PGRepo) SetStatus(ctx context.Context, jobID string, status devin.Status) error {
	const query = `UPDATE jobs SET status = $2, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, jobID, query, status, time.Now().UTC())
}

// AppendLog appends one entry to the jsonb log array.
func (r *PGRepo) AppendLog(ctx context.Context, jobID string, level LogLevel, message string) error {
	entry := LogEntry{Timestamp: time.Now().UTC(), Level: level, Message: message}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	const query = `UPDATE jobs SET logs = logs || $2::jsonb, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, jobID, query, payload, time.Now().UTC())
}

// SetResult stores the result and forces status to completed. A row that
// already holds a result is left untouched; the guard lives in the WHERE
// clause so concurrent writers cannot both win.
func (r *PGRepo) SetResult(ctx context.Context, jobID string, result devin.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	const query = `
UPDATE jobs SET result = $2, result_kind = $3, status = $4, updated_at = $5
WHERE id = $1 AND result IS NULL`
	res, err := r.DB.ExecContext(ctx, query, jobID, payload, result.Kind, devin.StatusCompleted, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the job is missing or a result already landed.
		return r.exists(ctx, jobID)
	}
	return nil
}

// SetError stores the error message and forces status to failed.
func (r *PGRepo) SetError(ctx context.Context, jobID, message string) error {
	const query = `UPDATE jobs SET error = $2, status = $3, updated_at = $4 WHERE id = $1`
	return r.exec(ctx, jobID, query, message, devin.StatusFailed, time.Now().UTC())
}

func (r *PGRepo) exec(ctx context.Context, jobID, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, append([]any{jobID}, args...)...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) exists(ctx context.Context, jobID string) error {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = $1`, jobID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func decodeStoredResult(kind devin.ResultKind, raw []byte) (devin.Result, error) {
	switch kind {
	case devin.ResultAnalysis:
		var analysis devin.AnalysisResult
		if err := json.Unmarshal(raw, &analysis); err != nil {
			return devin.Result{}, fmt.Errorf("decode analysis result: %w", err)
		}
		return devin.Result{Kind: kind, Analysis: &analysis}, nil
	case devin.ResultRemoval:
		var removal devin.RemovalResult
		if err := json.Unmarshal(raw, &removal); err != nil {
			return devin.Result{}, fmt.Errorf("decode removal result: %w", err)
		}
		return devin.Result{Kind: kind, Removal: &removal}, nil
	default:
		return devin.Result{}, fmt.Errorf("unknown stored result kind %q", kind)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Repo = (*PGRepo)(nil)
