package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
)

func (s *Store) CreateJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = domain.JobPending
	}
	job.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs
			(id, kind, source_id, stream_kind, source_table, target_table, state, priority, attempts, last_error, error_class, parent_id, deadline, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, job.ID, job.Kind, job.Target.SourceID, job.Target.StreamKind, job.Target.SourceTable, job.Target.TargetTable,
		job.State, job.Priority, job.Attempts, job.LastError, job.ErrorClass, nullString(job.ParentID), nullTime(job.Deadline), job.CreatedAt)
	if err != nil {
		return domain.Job{}, apperr.Wrap(apperr.ClassServerTransient, "insert job", err)
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelect+` WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		return domain.Job{}, translateNotFound("job", id, err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	return s.queryJobs(ctx, jobSelect+` ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *Store) ListPendingJobs(ctx context.Context) ([]domain.Job, error) {
	return s.queryJobs(ctx, jobSelect+` WHERE state = 'pending' ORDER BY priority ASC, created_at ASC`)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.ClassServerTransient, "list jobs", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.ClassServerTransient, "scan job", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) UpdateState(ctx context.Context, id string, state domain.JobState, lastError, errorClass string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = $2, last_error = $3, error_class = $4 WHERE id = $1
	`, id, state, lastError, errorClass)
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "update job state", err)
	}
	return expectRowsAffected(result, "job", id)
}

func (s *Store) MarkStarted(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'running', started_at = $2, attempts = attempts + 1 WHERE id = $1
	`, id, at)
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "mark job started", err)
	}
	return expectRowsAffected(result, "job", id)
}

func (s *Store) MarkFinished(ctx context.Context, id string, at time.Time, state domain.JobState, lastError, errorClass string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = $2, finished_at = $3, last_error = $4, error_class = $5 WHERE id = $1
	`, id, state, at, lastError, errorClass)
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "mark job finished", err)
	}
	return expectRowsAffected(result, "job", id)
}

const jobSelect = `
	SELECT id, kind, source_id, stream_kind, source_table, target_table, state, priority, attempts, last_error, error_class, parent_id, deadline, created_at, started_at, finished_at
	FROM jobs`

func scanJob(scanner rowScanner) (domain.Job, error) {
	var (
		job                       domain.Job
		kind, state               string
		parentID                  sql.NullString
		deadline                  sql.NullTime
		startedAt, finishedAt     sql.NullTime
	)
	if err := scanner.Scan(&job.ID, &kind, &job.Target.SourceID, &job.Target.StreamKind, &job.Target.SourceTable, &job.Target.TargetTable,
		&state, &job.Priority, &job.Attempts, &job.LastError, &job.ErrorClass, &parentID, &deadline, &job.CreatedAt, &startedAt, &finishedAt); err != nil {
		return domain.Job{}, err
	}
	job.Kind = domain.JobKind(kind)
	job.State = domain.JobState(state)
	job.ParentID = parentID.String
	if deadline.Valid {
		job.Deadline = deadline.Time
	}
	if startedAt.Valid {
		job.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = finishedAt.Time
	}
	return job, nil
}

func (s *Store) AppendSyncLog(ctx context.Context, log domain.SyncLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs
			(id, job_id, source_id, stream_kind, mode, started_at, ended_at, duration_ms, records_fetched, records_written, records_failed, cursor_before, cursor_after, status, error_class, error_message)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, log.ID, log.JobID, log.SourceID, log.StreamKind, log.Mode, log.StartedAt, log.EndedAt, log.DurationMS,
		log.RecordsFetched, log.RecordsWritten, log.RecordsFailed, log.CursorBefore, log.CursorAfter, log.Status, log.ErrorClass, log.ErrorMessage)
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "append sync log", err)
	}
	return nil
}

func (s *Store) ListSyncLogs(ctx context.Context, sourceID string, limit int) ([]domain.SyncLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, source_id, stream_kind, mode, started_at, ended_at, duration_ms, records_fetched, records_written, records_failed, cursor_before, cursor_after, status, error_class, error_message
		FROM sync_logs WHERE source_id = $1 ORDER BY started_at DESC LIMIT $2
	`, sourceID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.ClassServerTransient, "list sync logs", err)
	}
	defer rows.Close()

	var out []domain.SyncLog
	for rows.Next() {
		var log domain.SyncLog
		var mode string
		if err := rows.Scan(&log.ID, &log.JobID, &log.SourceID, &log.StreamKind, &mode, &log.StartedAt, &log.EndedAt, &log.DurationMS,
			&log.RecordsFetched, &log.RecordsWritten, &log.RecordsFailed, &log.CursorBefore, &log.CursorAfter, &log.Status, &log.ErrorClass, &log.ErrorMessage); err != nil {
			return nil, apperr.Wrap(apperr.ClassServerTransient, "scan sync log", err)
		}
		log.Mode = domain.SyncMode(mode)
		out = append(out, log)
	}
	return out, rows.Err()
}

func (s *Store) GetCheckpoint(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperr.Wrap(apperr.ClassServerTransient, "read checkpoint", err)
	}
	return value, nil
}

func (s *Store) SetCheckpoint(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "write checkpoint", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
