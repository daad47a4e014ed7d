package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
)

func (s *Store) CreateStream(ctx context.Context, sc domain.StreamConnection) (domain.StreamConnection, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_connections
			(id, source_id, stream_kind, enabled, cadence, backfill_window_days, cursor, last_run_at, last_status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sc.ID, sc.SourceID, sc.StreamKind, sc.Enabled, sc.Cadence, sc.BackfillWindowDays, sc.Cursor, nullTime(sc.LastRunAt), sc.LastStatus, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return domain.StreamConnection{}, apperr.Wrap(apperr.ClassServerTransient, "insert stream connection", err)
	}
	return sc, nil
}

func (s *Store) GetStream(ctx context.Context, sourceID, streamKind string) (domain.StreamConnection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, stream_kind, enabled, cadence, backfill_window_days, cursor, last_run_at, last_status, created_at, updated_at
		FROM stream_connections WHERE source_id = $1 AND stream_kind = $2
	`, sourceID, streamKind)
	sc, err := scanStream(row)
	if err != nil {
		return domain.StreamConnection{}, translateNotFound("stream_connection", sourceID+":"+streamKind, err)
	}
	return sc, nil
}

func (s *Store) ListStreams(ctx context.Context, sourceID string) ([]domain.StreamConnection, error) {
	return s.queryStreams(ctx, `
		SELECT id, source_id, stream_kind, enabled, cadence, backfill_window_days, cursor, last_run_at, last_status, created_at, updated_at
		FROM stream_connections WHERE source_id = $1 ORDER BY stream_kind
	`, sourceID)
}

func (s *Store) ListEnabledStreams(ctx context.Context) ([]domain.StreamConnection, error) {
	return s.queryStreams(ctx, `
		SELECT id, source_id, stream_kind, enabled, cadence, backfill_window_days, cursor, last_run_at, last_status, created_at, updated_at
		FROM stream_connections WHERE enabled = true
	`)
}

func (s *Store) queryStreams(ctx context.Context, query string, args ...any) ([]domain.StreamConnection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.ClassServerTransient, "list stream connections", err)
	}
	defer rows.Close()

	var out []domain.StreamConnection
	for rows.Next() {
		sc, err := scanStream(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.ClassServerTransient, "scan stream connection", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateLastRun(ctx context.Context, sourceID, streamKind string, at time.Time, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stream_connections SET last_run_at = $3, last_status = $4, updated_at = $3
		WHERE source_id = $1 AND stream_kind = $2
	`, sourceID, streamKind, at, status)
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "update stream last run", err)
	}
	return expectRowsAffected(result, "stream_connection", sourceID+":"+streamKind)
}

func (s *Store) SetEnabled(ctx context.Context, sourceID, streamKind string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stream_connections SET enabled = $3, updated_at = $4 WHERE source_id = $1 AND stream_kind = $2
	`, sourceID, streamKind, enabled, time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "set stream enabled", err)
	}
	return expectRowsAffected(result, "stream_connection", sourceID+":"+streamKind)
}

// GetCursor/SetCursor implement streamdriver.CursorStore directly against
// stream_connections.cursor, so the same row a driver's Sync call reads its
// window state from is the row the scheduler reports cadence/status on.
func (s *Store) GetCursor(ctx context.Context, sourceID, streamKind string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM stream_connections WHERE source_id = $1 AND stream_kind = $2`, sourceID, streamKind).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperr.Wrap(apperr.ClassServerTransient, "read stream cursor", err)
	}
	return cursor, nil
}

func (s *Store) SetCursor(ctx context.Context, sourceID, streamKind, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stream_connections SET cursor = $3, updated_at = $4 WHERE source_id = $1 AND stream_kind = $2
	`, sourceID, streamKind, cursor, time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "write stream cursor", err)
	}
	return nil
}

func scanStream(scanner rowScanner) (domain.StreamConnection, error) {
	var (
		sc        domain.StreamConnection
		lastRunAt sql.NullTime
	)
	if err := scanner.Scan(&sc.ID, &sc.SourceID, &sc.StreamKind, &sc.Enabled, &sc.Cadence, &sc.BackfillWindowDays, &sc.Cursor, &lastRunAt, &sc.LastStatus, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return domain.StreamConnection{}, err
	}
	if lastRunAt.Valid {
		sc.LastRunAt = lastRunAt.Time
	}
	return sc, nil
}
