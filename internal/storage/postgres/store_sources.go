package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
)

func (s *Store) CreateSource(ctx context.Context, sc domain.SourceConnection) (domain.SourceConnection, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_connections
			(id, kind, display_name, auth_model, access_token, refresh_token, expires_at, device_id, device_token_hash, active, pairing_status, needs_reauth, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, sc.ID, sc.Kind, sc.DisplayName, sc.Auth, sc.Credentials.AccessToken, sc.Credentials.RefreshToken, nullTime(sc.Credentials.ExpiresAt),
		sc.Credentials.DeviceID, sc.Credentials.DeviceTokenHash, sc.Active, string(sc.PairingStatus), sc.NeedsReauth, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return domain.SourceConnection{}, apperr.Wrap(apperr.ClassServerTransient, "insert source connection", err)
	}
	return sc, nil
}

func (s *Store) GetSource(ctx context.Context, id string) (domain.SourceConnection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, display_name, auth_model, access_token, refresh_token, expires_at, device_id, device_token_hash, active, pairing_status, needs_reauth, created_at, updated_at
		FROM source_connections WHERE id = $1
	`, id)
	sc, err := scanSource(row)
	if err != nil {
		return domain.SourceConnection{}, translateNotFound("source_connection", id, err)
	}
	return sc, nil
}

func (s *Store) ListSources(ctx context.Context) ([]domain.SourceConnection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, display_name, auth_model, access_token, refresh_token, expires_at, device_id, device_token_hash, active, pairing_status, needs_reauth, created_at, updated_at
		FROM source_connections ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.ClassServerTransient, "list source connections", err)
	}
	defer rows.Close()

	var out []domain.SourceConnection
	for rows.Next() {
		sc, err := scanSource(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.ClassServerTransient, "scan source connection", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCredentials(ctx context.Context, sourceID string, creds domain.Credentials) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE source_connections
		SET access_token = $2, refresh_token = $3, expires_at = $4, device_id = $5, device_token_hash = $6, needs_reauth = false, updated_at = $7
		WHERE id = $1
	`, sourceID, creds.AccessToken, creds.RefreshToken, nullTime(creds.ExpiresAt), creds.DeviceID, creds.DeviceTokenHash, time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "update source credentials", err)
	}
	return expectRowsAffected(result, "source_connection", sourceID)
}

func (s *Store) SetActive(ctx context.Context, sourceID string, active bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE source_connections SET active = $2, updated_at = $3 WHERE id = $1`, sourceID, active, time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "set source active", err)
	}
	return expectRowsAffected(result, "source_connection", sourceID)
}

func (s *Store) SetNeedsReauth(ctx context.Context, sourceID string, needsReauth bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE source_connections SET needs_reauth = $2, updated_at = $3 WHERE id = $1`, sourceID, needsReauth, time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "set source needs_reauth", err)
	}
	return expectRowsAffected(result, "source_connection", sourceID)
}

func (s *Store) SetPairingStatus(ctx context.Context, sourceID string, status domain.PairingStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE source_connections SET pairing_status = $2, updated_at = $3 WHERE id = $1`, sourceID, string(status), time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "set source pairing status", err)
	}
	return expectRowsAffected(result, "source_connection", sourceID)
}

func scanSource(scanner rowScanner) (domain.SourceConnection, error) {
	var (
		sc            domain.SourceConnection
		auth          string
		pairingStatus string
		expiresAt     sql.NullTime
	)
	if err := scanner.Scan(&sc.ID, &sc.Kind, &sc.DisplayName, &auth, &sc.Credentials.AccessToken, &sc.Credentials.RefreshToken, &expiresAt,
		&sc.Credentials.DeviceID, &sc.Credentials.DeviceTokenHash, &sc.Active, &pairingStatus, &sc.NeedsReauth, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return domain.SourceConnection{}, err
	}
	sc.Auth = domain.AuthModel(auth)
	sc.PairingStatus = domain.PairingStatus(pairingStatus)
	if expiresAt.Valid {
		sc.Credentials.ExpiresAt = expiresAt.Time
	}
	return sc, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func expectRowsAffected(result sql.Result, entity, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "check rows affected", err)
	}
	if rows == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}
