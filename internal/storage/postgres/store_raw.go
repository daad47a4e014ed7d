package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/storage"
	"github.com/fernfall/dayline/internal/streamdriver"
)

// UpsertRawRows lands a batch of provider records into tableName, keyed by
// (source_id, provider_record_id) per the stream's idempotence invariant.
// tableName always comes from registry.StreamTableName, never user input,
// so interpolating it into the query is safe.
func (s *Store) UpsertRawRows(ctx context.Context, tableName, sourceID string, records []streamdriver.RawRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, apperr.Wrap(apperr.ClassServerTransient, "begin raw row transaction", err)
	}
	defer tx.Rollback()

	// ingested_at is set on insert only (spec §4.3): a re-ingest of an
	// existing (source_id, provider_record_id) row overwrites the timestamp
	// and payload columns but keeps the original ingestion time, so
	// ON CONFLICT preserves the target table's own ingested_at rather than
	// taking the EXCLUDED one.
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (source_id, provider_record_id, occurred_at, payload, blob_key, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_id, provider_record_id) DO UPDATE
		SET occurred_at = EXCLUDED.occurred_at, payload = EXCLUDED.payload, blob_key = EXCLUDED.blob_key, ingested_at = %[1]s.ingested_at
	`, tableName)

	written := 0
	for _, rec := range records {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return written, apperr.Wrap(apperr.ClassValidation, "marshal raw payload", err)
		}
		if _, err := tx.ExecContext(ctx, query, sourceID, rec.ProviderRecordID, rec.OccurredAt, payload, nullString(rec.BlobKey), time.Now().UTC()); err != nil {
			return written, apperr.Wrap(apperr.ClassServerTransient, "upsert raw row into "+tableName, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Wrap(apperr.ClassServerTransient, "commit raw row transaction", err)
	}
	return written, nil
}

// ListRawRows scopes by row id (spec §4.7 step 2's checkpoint: the highest
// raw-row id previously processed for this target), not ingested_at — a
// shared ingested_at across one upsert batch would otherwise let a later
// batch landing on the same timestamp be silently skipped forever.
func (s *Store) ListRawRows(ctx context.Context, tableName, sourceID string, since int64, limit int) ([]storage.RawRow, error) {
	query := fmt.Sprintf(`
		SELECT id, source_id, provider_record_id, occurred_at, payload, blob_key, ingested_at
		FROM %s WHERE source_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3
	`, tableName)
	rows, err := s.db.QueryContext(ctx, query, sourceID, since, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.ClassServerTransient, "list raw rows from "+tableName, err)
	}
	defer rows.Close()

	var out []storage.RawRow
	for rows.Next() {
		var (
			row        storage.RawRow
			payloadRaw []byte
			blobKey    *string
		)
		if err := rows.Scan(&row.ID, &row.SourceID, &row.ProviderRecordID, &row.OccurredAt, &payloadRaw, &blobKey, &row.IngestedAt); err != nil {
			return nil, apperr.Wrap(apperr.ClassServerTransient, "scan raw row from "+tableName, err)
		}
		if blobKey != nil {
			row.BlobKey = *blobKey
		}
		if len(payloadRaw) > 0 {
			if err := json.Unmarshal(payloadRaw, &row.Payload); err != nil {
				return nil, apperr.Wrap(apperr.ClassServerTransient, "unmarshal raw payload", err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
