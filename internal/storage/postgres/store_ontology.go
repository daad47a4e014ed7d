package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/storage"
)

// ResolveEntity returns the canonical_entities id for (kind, naturalKey),
// creating one if it does not already exist. This is the single place
// entity resolution happens, so every transform that needs to fan records
// into the shared identity graph calls through here rather than
// re-implementing get-or-create (spec §4.7).
func (s *Store) ResolveEntity(ctx context.Context, kind, naturalKey string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM canonical_entities WHERE kind = $1 AND natural_key = $2`, kind, naturalKey).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", apperr.Wrap(apperr.ClassServerTransient, "resolve canonical entity", err)
	}

	id = uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO canonical_entities (id, kind, natural_key, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (kind, natural_key) DO NOTHING
	`, id, kind, naturalKey, now)
	if err != nil {
		return "", apperr.Wrap(apperr.ClassServerTransient, "create canonical entity", err)
	}

	// Another writer may have raced us to the insert; re-read to get the
	// row that actually won.
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM canonical_entities WHERE kind = $1 AND natural_key = $2`, kind, naturalKey).Scan(&id); err != nil {
		return "", apperr.Wrap(apperr.ClassServerTransient, "reread canonical entity after insert race", err)
	}
	return id, nil
}

// UpsertOntologyRow writes one canonical row, idempotent on
// (source_stream_id, source_table) so re-running a transform over rows it
// already processed is a no-op overwrite rather than a duplicate (spec §8
// property 2). table and its field names are fixed, catalog-declared
// strings, never user input.
func (s *Store) UpsertOntologyRow(ctx context.Context, table string, row storage.OntologyRow) error {
	columns := make([]string, 0, len(row.Fields)+4)
	placeholders := make([]string, 0, len(row.Fields)+4)
	values := make([]any, 0, len(row.Fields)+4)

	add := func(col string, val any) {
		columns = append(columns, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(values)+1))
		values = append(values, val)
	}

	add("id", uuid.NewString())
	add("source_stream_id", row.SourceStreamID)
	add("source_table", row.SourceTable)
	add("source_provider", row.SourceProvider)

	fieldNames := make([]string, 0, len(row.Fields))
	for name := range row.Fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames) // deterministic column order keeps generated SQL stable across runs

	for _, name := range fieldNames {
		val := row.Fields[name]
		switch v := val.(type) {
		case map[string]any:
			encoded, err := json.Marshal(v)
			if err != nil {
				return apperr.Wrap(apperr.ClassValidation, "marshal ontology field "+name, err)
			}
			val = encoded
		case []string:
			val = pq.Array(v)
		}
		add(name, val)
	}

	updateSet := make([]string, 0, len(fieldNames))
	for _, name := range fieldNames {
		updateSet = append(updateSet, fmt.Sprintf("%s = EXCLUDED.%s", name, name))
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (source_stream_id, source_table) DO UPDATE SET %s
	`, table, strings.Join(columns, ", "), strings.Join(placeholders, ", "), strings.Join(updateSet, ", "))

	if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "upsert ontology row into "+table, err)
	}
	return nil
}

// ontologyFixedColumns are present on every ontology table and are surfaced
// as OntologyRow struct fields rather than in Fields.
var ontologyFixedColumns = map[string]bool{
	"id": true, "source_stream_id": true, "source_table": true,
	"source_provider": true, "created_at": true, "updated_at": true,
}

// ListOntologyRows reads back canonical rows written into table, scoped to
// sourceTable and updated after since. It backs the second stage of a
// chained transform (e.g. audio_transcript -> knowledge_note), where the
// checkpoint is the updated_at of the last row consumed rather than a raw
// row id (spec §4.7's checkpoint concept, adapted to this store's
// timestamp-scoped read path — see DESIGN.md).
func (s *Store) ListOntologyRows(ctx context.Context, table, sourceTable string, since time.Time, limit int) ([]storage.OntologyRow, error) {
	query := fmt.Sprintf(`
		SELECT * FROM %s
		WHERE source_table = $1 AND updated_at > $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, table)

	rows, err := s.db.QueryxContext(ctx, query, sourceTable, since, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.ClassServerTransient, "list ontology rows from "+table, err)
	}
	defer rows.Close()

	var out []storage.OntologyRow
	for rows.Next() {
		raw := map[string]any{}
		if err := rows.MapScan(raw); err != nil {
			return nil, apperr.Wrap(apperr.ClassServerTransient, "scan ontology row from "+table, err)
		}
		out = append(out, ontologyRowFromMap(raw))
	}
	return out, rows.Err()
}

func ontologyRowFromMap(raw map[string]any) storage.OntologyRow {
	row := storage.OntologyRow{Fields: map[string]any{}}
	for col, val := range raw {
		switch col {
		case "id":
			row.ID = toStringColumn(val)
		case "source_stream_id":
			row.SourceStreamID = toInt64Column(val)
		case "source_table":
			row.SourceTable = toStringColumn(val)
		case "source_provider":
			row.SourceProvider = toStringColumn(val)
		case "updated_at":
			if t, ok := val.(time.Time); ok {
				row.UpdatedAt = t
			}
		case "created_at":
			// not surfaced; ontology rows report freshness via updated_at
		default:
			row.Fields[col] = val
		}
	}
	return row
}

func toStringColumn(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt64Column(val any) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}
