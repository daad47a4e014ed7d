package transform

import (
	"context"

	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/storage"
)

// mapFunc maps one raw row to zero or one ontology-row field set. Returning
// (nil, nil) means the row does not belong in this target (spec §4.7:
// "zero is valid"). Fan-out to multiple target tables from one raw row is
// modeled as multiple catalog entries, one per target, each with its own
// mapFunc — not as one mapFunc returning many rows.
type mapFunc func(ctx context.Context, gw storage.Gateway, row storage.RawRow) (map[string]any, error)

// runRawToOntology implements the per-transform algorithm in spec §4.7:
// load the checkpoint (the highest raw-row id previously processed for this
// target), scope a bounded batch of raw rows with a higher id, map each
// one, upsert whatever the mapper produced, and advance the checkpoint to
// the batch's highest row id — but only after every row in the batch is
// durably upserted, so a mid-batch failure leaves the checkpoint untouched
// and the batch is safely reprocessed (idempotent upserts).
func runRawToOntology(ctx context.Context, gw storage.Gateway, pair Pair, sourceProvider string, sourceID string, limit int, mapRow mapFunc) (Result, error) {
	since, err := loadCursorCheckpoint(ctx, gw, sourceID, pair)
	if err != nil {
		return Result{}, err
	}

	rows, err := gw.ListRawRows(ctx, pair.SourceTable, sourceID, since, limit)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.ClassServerTransient, "scope raw rows for transform", err)
	}

	result := Result{RecordsIn: len(rows), Status: "success"}
	newest := since
	for _, row := range rows {
		fields, mapErr := mapRow(ctx, gw, row)
		if mapErr != nil {
			return result, apperr.Wrap(apperr.ClassOf(mapErr), "map raw row to ontology row", mapErr)
		}
		if fields != nil {
			if err := gw.UpsertOntologyRow(ctx, pair.TargetTable, storage.OntologyRow{
				SourceStreamID: row.ID,
				SourceTable:    pair.SourceTable,
				SourceProvider: sourceProvider,
				Fields:         fields,
			}); err != nil {
				return result, apperr.Wrap(apperr.ClassServerTransient, "upsert ontology row", err)
			}
			result.RecordsOut++
		}
		if row.ID > newest {
			newest = row.ID
		}
	}

	if len(rows) > 0 {
		if err := saveCursorCheckpoint(ctx, gw, sourceID, pair, newest); err != nil {
			return result, apperr.Wrap(apperr.ClassServerTransient, "advance transform checkpoint", err)
		}
	}
	return result, nil
}

// runOntologyToOntology is runRawToOntology's counterpart for a second-stage
// transform whose input is itself an ontology table (e.g.
// audio_transcript -> knowledge_note), per spec §9's chained-transform
// example. upstreamRawTable identifies which raw table originally produced
// the rows in pair.SourceTable, since rows written by runRawToOntology carry
// that raw table as OntologyRow.SourceTable. Rows written here carry
// pair.SourceTable (the prior ontology stage) instead.
type ontologyMapFunc func(ctx context.Context, gw storage.Gateway, row storage.OntologyRow) (map[string]any, error)

func runOntologyToOntology(ctx context.Context, gw storage.Gateway, pair Pair, upstreamRawTable, sourceProvider, sourceID string, limit int, mapRow ontologyMapFunc) (Result, error) {
	since, err := loadTimeCheckpoint(ctx, gw, sourceID, pair)
	if err != nil {
		return Result{}, err
	}

	rows, err := gw.ListOntologyRows(ctx, pair.SourceTable, upstreamRawTable, since, limit)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.ClassServerTransient, "scope ontology rows for chained transform", err)
	}

	result := Result{RecordsIn: len(rows), Status: "success"}
	newest := since
	for _, row := range rows {
		fields, mapErr := mapRow(ctx, gw, row)
		if mapErr != nil {
			return result, apperr.Wrap(apperr.ClassOf(mapErr), "map ontology row to downstream ontology row", mapErr)
		}
		if fields != nil {
			if err := gw.UpsertOntologyRow(ctx, pair.TargetTable, storage.OntologyRow{
				SourceStreamID: row.SourceStreamID,
				SourceTable:    pair.SourceTable,
				SourceProvider: sourceProvider,
				Fields:         fields,
			}); err != nil {
				return result, apperr.Wrap(apperr.ClassServerTransient, "upsert downstream ontology row", err)
			}
			result.RecordsOut++
		}
		if row.UpdatedAt.After(newest) {
			newest = row.UpdatedAt
		}
	}

	if len(rows) > 0 {
		if err := saveTimeCheckpoint(ctx, gw, sourceID, pair, newest); err != nil {
			return result, apperr.Wrap(apperr.ClassServerTransient, "advance chained transform checkpoint", err)
		}
	}
	return result, nil
}
