// Package transform turns raw provider rows into canonical ontology rows
// (spec §4.7). Each Transform owns one (source_table, target_table) pair;
// the catalog is the only routing a transform job ever needs.
package transform

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fernfall/dayline/internal/storage"
)

// Pair names a (source_table, target_table) edge in the transform DAG.
type Pair struct {
	SourceTable string
	TargetTable string
}

// Result reports what one transform invocation did. ChainedTransforms
// declares follow-on pairs the scheduler should enqueue as children of this
// job (spec §4.7 step 7) — a transform never enqueues its own follow-on
// work, keeping every stage independently retryable.
type Result struct {
	RecordsIn         int
	RecordsOut        int
	ChainedTransforms []Pair
	Status            string
}

// Transform maps rows from one source table into rows in one target table.
type Transform interface {
	SourceTable() string
	TargetTable() string
	Domain() string
	Run(ctx context.Context, gw storage.Gateway, sourceID string, limit int) (Result, error)
}

// checkpointKey is the per-pair checkpoint storage key (spec §4.7 step 2):
// the highest raw-row id previously processed for this target.
func checkpointKey(sourceID string, pair Pair) string {
	return fmt.Sprintf("transform:%s:%s:%s", sourceID, pair.SourceTable, pair.TargetTable)
}

// loadCursorCheckpoint reads the last raw-row id consumed for pair, or 0 if
// there is no prior checkpoint.
func loadCursorCheckpoint(ctx context.Context, gw storage.Gateway, sourceID string, pair Pair) (int64, error) {
	raw, err := gw.GetCheckpoint(ctx, checkpointKey(sourceID, pair))
	if err != nil || raw == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return parsed, nil
}

func saveCursorCheckpoint(ctx context.Context, gw storage.Gateway, sourceID string, pair Pair, id int64) error {
	return gw.SetCheckpoint(ctx, checkpointKey(sourceID, pair), strconv.FormatInt(id, 10))
}

// loadTimeCheckpoint and saveTimeCheckpoint back runOntologyToOntology's
// checkpoint, which scopes ListOntologyRows by updated_at rather than a raw
// row id: an ontology row has no sequential id of its own (SourceStreamID
// traces back to the upstream raw row, not this table), so the
// highest-id-processed scheme spec §4.7 step 2 prescribes for raw-row
// consumers doesn't carry over to this chained stage.
func loadTimeCheckpoint(ctx context.Context, gw storage.Gateway, sourceID string, pair Pair) (time.Time, error) {
	raw, err := gw.GetCheckpoint(ctx, checkpointKey(sourceID, pair))
	if err != nil || raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, nil
	}
	return parsed, nil
}

func saveTimeCheckpoint(ctx context.Context, gw storage.Gateway, sourceID string, pair Pair, at time.Time) error {
	return gw.SetCheckpoint(ctx, checkpointKey(sourceID, pair), at.Format(time.RFC3339Nano))
}

// defaultBatchLimit bounds how many raw rows one invocation scopes, per
// spec §4.7 step 2 ("bounded, e.g. 1,000 at a time").
const defaultBatchLimit = 1000

// Catalog maps (source_table, target_table) to the Transform that owns it
// — the only routing transform jobs ever use (spec §4.7).
type Catalog struct {
	byPair map[Pair]Transform
}

// NewCatalog builds a Catalog from a fixed set of transforms, registered
// once at process startup.
func NewCatalog(transforms ...Transform) *Catalog {
	c := &Catalog{byPair: map[Pair]Transform{}}
	for _, t := range transforms {
		c.byPair[Pair{SourceTable: t.SourceTable(), TargetTable: t.TargetTable()}] = t
	}
	return c
}

// Lookup resolves the Transform for one (source_table, target_table) pair.
func (c *Catalog) Lookup(sourceTable, targetTable string) (Transform, bool) {
	t, ok := c.byPair[Pair{SourceTable: sourceTable, TargetTable: targetTable}]
	return t, ok
}
