// Package streamdriver implements the per-(source,stream) Stream contract
// (spec §4.3): pull provider records (or, for device-backed streams, probe
// health) and land them as raw rows, advancing the cursor.
package streamdriver

import (
	"context"
	"time"

	"github.com/fernfall/dayline/internal/domain"
)

// Mode selects full-refresh or incremental sync behavior.
type Mode struct {
	Kind       domain.SyncMode
	WindowDays int // only meaningful when Kind == domain.ModeFullRefresh
}

// FullRefresh builds a Mode that ignores any existing cursor and walks a
// bounded window.
func FullRefresh(windowDays int) Mode {
	return Mode{Kind: domain.ModeFullRefresh, WindowDays: windowDays}
}

// Incremental builds a Mode that resumes from the stream's stored cursor.
func Incremental() Mode {
	return Mode{Kind: domain.ModeIncremental}
}

// SyncOutcome is the result of one Stream.Sync call.
type SyncOutcome struct {
	RecordsFetched int
	RecordsWritten int
	RecordsFailed  int
	CursorBefore   string
	CursorAfter    string
	Status         string // "success" | "failed" | "cancelled"
	ErrorClass     string
	// FellBackToFullRefresh is set when a CursorInvalid response caused the
	// driver to clear the checkpoint and retry once in full-refresh mode
	// within the same job (spec §4.3, S2).
	FellBackToFullRefresh bool
}

// Stream is the runtime contract every driver implements.
type Stream interface {
	// Sync pulls one window/page set of provider records and lands them as
	// raw rows, advancing the cursor as described by mode.
	Sync(ctx context.Context, mode Mode) (SyncOutcome, error)
}

// RawRecord is one provider record ready to be upserted by a RawRowWriter,
// already flattened to the columns every raw stream table shares.
type RawRecord struct {
	ProviderRecordID string
	OccurredAt       time.Time
	Payload          map[string]any
	BlobKey          string
}

// RawRowWriter is the storage-gateway slice a driver needs: idempotent
// upsert of raw rows for one (source, stream) pair, keyed by
// (source_id, provider_record_id), per spec §4.3's idempotence rule.
type RawRowWriter interface {
	UpsertRawRows(ctx context.Context, tableName, sourceID string, records []RawRecord) (written int, err error)
}

// CursorStore persists the opaque checkpoint for one (source, stream) pair.
type CursorStore interface {
	GetCursor(ctx context.Context, sourceID, streamKind string) (string, error)
	SetCursor(ctx context.Context, sourceID, streamKind, cursor string) error
}

// EnqueueTransforms schedules transform jobs for the target ontology tables
// a stream's raw table feeds, mirroring the follow-on work the ingest
// endpoint triggers (spec §4.4) and the scheduler's chaining rule (§4.6).
// sourceID identifies which source connection's rows the job should scope
// to — transform jobs serialize globally per (source_table, target_table)
// but still process one source's checkpoint at a time.
type EnqueueTransforms func(ctx context.Context, sourceID, sourceTable string, targetTables []string) error
