// Package storage defines the segregated persistence interfaces the ELT
// engine depends on (spec §4.8). Concrete implementations live in
// storage/postgres (the production gateway) and storage/memstore (an
// in-memory implementation used by scheduler/transform tests).
package storage

import (
	"context"
	"time"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/streamdriver"
)

// SourceStore persists source connections and their credentials.
type SourceStore interface {
	CreateSource(ctx context.Context, sc domain.SourceConnection) (domain.SourceConnection, error)
	GetSource(ctx context.Context, id string) (domain.SourceConnection, error)
	ListSources(ctx context.Context) ([]domain.SourceConnection, error)
	UpdateCredentials(ctx context.Context, sourceID string, creds domain.Credentials) error
	SetActive(ctx context.Context, sourceID string, active bool) error
	SetNeedsReauth(ctx context.Context, sourceID string, needsReauth bool) error
	SetPairingStatus(ctx context.Context, sourceID string, status domain.PairingStatus) error
}

// StreamStore persists per-(source,stream) connection configuration.
type StreamStore interface {
	CreateStream(ctx context.Context, sc domain.StreamConnection) (domain.StreamConnection, error)
	GetStream(ctx context.Context, sourceID, streamKind string) (domain.StreamConnection, error)
	ListStreams(ctx context.Context, sourceID string) ([]domain.StreamConnection, error)
	ListEnabledStreams(ctx context.Context) ([]domain.StreamConnection, error)
	UpdateLastRun(ctx context.Context, sourceID, streamKind string, at time.Time, status string) error
	SetEnabled(ctx context.Context, sourceID, streamKind string, enabled bool) error
}

// JobStore persists scheduled job rows.
type JobStore interface {
	CreateJob(ctx context.Context, job domain.Job) (domain.Job, error)
	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)
	ListPendingJobs(ctx context.Context) ([]domain.Job, error)
	UpdateState(ctx context.Context, id string, state domain.JobState, lastError, errorClass string) error
	MarkStarted(ctx context.Context, id string, at time.Time) error
	MarkFinished(ctx context.Context, id string, at time.Time, state domain.JobState, lastError, errorClass string) error
}

// SyncLogStore persists the append-only sync audit trail.
type SyncLogStore interface {
	AppendSyncLog(ctx context.Context, log domain.SyncLog) error
	ListSyncLogs(ctx context.Context, sourceID string, limit int) ([]domain.SyncLog, error)
}

// CheckpointStore persists opaque cursors for streams and transform pairs,
// satisfying streamdriver.CursorStore as well as the transform engine's
// equivalent per-pair checkpoint need.
type CheckpointStore interface {
	streamdriver.CursorStore
	GetCheckpoint(ctx context.Context, key string) (string, error)
	SetCheckpoint(ctx context.Context, key, value string) error
}

// RawStore persists raw provider rows, keyed by (source_id,
// provider_record_id) per stream table, satisfying streamdriver.RawRowWriter.
// ListRawRows scopes by row id rather than ingested_at (spec §4.7 step 2):
// the checkpoint is the highest raw-row id previously processed.
type RawStore interface {
	streamdriver.RawRowWriter
	ListRawRows(ctx context.Context, tableName, sourceID string, since int64, limit int) ([]RawRow, error)
}

// RawRow is one persisted raw record, read back for transform dispatch.
type RawRow struct {
	ID               int64
	SourceID         string
	ProviderRecordID string
	OccurredAt       time.Time
	Payload          map[string]any
	BlobKey          string
	IngestedAt       time.Time
}

// OntologyStore persists canonical entities and typed ontology rows,
// keeping every write idempotent on (source_stream_id, source_table) per
// spec §3's ownership invariant.
type OntologyStore interface {
	ResolveEntity(ctx context.Context, kind, naturalKey string) (entityID string, err error)
	UpsertOntologyRow(ctx context.Context, table string, row OntologyRow) error
	ListOntologyRows(ctx context.Context, table, sourceTable string, since time.Time, limit int) ([]OntologyRow, error)
}

// OntologyRow is one canonical row a transform produces, traced back to its
// raw source. Fields holds every table-specific column, including any
// *_entity_id reference the transform resolved via OntologyStore.ResolveEntity
// — ontology tables name their entity-reference columns per relationship
// (e.g. from_entity_id), so there is no single fixed entity-id column here.
type OntologyRow struct {
	ID             string
	SourceStreamID int64
	SourceTable    string
	SourceProvider string
	Fields         map[string]any
	UpdatedAt      time.Time
}

// Gateway aggregates every storage interface a single backing store
// implements, mirroring how postgres.Store and memstore.Store are wired.
type Gateway interface {
	SourceStore
	StreamStore
	JobStore
	SyncLogStore
	CheckpointStore
	RawStore
	OntologyStore
}
