// Package domain holds the plain data structures shared across the ELT
// engine: source and stream connections, scheduled jobs, sync logs, and
// checkpoints. Nothing here talks to a database or the network; storage and
// transport packages translate to and from these types at their boundary.
package domain

import "time"

// AuthModel is the credential scheme a source kind requires.
type AuthModel string

const (
	AuthOAuth  AuthModel = "oauth"
	AuthDevice AuthModel = "device"
	AuthNone   AuthModel = "none"
)

// PairingStatus tracks a device-backed source connection through pairing.
type PairingStatus string

const (
	PairingNone     PairingStatus = ""
	PairingPending  PairingStatus = "pending"
	PairingActive   PairingStatus = "active"
	PairingRevoked  PairingStatus = "revoked"
)

// Credentials bundles whatever secret material a source connection carries.
// Exactly one of the OAuth or device fields is populated, depending on
// AuthModel. The storage gateways persist these fields as given; they do
// not apply platform/crypto's envelope encryption to them.
type Credentials struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`

	DeviceID       string `json:"device_id,omitempty"`
	DeviceTokenHash string `json:"device_token_hash,omitempty"`
}

// Expired reports whether the access token is absent or within safetyMargin
// of its expiry.
func (c Credentials) Expired(safetyMargin time.Duration, now time.Time) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-safetyMargin))
}

// SourceConnection is a configured instance of a source kind for the user.
type SourceConnection struct {
	ID            string
	Kind          string
	DisplayName   string
	Auth          AuthModel
	Credentials   Credentials
	Active        bool
	PairingStatus PairingStatus
	NeedsReauth   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StreamConnection is a (source, stream-kind) tuple with its own schedule
// and sync state.
type StreamConnection struct {
	ID                 string
	SourceID           string
	StreamKind         string
	Enabled            bool
	Cadence            string // cron expression, e.g. "*/15 * * * *"
	BackfillWindowDays int
	Cursor             string
	LastRunAt          time.Time
	LastStatus         string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// JobKind distinguishes sync work from transform work.
type JobKind string

const (
	JobSync      JobKind = "sync"
	JobTransform JobKind = "transform"
)

// JobState is the lifecycle state of a scheduled job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// JobPriority orders competing ready jobs; lower value runs first.
type JobPriority int

const (
	PriorityManual   JobPriority = 0
	PriorityChained  JobPriority = 1
	PriorityCadence  JobPriority = 2
)

// JobTarget names what a job operates on: for sync jobs, a source+stream
// pair; for transform jobs, a source-table/target-table pair.
type JobTarget struct {
	SourceID    string
	StreamKind  string
	SourceTable string
	TargetTable string
}

// SerializationKey is the identity under which the scheduler enforces
// at-most-one-running concurrency, per spec: "source_id:stream_kind" for
// syncs, "source_table:target_table" for transforms.
func (t JobTarget) SerializationKey(kind JobKind) string {
	if kind == JobSync {
		return t.SourceID + ":" + t.StreamKind
	}
	return t.SourceTable + ":" + t.TargetTable
}

// Job is a unit of scheduled sync or transform work. Deadline is the
// overall wall-clock bound the run must finish by (spec §4.6); a zero
// Deadline means no bound is enforced beyond the ambient context.
type Job struct {
	ID         string
	Kind       JobKind
	Target     JobTarget
	State      JobState
	Priority   JobPriority
	Attempts   int
	LastError  string
	ErrorClass string
	ParentID   string
	Deadline   time.Time
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// SyncMode selects full-refresh or incremental behavior for a Stream.
type SyncMode string

const (
	ModeFullRefresh SyncMode = "full_refresh"
	ModeIncremental SyncMode = "incremental"
)

// SyncLog is an append-only audit row for one completed sync attempt.
type SyncLog struct {
	ID             string
	JobID          string
	SourceID       string
	StreamKind     string
	Mode           SyncMode
	StartedAt      time.Time
	EndedAt        time.Time
	DurationMS     int64
	RecordsFetched int
	RecordsWritten int
	RecordsFailed  int
	CursorBefore   string
	CursorAfter    string
	Status         string
	ErrorClass     string
	ErrorMessage   string
}

// Checkpoint is the opaque cursor a stream or transform pair resumes from.
type Checkpoint struct {
	Key       string // "source_id:stream_kind" or "source_table:target_table"
	Value     string
	UpdatedAt time.Time
}
