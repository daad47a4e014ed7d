// Package memstore implements storage.Gateway in memory, for scheduler and
// transform tests that want real concurrency semantics without a database.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/storage"
	"github.com/fernfall/dayline/internal/streamdriver"
)

// Store is a mutex-guarded in-memory storage.Gateway.
type Store struct {
	mu sync.Mutex

	sources map[string]domain.SourceConnection
	streams map[string]domain.StreamConnection // key: sourceID+":"+streamKind
	jobs    map[string]domain.Job
	logs    []domain.SyncLog

	cursors     map[string]string
	checkpoints map[string]string

	rawRows  map[string][]storage.RawRow // key: table+":"+sourceID
	rawSeq   int64
	entities map[string]string // key: kind+":"+naturalKey -> entity id
	ontology map[string][]storage.OntologyRow // key: table
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		sources:     map[string]domain.SourceConnection{},
		streams:     map[string]domain.StreamConnection{},
		jobs:        map[string]domain.Job{},
		cursors:     map[string]string{},
		checkpoints: map[string]string{},
		rawRows:     map[string][]storage.RawRow{},
		entities:    map[string]string{},
		ontology:    map[string][]storage.OntologyRow{},
	}
}

func streamKey(sourceID, streamKind string) string { return sourceID + ":" + streamKind }

func (s *Store) CreateSource(ctx context.Context, sc domain.SourceConnection) (domain.SourceConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now
	s.sources[sc.ID] = sc
	return sc, nil
}

func (s *Store) GetSource(ctx context.Context, id string) (domain.SourceConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.sources[id]
	if !ok {
		return domain.SourceConnection{}, apperr.NotFound("source_connection", id)
	}
	return sc, nil
}

func (s *Store) ListSources(ctx context.Context) ([]domain.SourceConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SourceConnection, 0, len(s.sources))
	for _, sc := range s.sources {
		out = append(out, sc)
	}
	return out, nil
}

func (s *Store) UpdateCredentials(ctx context.Context, sourceID string, creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.sources[sourceID]
	if !ok {
		return apperr.NotFound("source_connection", sourceID)
	}
	sc.Credentials = creds
	sc.NeedsReauth = false
	sc.UpdatedAt = time.Now().UTC()
	s.sources[sourceID] = sc
	return nil
}

func (s *Store) SetActive(ctx context.Context, sourceID string, active bool) error {
	return s.mutateSource(sourceID, func(sc *domain.SourceConnection) { sc.Active = active })
}

func (s *Store) SetNeedsReauth(ctx context.Context, sourceID string, needsReauth bool) error {
	return s.mutateSource(sourceID, func(sc *domain.SourceConnection) { sc.NeedsReauth = needsReauth })
}

func (s *Store) SetPairingStatus(ctx context.Context, sourceID string, status domain.PairingStatus) error {
	return s.mutateSource(sourceID, func(sc *domain.SourceConnection) { sc.PairingStatus = status })
}

func (s *Store) mutateSource(sourceID string, fn func(*domain.SourceConnection)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.sources[sourceID]
	if !ok {
		return apperr.NotFound("source_connection", sourceID)
	}
	fn(&sc)
	sc.UpdatedAt = time.Now().UTC()
	s.sources[sourceID] = sc
	return nil
}

func (s *Store) CreateStream(ctx context.Context, sc domain.StreamConnection) (domain.StreamConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now
	s.streams[streamKey(sc.SourceID, sc.StreamKind)] = sc
	return sc, nil
}

func (s *Store) GetStream(ctx context.Context, sourceID, streamKind string) (domain.StreamConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.streams[streamKey(sourceID, streamKind)]
	if !ok {
		return domain.StreamConnection{}, apperr.NotFound("stream_connection", streamKey(sourceID, streamKind))
	}
	return sc, nil
}

func (s *Store) ListStreams(ctx context.Context, sourceID string) ([]domain.StreamConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StreamConnection
	for _, sc := range s.streams {
		if sc.SourceID == sourceID {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *Store) ListEnabledStreams(ctx context.Context) ([]domain.StreamConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StreamConnection
	for _, sc := range s.streams {
		if sc.Enabled {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *Store) UpdateLastRun(ctx context.Context, sourceID, streamKind string, at time.Time, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := streamKey(sourceID, streamKind)
	sc, ok := s.streams[key]
	if !ok {
		return apperr.NotFound("stream_connection", key)
	}
	sc.LastRunAt, sc.LastStatus, sc.UpdatedAt = at, status, time.Now().UTC()
	s.streams[key] = sc
	return nil
}

func (s *Store) SetEnabled(ctx context.Context, sourceID, streamKind string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := streamKey(sourceID, streamKind)
	sc, ok := s.streams[key]
	if !ok {
		return apperr.NotFound("stream_connection", key)
	}
	sc.Enabled, sc.UpdatedAt = enabled, time.Now().UTC()
	s.streams[key] = sc
	return nil
}

func (s *Store) GetCursor(ctx context.Context, sourceID, streamKind string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[streamKey(sourceID, streamKind)], nil
}

func (s *Store) SetCursor(ctx context.Context, sourceID, streamKind, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[streamKey(sourceID, streamKind)] = cursor
	return nil
}

func (s *Store) GetCheckpoint(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[key], nil
}

func (s *Store) SetCheckpoint(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[key] = value
	return nil
}

func (s *Store) CreateJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = domain.JobPending
	}
	job.CreatedAt = time.Now().UTC()
	s.jobs[job.ID] = job
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, apperr.NotFound("job", id)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListPendingJobs(ctx context.Context) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.State == domain.JobPending {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *Store) UpdateState(ctx context.Context, id string, state domain.JobState, lastError, errorClass string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return apperr.NotFound("job", id)
	}
	job.State, job.LastError, job.ErrorClass = state, lastError, errorClass
	s.jobs[id] = job
	return nil
}

func (s *Store) MarkStarted(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return apperr.NotFound("job", id)
	}
	job.State, job.StartedAt, job.Attempts = domain.JobRunning, at, job.Attempts+1
	s.jobs[id] = job
	return nil
}

func (s *Store) MarkFinished(ctx context.Context, id string, at time.Time, state domain.JobState, lastError, errorClass string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return apperr.NotFound("job", id)
	}
	job.State, job.FinishedAt, job.LastError, job.ErrorClass = state, at, lastError, errorClass
	s.jobs[id] = job
	return nil
}

func (s *Store) AppendSyncLog(ctx context.Context, log domain.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) ListSyncLogs(ctx context.Context, sourceID string, limit int) ([]domain.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SyncLog
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.logs[i].SourceID == sourceID {
			out = append(out, s.logs[i])
		}
	}
	return out, nil
}

func (s *Store) UpsertRawRows(ctx context.Context, tableName, sourceID string, records []streamdriver.RawRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tableName + ":" + sourceID
	existing := s.rawRows[key]

	byProviderID := make(map[string]int, len(existing))
	for i, row := range existing {
		byProviderID[row.ProviderRecordID] = i
	}

	written := 0
	for _, rec := range records {
		row := storage.RawRow{
			SourceID:         sourceID,
			ProviderRecordID: rec.ProviderRecordID,
			OccurredAt:       rec.OccurredAt,
			Payload:          rec.Payload,
			BlobKey:          rec.BlobKey,
		}
		if idx, ok := byProviderID[rec.ProviderRecordID]; ok {
			// ingested_at is set on insert only (spec §4.3): a re-ingest
			// overwrites the timestamp/payload columns but keeps the
			// original ingestion time.
			row.ID = existing[idx].ID
			row.IngestedAt = existing[idx].IngestedAt
			existing[idx] = row
		} else {
			s.rawSeq++
			row.ID = s.rawSeq
			row.IngestedAt = time.Now().UTC()
			existing = append(existing, row)
			byProviderID[rec.ProviderRecordID] = len(existing) - 1
		}
		written++
	}
	s.rawRows[key] = existing
	return written, nil
}

// ListRawRows scopes by row id, matching the postgres store's checkpoint
// semantics (spec §4.7 step 2).
func (s *Store) ListRawRows(ctx context.Context, tableName, sourceID string, since int64, limit int) ([]storage.RawRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.RawRow
	for _, row := range s.rawRows[tableName+":"+sourceID] {
		if row.ID > since {
			out = append(out, row)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ResolveEntity(ctx context.Context, kind, naturalKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s:%s", kind, naturalKey)
	if id, ok := s.entities[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.entities[key] = id
	return id, nil
}

func (s *Store) UpsertOntologyRow(ctx context.Context, table string, row storage.OntologyRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.UpdatedAt = time.Now().UTC()

	rows := s.ontology[table]
	for i, existing := range rows {
		if existing.SourceStreamID == row.SourceStreamID && existing.SourceTable == row.SourceTable {
			row.ID = existing.ID
			rows[i] = row
			s.ontology[table] = rows
			return nil
		}
	}
	row.ID = uuid.NewString()
	s.ontology[table] = append(rows, row)
	return nil
}

// ListOntologyRows reads the ontology side scoped by UpdatedAt (unlike
// ListRawRows, which scopes by row id), so a chained transform's second stage (e.g.
// audio_transcript -> knowledge_note) can page through what the first stage
// produced.
func (s *Store) ListOntologyRows(ctx context.Context, table, sourceTable string, since time.Time, limit int) ([]storage.OntologyRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.OntologyRow
	for _, row := range s.ontology[table] {
		if row.SourceTable != sourceTable || !row.UpdatedAt.After(since) {
			continue
		}
		out = append(out, row)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// OntologyRows exposes what has been written for a table, for test
// assertions.
func (s *Store) OntologyRows(table string) []storage.OntologyRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.OntologyRow, len(s.ontology[table]))
	copy(out, s.ontology[table])
	return out
}

var _ storage.Gateway = (*Store)(nil)
