// Package ingest accepts push batches from paired devices and lands them
// as raw stream rows (spec §4.4).
package ingest

import (
	"context"
	"time"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/objectstore"
	"github.com/fernfall/dayline/internal/pairing"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/platform/metrics"
	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/storage"
	"github.com/fernfall/dayline/internal/streamdriver"
)

// Record is one envelope entry before stream-specific validation.
type Record struct {
	ID        string
	Timestamp string
	Fields    map[string]any
}

// Batch is one device ingest request body (spec §6's wire shape).
type Batch struct {
	DeviceID string
	BatchID  string
	Records  []Record
}

// Rejection explains why one record in a batch was not persisted.
type Rejection struct {
	ID     string
	Reason string
}

// Result is returned to the device: accepted/rejected counts and
// per-record rejection reasons, never a batch-level failure for
// record-level problems (spec §4.4).
type Result struct {
	Accepted    int
	Rejected    int
	Rejections  []Rejection
}

// Service validates and lands device ingest batches.
type Service struct {
	gw      storage.Gateway
	reg     *registry.Registry
	pairing *pairing.Service
	objects *objectstore.Client
	enqueue streamdriver.EnqueueTransforms
}

// New builds an ingest Service. objects may be nil for deployments with no
// blob-bearing streams configured.
func New(gw storage.Gateway, reg *registry.Registry, pairingSvc *pairing.Service, objects *objectstore.Client, enqueue streamdriver.EnqueueTransforms) *Service {
	return &Service{gw: gw, reg: reg, pairing: pairingSvc, objects: objects, enqueue: enqueue}
}

// Authenticate resolves a device token to its source connection, failing
// with ClassAuth for any source not in auth=device/pairing_status=active
// state (spec §4.4's auth contract, surfaced by callers as 401).
func (s *Service) Authenticate(ctx context.Context, deviceToken string) (domain.SourceConnection, error) {
	return s.pairing.Authenticate(ctx, deviceToken)
}

// Accept validates and persists one batch for sc's streamKind, then
// enqueues the stream's declared transform targets on any successful
// write (spec §4.4's follow-on-work rule). Batch-level errors (unknown
// stream, storage failure) are returned as an error; record-level problems
// are reported in Result and never fail the call.
func (s *Service) Accept(ctx context.Context, sc domain.SourceConnection, streamKind string, batch Batch) (Result, error) {
	sk, ok := s.reg.Source(sc.Kind)
	if !ok {
		return Result{}, apperr.New(apperr.ClassValidation, "unknown source kind "+sc.Kind)
	}
	streamDef, ok := sk.Streams[streamKind]
	if !ok {
		return Result{}, apperr.New(apperr.ClassValidation, "source kind "+sc.Kind+" does not declare stream "+streamKind)
	}

	validate, ok := validators[streamKind]
	if !ok {
		return Result{}, apperr.New(apperr.ClassValidation, "no ingest validator registered for stream "+streamKind)
	}

	tableName := registry.StreamTableName(sc.Kind, streamKind)

	var result Result
	records := make([]streamdriver.RawRecord, 0, len(batch.Records))
	seen := map[string]int{} // last-seen-wins within one batch, per spec §4.3 edge case

	for _, rec := range batch.Records {
		raw, reason, ok := validate(rec)
		if !ok {
			result.Rejected++
			result.Rejections = append(result.Rejections, Rejection{ID: rec.ID, Reason: reason})
			metrics.IngestRecords.WithLabelValues(streamKind, "rejected").Inc()
			continue
		}

		if streamDef.HasBlob && raw.BlobKey != "" && s.objects != nil {
			exists, err := s.objects.Exists(ctx, raw.BlobKey)
			if err != nil {
				return Result{}, err
			}
			if !exists {
				result.Rejected++
				result.Rejections = append(result.Rejections, Rejection{ID: rec.ID, Reason: "blob not found"})
				metrics.IngestRecords.WithLabelValues(streamKind, "rejected").Inc()
				continue
			}
		}

		if idx, dup := seen[raw.ProviderRecordID]; dup {
			records[idx] = raw
			continue
		}
		seen[raw.ProviderRecordID] = len(records)
		records = append(records, raw)
		metrics.IngestRecords.WithLabelValues(streamKind, "accepted").Inc()
	}
	result.Accepted = len(records)

	if len(records) > 0 {
		if _, err := s.gw.UpsertRawRows(ctx, tableName, sc.ID, records); err != nil {
			return Result{}, err
		}
		if s.enqueue != nil && len(streamDef.TargetTables) > 0 {
			if err := s.enqueue(ctx, sc.ID, tableName, streamDef.TargetTables); err != nil {
				return Result{}, err
			}
		}
	}

	metrics.IngestRequests.WithLabelValues(streamKind, "accepted").Inc()
	return result, nil
}

// parseTimestamp is lenient: missing or unparsable timestamps fall back to
// ingestion time rather than rejecting the record (spec §4.3 edge case).
func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now().UTC()
}
