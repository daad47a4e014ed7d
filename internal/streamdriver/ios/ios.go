// Package ios implements the iOS device source kind. Unlike the OAuth
// sources, these streams never call out to a provider: records arrive via
// the device ingest endpoint (spec §4.4), so Sync is a health probe that
// reports the connection's pairing state rather than pulling data itself.
package ios

import (
	"context"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/streamdriver"
)

const (
	HealthKitStreamKind = "healthkit"
	LocationStreamKind  = "location"
	MicStreamKind       = "mic"
)

var (
	HealthKitTableName = registry.StreamTableName("ios", HealthKitStreamKind)
	LocationTableName  = registry.StreamTableName("ios", LocationStreamKind)
	MicTableName       = registry.StreamTableName("ios", MicStreamKind)
)

// deviceProbeStream is a no-op scheduled sync for a device-fed stream: it
// exists so the cadence scheduler and sync_logs audit trail treat
// device-backed streams uniformly with pull-based ones, without pretending
// to fetch records the device hasn't pushed yet.
type deviceProbeStream struct {
	sc         domain.SourceConnection
	streamKind string
}

// NewHealthKitStream is the registry factory for the "healthkit" stream kind.
func NewHealthKitStream(sc domain.SourceConnection) (streamdriver.Stream, error) {
	return &deviceProbeStream{sc: sc, streamKind: HealthKitStreamKind}, nil
}

// NewLocationStream is the registry factory for the "location" stream kind.
func NewLocationStream(sc domain.SourceConnection) (streamdriver.Stream, error) {
	return &deviceProbeStream{sc: sc, streamKind: LocationStreamKind}, nil
}

// NewMicStream is the registry factory for the "mic" stream kind.
func NewMicStream(sc domain.SourceConnection) (streamdriver.Stream, error) {
	return &deviceProbeStream{sc: sc, streamKind: MicStreamKind}, nil
}

func (s *deviceProbeStream) Sync(ctx context.Context, mode streamdriver.Mode) (streamdriver.SyncOutcome, error) {
	if s.sc.PairingStatus != domain.PairingActive {
		return streamdriver.SyncOutcome{Status: "failed", ErrorClass: string(apperr.ClassAuth)},
			apperr.New(apperr.ClassAuth, "device is not paired or pairing was revoked")
	}
	// Device-backed streams have no provider to pull from; a scheduled run
	// only confirms pairing health. Records arrive exclusively through
	// ingest.Handler, which writes raw rows and enqueues transforms itself.
	return streamdriver.SyncOutcome{Status: "success"}, nil
}
