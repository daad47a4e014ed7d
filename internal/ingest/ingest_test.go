package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/pairing"
	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/storage/memstore"
	"github.com/fernfall/dayline/internal/streamdriver"
)

func newTestRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register(registry.SourceKind{
		Name: "ios",
		Auth: domain.AuthDevice,
		Streams: map[string]registry.StreamKind{
			"healthkit": {Name: "healthkit", TargetTables: []string{"health_heart_rate"}},
			"location":  {Name: "location", TargetTables: []string{"location_visit"}},
			"mic":       {Name: "mic", HasBlob: true, TargetTables: []string{"audio_transcript"}},
		},
	})
	return reg
}

func newTestService(t *testing.T) (*Service, domain.SourceConnection, *memstore.Store) {
	t.Helper()
	ctx := context.Background()
	gw := memstore.New()

	sc, err := gw.CreateSource(ctx, domain.SourceConnection{
		Kind:          "ios",
		Auth:          domain.AuthDevice,
		Active:        true,
		PairingStatus: domain.PairingActive,
	})
	require.NoError(t, err)

	pairingSvc := pairing.New(pairing.NewMemoryCodeStore(), gw, gw, 10*time.Minute)
	code, _, err := pairingSvc.Start(ctx, sc.ID)
	require.NoError(t, err)
	result, err := pairingSvc.Complete(ctx, code, pairing.DeviceInfo{DeviceID: "ios-abc", OS: "iOS 17.5"})
	require.NoError(t, err)

	var enqueued []string
	enqueue := func(ctx context.Context, sourceID, sourceTable string, targetTables []string) error {
		enqueued = append(enqueued, targetTables...)
		return nil
	}

	svc := New(gw, newTestRegistry(), pairingSvc, nil, streamdriver.EnqueueTransforms(enqueue))
	sc, err = gw.GetSource(ctx, result.SourceID)
	require.NoError(t, err)
	return svc, sc, gw
}

func TestAccept_RejectsInvalidHeartRateRecordButKeepsGoodOnes(t *testing.T) {
	svc, sc, gw := newTestService(t)
	ctx := context.Background()

	batch := Batch{
		DeviceID: "ios-abc",
		BatchID:  "b1",
		Records: []Record{
			{ID: "hr-1", Timestamp: time.Now().UTC().Format(time.RFC3339), Fields: map[string]any{"bpm": float64(72)}},
			{ID: "hr-2", Timestamp: time.Now().UTC().Format(time.RFC3339), Fields: map[string]any{"bpm": float64(-5)}},
			{ID: "hr-3", Timestamp: time.Now().UTC().Format(time.RFC3339), Fields: map[string]any{"bpm": float64(81)}},
		},
	}

	result, err := svc.Accept(ctx, sc, "healthkit", batch)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 1, result.Rejected)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, "hr-2", result.Rejections[0].ID)
	assert.Equal(t, "bpm<0", result.Rejections[0].Reason)

	tableName := registry.StreamTableName("ios", "healthkit")
	rows, err := gw.ListRawRows(ctx, tableName, sc.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestAccept_DuplicateProviderRecordIDCollapsesToLastSeen(t *testing.T) {
	svc, sc, gw := newTestService(t)
	ctx := context.Background()

	batch := Batch{
		Records: []Record{
			{ID: "hr-1", Fields: map[string]any{"bpm": float64(60)}},
			{ID: "hr-1", Fields: map[string]any{"bpm": float64(65)}},
		},
	}

	result, err := svc.Accept(ctx, sc, "healthkit", batch)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)

	tableName := registry.StreamTableName("ios", "healthkit")
	rows, err := gw.ListRawRows(ctx, tableName, sc.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(65), rows[0].Payload["bpm"])
}

func TestAccept_RejectsUnknownStream(t *testing.T) {
	svc, sc, _ := newTestService(t)
	_, err := svc.Accept(context.Background(), sc, "not-a-stream", Batch{})
	require.Error(t, err)
}
