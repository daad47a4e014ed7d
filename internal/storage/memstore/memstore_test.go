package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/storage"
	"github.com/fernfall/dayline/internal/streamdriver"
)

func makeRow(sourceStreamID int64, subject string) storage.OntologyRow {
	return storage.OntologyRow{
		SourceStreamID: sourceStreamID,
		SourceTable:    "stream_google_gmail",
		SourceProvider: "google",
		Fields:         map[string]any{"subject": subject},
	}
}

func TestSourceCRUD(t *testing.T) {
	ctx := context.Background()
	store := New()

	sc, err := store.CreateSource(ctx, domain.SourceConnection{Kind: "google", Auth: domain.AuthOAuth})
	require.NoError(t, err)
	require.NotEmpty(t, sc.ID)

	got, err := store.GetSource(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "google", got.Kind)

	_, err = store.GetSource(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.ClassNotFound, apperr.ClassOf(err))

	require.NoError(t, store.SetNeedsReauth(ctx, sc.ID, true))
	got, err = store.GetSource(ctx, sc.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsReauth)
}

func TestUpsertRawRowsIsIdempotentByProviderRecordID(t *testing.T) {
	ctx := context.Background()
	store := New()

	records := []streamdriver.RawRecord{
		{ProviderRecordID: "msg-1", OccurredAt: time.Now(), Payload: map[string]any{"subject": "hi"}},
		{ProviderRecordID: "msg-2", OccurredAt: time.Now(), Payload: map[string]any{"subject": "bye"}},
	}
	written, err := store.UpsertRawRows(ctx, "stream_google_gmail", "source-1", records)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	updated := []streamdriver.RawRecord{
		{ProviderRecordID: "msg-1", OccurredAt: time.Now(), Payload: map[string]any{"subject": "updated"}},
	}
	firstPass, err := store.ListRawRows(ctx, "stream_google_gmail", "source-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, firstPass, 2)
	var originalIngestedAt time.Time
	for _, row := range firstPass {
		if row.ProviderRecordID == "msg-1" {
			originalIngestedAt = row.IngestedAt
		}
	}
	require.False(t, originalIngestedAt.IsZero())

	written, err = store.UpsertRawRows(ctx, "stream_google_gmail", "source-1", updated)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	rows, err := store.ListRawRows(ctx, "stream_google_gmail", "source-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var found bool
	for _, row := range rows {
		if row.ProviderRecordID == "msg-1" {
			found = true
			assert.Equal(t, "updated", row.Payload["subject"])
			assert.Equal(t, originalIngestedAt, row.IngestedAt, "ingested_at must not change on re-ingest")
		}
	}
	assert.True(t, found)
}

// TestListRawRowsScopesByRowID pins down spec §4.7 step 2's checkpoint
// semantics: the cursor is the highest raw-row id previously processed, not
// a timestamp, so rows sharing one ingested_at never get silently dropped.
func TestListRawRowsScopesByRowID(t *testing.T) {
	ctx := context.Background()
	store := New()

	records := []streamdriver.RawRecord{
		{ProviderRecordID: "msg-1", OccurredAt: time.Now(), Payload: map[string]any{"subject": "a"}},
		{ProviderRecordID: "msg-2", OccurredAt: time.Now(), Payload: map[string]any{"subject": "b"}},
		{ProviderRecordID: "msg-3", OccurredAt: time.Now(), Payload: map[string]any{"subject": "c"}},
	}
	_, err := store.UpsertRawRows(ctx, "stream_google_gmail", "source-1", records)
	require.NoError(t, err)

	all, err := store.ListRawRows(ctx, "stream_google_gmail", "source-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)

	checkpoint := all[1].ID
	rest, err := store.ListRawRows(ctx, "stream_google_gmail", "source-1", checkpoint, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "msg-3", rest[0].ProviderRecordID)
}

func TestResolveEntityReturnsSameIDForSameNaturalKey(t *testing.T) {
	ctx := context.Background()
	store := New()

	id1, err := store.ResolveEntity(ctx, "person", "alice@example.com")
	require.NoError(t, err)
	id2, err := store.ResolveEntity(ctx, "person", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := store.ResolveEntity(ctx, "person", "bob@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestUpsertOntologyRowIsIdempotentOnSourceStreamAndTable(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.UpsertOntologyRow(ctx, "social_email", makeRow(1, "first")))
	require.NoError(t, store.UpsertOntologyRow(ctx, "social_email", makeRow(1, "second")))

	rows := store.OntologyRows("social_email")
	require.Len(t, rows, 1)
	assert.Equal(t, "second", rows[0].Fields["subject"])
}
