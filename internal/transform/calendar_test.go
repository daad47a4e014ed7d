package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernfall/dayline/internal/storage/memstore"
	"github.com/fernfall/dayline/internal/streamdriver"
)

// TestCalendarToSocialInteraction_FanOutAndCheckpoint exercises the
// social_interaction side of scenario S4's 1:many fan-out (the
// activity_calendar_entry side, CalendarToActivityEntry, is not run here):
// this transform's attendee-to-entity resolution, its checkpoint advance,
// and the "zero is valid" mapFunc rule for an event with no attendees.
func TestCalendarToSocialInteraction_FanOutAndCheckpoint(t *testing.T) {
	ctx := context.Background()
	gw := memstore.New()
	sourceID := "source-1"
	table := calendarSourceTable()

	records := []streamdriver.RawRecord{
		{
			ProviderRecordID: "ev-1",
			OccurredAt:       time.Now(),
			Payload: map[string]any{
				"summary":   "Sync",
				"attendees": []any{"alice@example.com", "bob@example.com"},
			},
		},
		{
			ProviderRecordID: "ev-2",
			OccurredAt:       time.Now(),
			Payload: map[string]any{
				"summary":   "1:1",
				"attendees": []any{"alice@example.com"},
			},
		},
		{
			ProviderRecordID: "ev-3",
			OccurredAt:       time.Now(),
			Payload: map[string]any{
				"summary":   "Focus block",
				"attendees": []any{},
			},
		},
	}
	_, err := gw.UpsertRawRows(ctx, table, sourceID, records)
	require.NoError(t, err)

	transform := CalendarToSocialInteraction{}

	result, err := transform.Run(ctx, gw, sourceID, 1000)
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 3, result.RecordsIn)
	assert.Equal(t, 2, result.RecordsOut, "the attendee-less event must map to zero rows, not an empty one")

	rows, err := gw.ListOntologyRows(ctx, "social_interaction", table, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byParticipants := map[int][]string{}
	for _, row := range rows {
		ids, _ := row.Fields["participant_entity_ids"].([]string)
		byParticipants[len(ids)] = ids
	}
	require.Contains(t, byParticipants, 2)
	require.Contains(t, byParticipants, 1)
	assert.Equal(t, byParticipants[2][0], byParticipants[1][0], "alice must resolve to the same entity id across both events")

	// A second run with no new raw rows must be a no-op: the checkpoint
	// (spec §4.7 step 2) already sits at ev-3's row id.
	second, err := transform.Run(ctx, gw, sourceID, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, second.RecordsIn)
	assert.Equal(t, 0, second.RecordsOut)

	rowsAfter, err := gw.ListOntologyRows(ctx, "social_interaction", table, time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, rowsAfter, 2, "rerunning the same batch must not duplicate ontology rows")

	// Rewinding the checkpoint and reprocessing the same raw rows must
	// upsert in place rather than append (idempotent on SourceStreamID +
	// SourceTable), per spec §4.7's ownership invariant.
	pair := Pair{SourceTable: transform.SourceTable(), TargetTable: transform.TargetTable()}
	require.NoError(t, gw.SetCheckpoint(ctx, checkpointKey(sourceID, pair), "0"))

	third, err := transform.Run(ctx, gw, sourceID, 1000)
	require.NoError(t, err)
	assert.Equal(t, 3, third.RecordsIn)
	assert.Equal(t, 2, third.RecordsOut)

	rowsFinal, err := gw.ListOntologyRows(ctx, "social_interaction", table, time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, rowsFinal, 2, "reprocessing the same raw rows must upsert, not duplicate")
}
