package transform

import (
	"context"

	"github.com/PaesslerAG/jsonpath"

	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/storage"
)

func calendarSourceTable() string { return registry.StreamTableName("google", "calendar") }

// CalendarToActivityEntry maps stream_google_calendar rows into
// activity_calendar_entry rows.
type CalendarToActivityEntry struct{}

func (CalendarToActivityEntry) SourceTable() string { return calendarSourceTable() }
func (CalendarToActivityEntry) TargetTable() string { return "activity_calendar_entry" }
func (CalendarToActivityEntry) Domain() string      { return "activity" }

func (t CalendarToActivityEntry) Run(ctx context.Context, gw storage.Gateway, sourceID string, limit int) (Result, error) {
	pair := Pair{SourceTable: t.SourceTable(), TargetTable: t.TargetTable()}
	return runRawToOntology(ctx, gw, pair, "google", sourceID, limit, func(ctx context.Context, gw storage.Gateway, row storage.RawRow) (map[string]any, error) {
		summary, _ := jsonpath.Get("$.summary", row.Payload)
		return map[string]any{
			"title":       asString(summary),
			"starts_at":   row.OccurredAt,
			"ends_at":     row.OccurredAt,
			"location":    "",
		}, nil
	})
}

// CalendarToSocialInteraction maps the same raw calendar rows into
// social_interaction rows, resolving each attendee to a canonical person
// entity — the 1:many fan-out example from spec §4.7 ("one source row
// feeds many ontology tables"), realized as a second catalog entry over the
// same source table rather than a single mapFunc returning two shapes.
type CalendarToSocialInteraction struct{}

func (CalendarToSocialInteraction) SourceTable() string { return calendarSourceTable() }
func (CalendarToSocialInteraction) TargetTable() string { return "social_interaction" }
func (CalendarToSocialInteraction) Domain() string      { return "social" }

func (t CalendarToSocialInteraction) Run(ctx context.Context, gw storage.Gateway, sourceID string, limit int) (Result, error) {
	pair := Pair{SourceTable: t.SourceTable(), TargetTable: t.TargetTable()}
	return runRawToOntology(ctx, gw, pair, "google", sourceID, limit, func(ctx context.Context, gw storage.Gateway, row storage.RawRow) (map[string]any, error) {
		attendeesVal, _ := jsonpath.Get("$.attendees", row.Payload)
		attendees, _ := attendeesVal.([]any)
		if len(attendees) == 0 {
			return nil, nil
		}

		entityIDs := make([]string, 0, len(attendees))
		for _, a := range attendees {
			email, _ := a.(string)
			if email == "" {
				continue
			}
			entityID, err := gw.ResolveEntity(ctx, "person", email)
			if err != nil {
				return nil, err
			}
			entityIDs = append(entityIDs, entityID)
		}
		if len(entityIDs) == 0 {
			return nil, nil
		}

		return map[string]any{
			"kind":                   "calendar",
			"participant_entity_ids": entityIDs,
			"occurred_at":            row.OccurredAt,
		}, nil
	})
}
