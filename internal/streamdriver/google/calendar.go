package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/streamdriver"
)

const calendarStreamKind = "calendar"

// CalendarTableName is the raw stream table this driver writes to.
var CalendarTableName = registry.StreamTableName("google", calendarStreamKind)

// CalendarStream implements streamdriver.Stream against the Calendar API,
// using Google's syncToken for incremental paging.
type CalendarStream struct {
	sc   domain.SourceConnection
	deps Deps
}

// NewCalendarStream is the registry factory for the "calendar" stream kind.
func NewCalendarStream(deps Deps) func(sc domain.SourceConnection) (streamdriver.Stream, error) {
	return func(sc domain.SourceConnection) (streamdriver.Stream, error) {
		deps.SourceTab = CalendarTableName
		return &CalendarStream{sc: sc, deps: deps}, nil
	}
}

type calendarEvent struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
	Start   struct {
		DateTime string `json:"dateTime"`
		Date     string `json:"date"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		Date     string `json:"date"`
	} `json:"end"`
	Attendees []struct {
		Email string `json:"email"`
	} `json:"attendees"`
}

type calendarListResponse struct {
	Items         []calendarEvent `json:"items"`
	NextPageToken string          `json:"nextPageToken"`
	NextSyncToken string          `json:"nextSyncToken"`
}

// Sync iterates Calendar's page loop to exhaustion, landing every page's
// events as raw rows and accumulating all pages into one SyncOutcome before
// settling on the resting syncToken cursor (spec §4.3, scenario S1).
func (s *CalendarStream) Sync(ctx context.Context, mode streamdriver.Mode) (streamdriver.SyncOutcome, error) {
	outcome := streamdriver.SyncOutcome{Status: "failed"}

	cursorBefore, err := s.deps.Cursors.GetCursor(ctx, s.sc.ID, calendarStreamKind)
	if err != nil {
		return outcome, apperr.Wrap(apperr.ClassServerTransient, "read calendar cursor", err)
	}
	outcome.CursorBefore = cursorBefore
	if mode.Kind == domain.ModeFullRefresh {
		cursorBefore = ""
	}

	kind, value := decodeCursor(cursorBefore)
	firstPage := true

	for {
		query := url.Values{"maxResults": {"250"}, "singleEvents": {"true"}}
		switch {
		case kind == "sync":
			query.Set("syncToken", value)
		case kind == "page":
			query.Set("pageToken", value)
		case firstPage && mode.Kind == domain.ModeFullRefresh:
			window := mode.WindowDays
			if window <= 0 {
				window = 90
			}
			query.Set("timeMin", time.Now().AddDate(0, 0, -window).Format(time.RFC3339))
		}

		resp, err := s.deps.Client.Request(ctx, &s.sc, TokenURL, http.MethodGet, CalAPI+"?"+query.Encode(), nil, nil)
		if err != nil {
			if firstPage && apperr.Is(err, apperr.ClassCursorInvalid) && mode.Kind == domain.ModeIncremental {
				return s.fallBackToFullRefresh(ctx)
			}
			outcome.ErrorClass = string(apperr.ClassOf(err))
			return outcome, err
		}

		var list calendarListResponse
		if err := json.Unmarshal(resp.Body, &list); err != nil {
			return outcome, apperr.Wrap(apperr.ClassServerTransient, "decode calendar list response", err)
		}
		outcome.RecordsFetched += len(list.Items)

		records := make([]streamdriver.RawRecord, 0, len(list.Items))
		for _, ev := range list.Items {
			occurredAt := parseEventTime(ev.Start)
			attendees := make([]string, 0, len(ev.Attendees))
			for _, a := range ev.Attendees {
				attendees = append(attendees, a.Email)
			}
			records = append(records, streamdriver.RawRecord{
				ProviderRecordID: ev.ID,
				OccurredAt:       occurredAt,
				Payload: map[string]any{
					"id":         ev.ID,
					"status":     ev.Status,
					"summary":    ev.Summary,
					"start":      ev.Start.DateTime,
					"end":        ev.End.DateTime,
					"all_day":    ev.Start.Date != "",
					"attendees":  attendees,
				},
			})
		}

		written, err := s.deps.Writer.UpsertRawRows(ctx, s.deps.SourceTab, s.sc.ID, records)
		if err != nil {
			return outcome, apperr.Wrap(apperr.ClassServerTransient, "upsert calendar raw rows", err)
		}
		outcome.RecordsWritten += written

		if list.NextPageToken == "" {
			nextCursor := cursorBefore
			if list.NextSyncToken != "" {
				nextCursor = encodeCursor("sync", list.NextSyncToken)
			}
			if err := s.deps.Cursors.SetCursor(ctx, s.sc.ID, calendarStreamKind, nextCursor); err != nil {
				return outcome, apperr.Wrap(apperr.ClassServerTransient, "persist calendar cursor", err)
			}
			outcome.CursorAfter = nextCursor
			break
		}

		kind, value = "page", list.NextPageToken
		midCursor := encodeCursor("page", value)
		if err := s.deps.Cursors.SetCursor(ctx, s.sc.ID, calendarStreamKind, midCursor); err != nil {
			return outcome, apperr.Wrap(apperr.ClassServerTransient, "persist calendar page cursor", err)
		}
		outcome.CursorAfter = midCursor
		firstPage = false

		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
	}

	outcome.Status = "success"

	if s.deps.Enqueue != nil {
		if err := s.deps.Enqueue(ctx, s.sc.ID, s.deps.SourceTab, []string{"activity_calendar_entry", "social_interaction"}); err != nil {
			return outcome, apperr.Wrap(apperr.ClassServerTransient, "enqueue transform for calendar", err)
		}
	}
	return outcome, nil
}

func parseEventTime(t struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}) time.Time {
	if t.DateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return parsed
		}
	}
	if t.Date != "" {
		if parsed, err := time.Parse("2006-01-02", t.Date); err == nil {
			return parsed
		}
	}
	return time.Now()
}

func (s *CalendarStream) fallBackToFullRefresh(ctx context.Context) (streamdriver.SyncOutcome, error) {
	if err := s.deps.Cursors.SetCursor(ctx, s.sc.ID, calendarStreamKind, ""); err != nil {
		return streamdriver.SyncOutcome{Status: "failed"}, apperr.Wrap(apperr.ClassServerTransient, "clear invalid calendar cursor", err)
	}
	outcome, err := s.Sync(ctx, streamdriver.FullRefresh(90))
	outcome.FellBackToFullRefresh = true
	return outcome, err
}
