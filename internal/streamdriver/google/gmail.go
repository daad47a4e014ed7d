package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/streamdriver"
)

const gmailStreamKind = "gmail"

// GmailTableName is the raw stream table this driver writes to.
var GmailTableName = registry.StreamTableName("google", gmailStreamKind)

// GmailStream implements streamdriver.Stream against the Gmail API.
type GmailStream struct {
	sc   domain.SourceConnection
	deps Deps
}

// NewGmailStream is the registry factory for the "gmail" stream kind.
func NewGmailStream(deps Deps) func(sc domain.SourceConnection) (streamdriver.Stream, error) {
	return func(sc domain.SourceConnection) (streamdriver.Stream, error) {
		deps.SourceTab = GmailTableName
		return &GmailStream{sc: sc, deps: deps}, nil
	}
}

type gmailListResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
	HistoryID     string `json:"historyId"`
}

type gmailMessage struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadId"`
	InternalDate string `json:"internalDate"`
	Snippet      string `json:"snippet"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// Sync iterates Gmail's page loop to exhaustion (incremental, resuming from
// a stored page token / historyId, or a bounded full-refresh window),
// landing every page's messages as raw rows and accumulating all pages into
// one SyncOutcome, then enqueues the follow-on transform (spec §4.3,
// scenario S1: one job, one sync-log row, regardless of page count).
func (s *GmailStream) Sync(ctx context.Context, mode streamdriver.Mode) (streamdriver.SyncOutcome, error) {
	outcome := streamdriver.SyncOutcome{Status: "failed"}

	cursorBefore, err := s.deps.Cursors.GetCursor(ctx, s.sc.ID, gmailStreamKind)
	if err != nil {
		return outcome, apperr.Wrap(apperr.ClassServerTransient, "read gmail cursor", err)
	}
	outcome.CursorBefore = cursorBefore

	if mode.Kind == domain.ModeFullRefresh {
		cursorBefore = ""
	}

	_, pageToken := decodeCursor(cursorBefore)
	firstPage := true

	for {
		query := url.Values{"maxResults": {"100"}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		} else if firstPage && mode.Kind == domain.ModeFullRefresh && mode.WindowDays > 0 {
			since := time.Now().AddDate(0, 0, -mode.WindowDays)
			query.Set("q", fmt.Sprintf("after:%d", since.Unix()))
		}

		listURL := GmailAPI + "?" + query.Encode()
		resp, err := s.deps.Client.Request(ctx, &s.sc, TokenURL, http.MethodGet, listURL, nil, nil)
		if err != nil {
			if firstPage && apperr.Is(err, apperr.ClassCursorInvalid) && mode.Kind == domain.ModeIncremental {
				return s.fallBackToFullRefresh(ctx)
			}
			outcome.ErrorClass = string(apperr.ClassOf(err))
			return outcome, err
		}

		var list gmailListResponse
		if err := json.Unmarshal(resp.Body, &list); err != nil {
			return outcome, apperr.Wrap(apperr.ClassServerTransient, "decode gmail list response", err)
		}
		outcome.RecordsFetched += len(list.Messages)

		records := make([]streamdriver.RawRecord, 0, len(list.Messages))
		for _, m := range list.Messages {
			msg, err := s.fetchMessage(ctx, m.ID)
			if err != nil {
				outcome.RecordsFailed++
				continue
			}
			records = append(records, msg)
		}

		written, err := s.deps.Writer.UpsertRawRows(ctx, s.deps.SourceTab, s.sc.ID, records)
		if err != nil {
			return outcome, apperr.Wrap(apperr.ClassServerTransient, "upsert gmail raw rows", err)
		}
		outcome.RecordsWritten += written

		if list.NextPageToken == "" {
			nextCursor := cursorBefore
			if list.HistoryID != "" {
				nextCursor = encodeCursor("history", list.HistoryID)
			}
			if err := s.deps.Cursors.SetCursor(ctx, s.sc.ID, gmailStreamKind, nextCursor); err != nil {
				return outcome, apperr.Wrap(apperr.ClassServerTransient, "persist gmail cursor", err)
			}
			outcome.CursorAfter = nextCursor
			break
		}

		// Persist the in-progress page token after each page commits, so a
		// job cancelled mid-loop (deadline exceeded, spec §4.6) resumes
		// from the last committed page rather than refetching from
		// scratch.
		pageToken = list.NextPageToken
		midCursor := encodeCursor("page", pageToken)
		if err := s.deps.Cursors.SetCursor(ctx, s.sc.ID, gmailStreamKind, midCursor); err != nil {
			return outcome, apperr.Wrap(apperr.ClassServerTransient, "persist gmail page cursor", err)
		}
		outcome.CursorAfter = midCursor
		firstPage = false

		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
	}

	outcome.Status = "success"

	if s.deps.Enqueue != nil {
		if err := s.deps.Enqueue(ctx, s.sc.ID, s.deps.SourceTab, []string{"social_email"}); err != nil {
			return outcome, apperr.Wrap(apperr.ClassServerTransient, "enqueue transform for gmail", err)
		}
	}
	return outcome, nil
}

func (s *GmailStream) fetchMessage(ctx context.Context, id string) (streamdriver.RawRecord, error) {
	u := fmt.Sprintf("%s/%s?format=metadata&metadataHeaders=From&metadataHeaders=To&metadataHeaders=Subject", GmailAPI, id)
	resp, err := s.deps.Client.Request(ctx, &s.sc, TokenURL, http.MethodGet, u, nil, nil)
	if err != nil {
		return streamdriver.RawRecord{}, err
	}
	var msg gmailMessage
	if err := json.Unmarshal(resp.Body, &msg); err != nil {
		return streamdriver.RawRecord{}, err
	}

	occurredAt := time.Now()
	if ms, convErr := strconv.ParseInt(msg.InternalDate, 10, 64); convErr == nil {
		occurredAt = time.UnixMilli(ms)
	}

	payload := map[string]any{
		"id":        msg.ID,
		"thread_id": msg.ThreadID,
		"snippet":   msg.Snippet,
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "From":
			payload["from"] = h.Value
		case "To":
			payload["to"] = h.Value
		case "Subject":
			payload["subject"] = h.Value
		}
	}

	return streamdriver.RawRecord{
		ProviderRecordID: msg.ID,
		OccurredAt:       occurredAt,
		Payload:          payload,
	}, nil
}

// fallBackToFullRefresh clears the cursor and retries once as a bounded
// full-refresh within the same job, per spec §4.3 scenario S2.
func (s *GmailStream) fallBackToFullRefresh(ctx context.Context) (streamdriver.SyncOutcome, error) {
	if err := s.deps.Cursors.SetCursor(ctx, s.sc.ID, gmailStreamKind, ""); err != nil {
		return streamdriver.SyncOutcome{Status: "failed"}, apperr.Wrap(apperr.ClassServerTransient, "clear invalid gmail cursor", err)
	}
	outcome, err := s.Sync(ctx, streamdriver.FullRefresh(30))
	outcome.FellBackToFullRefresh = true
	return outcome, err
}
