// Package notion implements the Notion source kind: OAuth token exchange,
// error classification, and the pages stream driver.
package notion

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/oauthclient"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/streamdriver"
)

const (
	TokenURL   = "https://api.notion.com/v1/oauth/token"
	SearchAPI  = "https://api.notion.com/v1/search"
	APIVersion = "2022-06-28"

	pagesStreamKind = "pages"
)

// PagesTableName is the raw stream table the pages driver writes to.
var PagesTableName = registry.StreamTableName("notion", pagesStreamKind)

// Config carries the OAuth application credentials (NOTION_CLIENT_ID /
// NOTION_CLIENT_SECRET).
type Config struct {
	ClientID     string
	ClientSecret string
}

// Exchanger implements oauthclient.TokenExchanger against Notion's token
// endpoint. Notion access tokens do not expire and carry no refresh token;
// the initial OAuth callback goes through oauthclient.Flow, and Exchange is
// reached only from oauthclient.Client's refresh path.
type Exchanger struct {
	cfg  Config
	http *http.Client
}

func NewExchanger(cfg Config) *Exchanger {
	return &Exchanger{cfg: cfg, http: &http.Client{Timeout: 15 * time.Second}}
}

func (e *Exchanger) Exchange(ctx context.Context, tokenURL, refreshToken string) (domain.Credentials, error) {
	// Notion tokens are long-lived; nothing to refresh. Returning the
	// existing token keeps the oauthclient refresh path a no-op for this
	// provider without special-casing it at the call site.
	return domain.Credentials{AccessToken: refreshToken, RefreshToken: refreshToken}, nil
}

// ErrorHandler classifies Notion API error responses.
type ErrorHandler struct{}

func (ErrorHandler) Classify(resp *http.Response, body []byte) apperr.Class {
	var payload struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(body, &payload)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.ClassAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.ClassRateLimit
	case payload.Code == "validation_error", resp.StatusCode == http.StatusBadRequest:
		return apperr.ClassClientPermanent
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		return apperr.ClassClientPermanent
	case resp.StatusCode >= 500:
		return apperr.ClassServerTransient
	default:
		return apperr.ClassNone
	}
}

// PagesStream implements streamdriver.Stream by walking Notion's search
// endpoint, which has no true incremental cursor beyond pagination. Each
// Sync fetches one search page and stores next_cursor; after the last page
// the cursor is cleared, so the following syncs walk the whole workspace
// again from the start (spec §9 Open Question b).
type PagesStream struct {
	sc     domain.SourceConnection
	client *oauthclient.Client
	writer streamdriver.RawRowWriter
	cursor streamdriver.CursorStore
	enq    streamdriver.EnqueueTransforms
}

// NewPagesStream is the registry factory for the "pages" stream kind.
func NewPagesStream(client *oauthclient.Client, writer streamdriver.RawRowWriter, cursor streamdriver.CursorStore, enq streamdriver.EnqueueTransforms) func(sc domain.SourceConnection) (streamdriver.Stream, error) {
	return func(sc domain.SourceConnection) (streamdriver.Stream, error) {
		return &PagesStream{sc: sc, client: client, writer: writer, cursor: cursor, enq: enq}, nil
	}
}

type notionSearchResponse struct {
	Results []notionPage `json:"results"`
	HasMore bool         `json:"has_more"`
	NextCur string       `json:"next_cursor"`
}

type notionPage struct {
	ID             string `json:"id"`
	LastEditedTime string `json:"last_edited_time"`
	Properties     map[string]struct {
		Title []struct {
			PlainText string `json:"plain_text"`
		} `json:"title"`
	} `json:"properties"`
	URL string `json:"url"`
}

func (s *PagesStream) Sync(ctx context.Context, mode streamdriver.Mode) (streamdriver.SyncOutcome, error) {
	outcome := streamdriver.SyncOutcome{Status: "failed"}

	cursorBefore, err := s.cursor.GetCursor(ctx, s.sc.ID, pagesStreamKind)
	if err != nil {
		return outcome, apperr.Wrap(apperr.ClassServerTransient, "read notion cursor", err)
	}
	outcome.CursorBefore = cursorBefore
	if mode.Kind == domain.ModeFullRefresh {
		cursorBefore = ""
	}

	reqBody := map[string]any{
		"filter":    map[string]any{"value": "page", "property": "object"},
		"page_size": 100,
	}
	if cursorBefore != "" {
		reqBody["start_cursor"] = cursorBefore
	}
	payload, _ := json.Marshal(reqBody)

	headers := http.Header{}
	headers.Set("Notion-Version", APIVersion)
	headers.Set("Content-Type", "application/json")

	resp, err := s.client.Request(ctx, &s.sc, TokenURL, http.MethodPost, SearchAPI, headers, payload)
	if err != nil {
		outcome.ErrorClass = string(apperr.ClassOf(err))
		return outcome, err
	}

	var list notionSearchResponse
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return outcome, apperr.Wrap(apperr.ClassServerTransient, "decode notion search response", err)
	}
	outcome.RecordsFetched = len(list.Results)

	records := make([]streamdriver.RawRecord, 0, len(list.Results))
	for _, p := range list.Results {
		occurredAt := time.Now()
		if parsed, err := time.Parse(time.RFC3339, p.LastEditedTime); err == nil {
			occurredAt = parsed
		}
		records = append(records, streamdriver.RawRecord{
			ProviderRecordID: p.ID,
			OccurredAt:       occurredAt,
			Payload: map[string]any{
				"id":    p.ID,
				"title": extractTitle(p),
				"url":   p.URL,
			},
		})
	}

	written, err := s.writer.UpsertRawRows(ctx, PagesTableName, s.sc.ID, records)
	if err != nil {
		return outcome, apperr.Wrap(apperr.ClassServerTransient, "upsert notion raw rows", err)
	}
	outcome.RecordsWritten = written

	nextCursor := ""
	if list.HasMore {
		nextCursor = list.NextCur
	}
	if err := s.cursor.SetCursor(ctx, s.sc.ID, pagesStreamKind, nextCursor); err != nil {
		return outcome, apperr.Wrap(apperr.ClassServerTransient, "persist notion cursor", err)
	}
	outcome.CursorAfter = nextCursor
	outcome.Status = "success"

	if s.enq != nil {
		if err := s.enq(ctx, s.sc.ID, PagesTableName, []string{"knowledge_note"}); err != nil {
			return outcome, apperr.Wrap(apperr.ClassServerTransient, "enqueue transform for notion pages", err)
		}
	}
	return outcome, nil
}

func extractTitle(p notionPage) string {
	for _, prop := range p.Properties {
		if len(prop.Title) > 0 {
			return prop.Title[0].PlainText
		}
	}
	return ""
}
