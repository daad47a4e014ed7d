// Package google implements the Google source kind: OAuth token exchange,
// error classification, and the gmail/calendar stream drivers.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/oauthclient"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/streamdriver"
)

// Provider endpoints. Vars rather than consts so tests can point a driver
// at an httptest server instead of the real Google API.
var (
	TokenURL = "https://oauth2.googleapis.com/token"
	GmailAPI = "https://gmail.googleapis.com/gmail/v1/users/me/messages"
	CalAPI   = "https://www.googleapis.com/calendar/v3/calendars/primary/events"
)

// Config carries the OAuth client application credentials, read from
// platform/config (GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET).
type Config struct {
	ClientID     string
	ClientSecret string
}

// Exchanger implements oauthclient.TokenExchanger against Google's token
// endpoint.
type Exchanger struct {
	cfg  Config
	http *http.Client
}

func NewExchanger(cfg Config) *Exchanger {
	return &Exchanger{cfg: cfg, http: &http.Client{Timeout: 15 * time.Second}}
}

func (e *Exchanger) Exchange(ctx context.Context, tokenURL, refreshToken string) (domain.Credentials, error) {
	form := url.Values{
		"client_id":     {e.cfg.ClientID},
		"client_secret": {e.cfg.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.http.Do(req)
	if err != nil {
		return domain.Credentials{}, apperr.Wrap(apperr.ClassNetworkTransient, "google token exchange transport error", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return domain.Credentials{}, apperr.Wrap(apperr.ClassAuth, fmt.Sprintf("google token exchange returned %d: %s", resp.StatusCode, body), nil)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Credentials{}, apperr.Wrap(apperr.ClassServerTransient, "decode google token response", err)
	}

	return domain.Credentials{
		AccessToken:  payload.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

// ErrorHandler classifies Google API error responses.
type ErrorHandler struct{}

func (ErrorHandler) Classify(resp *http.Response, body []byte) apperr.Class {
	var payload struct {
		Error struct {
			Status string `json:"status"`
			Code   int    `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.ClassAuth
	case resp.StatusCode == http.StatusGone, payload.Error.Status == "FAILED_PRECONDITION":
		// Google returns 410 Gone for an expired Gmail historyId / sync token.
		return apperr.ClassCursorInvalid
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == 429:
		return apperr.ClassRateLimit
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusNotFound:
		return apperr.ClassClientPermanent
	case resp.StatusCode >= 500:
		return apperr.ClassServerTransient
	default:
		return apperr.ClassNone
	}
}

// encodeCursor builds the opaque cursor format this package persists:
// "<kind>:<value>" so Sync can tell a historyId cursor from a plain page
// token without a second stored field.
func encodeCursor(kind, value string) string { return kind + ":" + value }

func decodeCursor(cursor string) (kind, value string) {
	for i := 0; i < len(cursor); i++ {
		if cursor[i] == ':' {
			return cursor[:i], cursor[i+1:]
		}
	}
	return "", cursor
}

// Deps bundles what both gmail and calendar stream drivers need.
type Deps struct {
	Client    *oauthclient.Client
	Writer    streamdriver.RawRowWriter
	Cursors   streamdriver.CursorStore
	Enqueue   streamdriver.EnqueueTransforms
	SourceTab string // set per-driver to the stream's raw table name
}
