package oauthclient

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/registry"
)

// ProviderCredential is one source kind's OAuth application id/secret.
type ProviderCredential struct {
	ClientID     string
	ClientSecret string
}

// FlowSourceStore is the slice of storage.SourceStore the authorization
// code grant needs: it creates a new active source connection on first
// connect, or refreshes credentials on reconnect of an existing one.
type FlowSourceStore interface {
	CreateSource(ctx context.Context, sc domain.SourceConnection) (domain.SourceConnection, error)
	ListSources(ctx context.Context) ([]domain.SourceConnection, error)
	UpdateCredentials(ctx context.Context, sourceID string, creds domain.Credentials) error
	SetActive(ctx context.Context, sourceID string, active bool) error
}

// Flow drives the authorization code grant a web user completes when
// connecting an OAuth source kind for the first time (spec §4.2/§6). It is
// distinct from Client, which makes already-authenticated calls against a
// connected source.
type Flow struct {
	reg         *registry.Registry
	sources     FlowSourceStore
	creds       map[string]ProviderCredential
	states      StateStore
	httpClient  *http.Client
	redirectURL string
	postAuthURL string
	stateTTL    time.Duration
}

// NewFlow builds a Flow. redirectURL is this server's own /oauth/callback
// URL, registered with each provider's app console. postAuthURL is where the
// user's browser lands after a successful connect.
func NewFlow(reg *registry.Registry, sources FlowSourceStore, creds map[string]ProviderCredential, states StateStore, redirectURL, postAuthURL string) *Flow {
	return &Flow{
		reg:         reg,
		sources:     sources,
		creds:       creds,
		states:      states,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		redirectURL: redirectURL,
		postAuthURL: postAuthURL,
		stateTTL:    10 * time.Minute,
	}
}

// AuthorizeURL builds the provider redirect for GET /oauth/start?source=kind,
// issuing a one-time CSRF state param bound to that source kind.
func (f *Flow) AuthorizeURL(ctx context.Context, sourceKind string) (string, error) {
	sk, ok := f.reg.Source(sourceKind)
	if !ok {
		return "", apperr.New(apperr.ClassValidation, "unknown source kind "+sourceKind)
	}
	if sk.Auth != domain.AuthOAuth {
		return "", apperr.New(apperr.ClassValidation, "source kind "+sourceKind+" is not OAuth-backed")
	}
	cred, ok := f.creds[sourceKind]
	if !ok || cred.ClientID == "" {
		return "", apperr.New(apperr.ClassValidation, "no OAuth client configured for "+sourceKind)
	}

	state, err := randomState()
	if err != nil {
		return "", apperr.Wrap(apperr.ClassServerTransient, "generate oauth state", err)
	}
	if err := f.states.Issue(ctx, state, sourceKind, f.stateTTL); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", cred.ClientID)
	q.Set("redirect_uri", f.redirectURL)
	q.Set("response_type", "code")
	q.Set("state", state)
	if len(sk.OAuth.Scopes) > 0 {
		q.Set("scope", strings.Join(sk.OAuth.Scopes, " "))
	}
	return sk.OAuth.AuthorizeURL + "?" + q.Encode(), nil
}

// Callback completes GET /oauth/callback?code=&state=: consumes the state,
// exchanges the code for tokens, and upserts the source connection,
// returning the redirect target the browser should follow next.
func (f *Flow) Callback(ctx context.Context, code, state string) (redirectTo string, sourceID string, err error) {
	sourceKind, err := f.states.Consume(ctx, state)
	if err != nil {
		return "", "", err
	}

	sk, ok := f.reg.Source(sourceKind)
	if !ok {
		return "", "", apperr.New(apperr.ClassValidation, "unknown source kind "+sourceKind)
	}
	cred, ok := f.creds[sourceKind]
	if !ok {
		return "", "", apperr.New(apperr.ClassValidation, "no OAuth client configured for "+sourceKind)
	}

	creds, err := f.exchangeCode(ctx, sk.OAuth.TokenURL, cred, code)
	if err != nil {
		return "", "", err
	}

	sc, err := f.upsertSource(ctx, sourceKind, creds)
	if err != nil {
		return "", "", err
	}

	redirect := f.postAuthURL
	sep := "?"
	if strings.Contains(redirect, "?") {
		sep = "&"
	}
	redirect = fmt.Sprintf("%s%ssource_id=%s&connected=true", redirect, sep, url.QueryEscape(sc.ID))
	return redirect, sc.ID, nil
}

func (f *Flow) upsertSource(ctx context.Context, sourceKind string, creds domain.Credentials) (domain.SourceConnection, error) {
	existing, err := f.sources.ListSources(ctx)
	if err != nil {
		return domain.SourceConnection{}, err
	}
	for _, sc := range existing {
		if sc.Kind == sourceKind && sc.Auth == domain.AuthOAuth {
			if err := f.sources.UpdateCredentials(ctx, sc.ID, creds); err != nil {
				return domain.SourceConnection{}, err
			}
			if err := f.sources.SetActive(ctx, sc.ID, true); err != nil {
				return domain.SourceConnection{}, err
			}
			sc.Credentials = creds
			sc.Active = true
			return sc, nil
		}
	}
	return f.sources.CreateSource(ctx, domain.SourceConnection{
		Kind:        sourceKind,
		Auth:        domain.AuthOAuth,
		Credentials: creds,
		Active:      true,
	})
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (f *Flow) exchangeCode(ctx context.Context, tokenURL string, cred ProviderCredential, code string) (domain.Credentials, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", f.redirectURL)
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", cred.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Credentials{}, apperr.Wrap(apperr.ClassClientPermanent, "build token exchange request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return domain.Credentials{}, apperr.Wrap(apperr.ClassNetworkTransient, "token exchange transport error", err)
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Credentials{}, apperr.Wrap(apperr.ClassServerTransient, "decode token exchange response", err)
	}
	if resp.StatusCode != http.StatusOK || body.AccessToken == "" {
		return domain.Credentials{}, apperr.New(apperr.ClassAuth, fmt.Sprintf("token exchange failed with status %d", resp.StatusCode))
	}

	expiresAt := time.Time{}
	if body.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	return domain.Credentials{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func randomState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
