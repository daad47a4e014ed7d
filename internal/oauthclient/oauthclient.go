// Package oauthclient implements the single HTTP client abstraction spec
// §4.2 calls for: token refresh, bounded retries with exponential backoff
// and jitter, rate-limit handling, and error classification via a
// per-provider ErrorHandler strategy.
package oauthclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/platform/logging"
	"github.com/fernfall/dayline/internal/platform/resilience"
)

// TokenExpirySafetyMargin is how far ahead of expiry a token is refreshed
// proactively, per spec §4.2.
const TokenExpirySafetyMargin = 60 * time.Second

// HTTPResponse is the result of a classified call.
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// ErrorHandler classifies a provider's HTTP response into the shared
// taxonomy. Per-provider code is limited to this plus credential endpoints
// and stream-specific paging (spec §9).
type ErrorHandler interface {
	Classify(resp *http.Response, body []byte) apperr.Class
}

// CredentialStore persists refreshed credentials atomically, so concurrent
// refreshers racing on an expired token converge on the last writer with no
// caller observing AuthError (spec §8 property 5).
type CredentialStore interface {
	SaveCredentials(ctx context.Context, sourceID string, creds domain.Credentials) error
}

// RefreshLock serializes concurrent refresh attempts for one source so that
// at most one refresh call reaches the provider even when many requests
// observe an expired token simultaneously.
type RefreshLock interface {
	// WithLock runs fn while holding an exclusive lock keyed by sourceID.
	// Implementations must be safe for concurrent use across processes
	// (e.g. backed by Redis) or, for the in-process fallback, a mutex.
	WithLock(ctx context.Context, sourceID string, fn func() error) error
}

// TokenExchanger exchanges a refresh token for a new access token against a
// source kind's token URL.
type TokenExchanger interface {
	Exchange(ctx context.Context, tokenURL, refreshToken string) (domain.Credentials, error)
}

// Client performs authenticated calls against one provider host.
type Client struct {
	http       *http.Client
	log        *logging.Logger
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	errHandler ErrorHandler
	exchanger  TokenExchanger
	creds      CredentialStore
	lock       RefreshLock
}

// Option customizes Client construction.
type Option func(*Client)

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithRateLimit caps outbound requests per second ahead of the retry loop.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// New builds a Client for one provider host.
func New(log *logging.Logger, errHandler ErrorHandler, exchanger TokenExchanger, creds CredentialStore, lock RefreshLock, opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 30 * time.Second},
		log:        log,
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		retry:      resilience.DefaultRetryConfig(),
		errHandler: errHandler,
		exchanger:  exchanger,
		creds:      creds,
		lock:       lock,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request performs method/url against the provider, transparently
// refreshing credentials as needed (spec §4.2).
func (c *Client) Request(ctx context.Context, sc *domain.SourceConnection, tokenURL, method, url string, headers http.Header, body []byte) (HTTPResponse, error) {
	if sc.Credentials.Expired(TokenExpirySafetyMargin, time.Now()) {
		if err := c.refresh(ctx, sc, tokenURL, false); err != nil {
			return HTTPResponse{}, err
		}
	}

	resp, err := c.doWithRetry(ctx, sc, method, url, headers, body)
	if err == nil {
		return resp, nil
	}

	if apperr.Is(err, apperr.ClassAuth) {
		// One refresh-and-retry on 401, per spec §4.2. A second 401
		// escalates without a further refresh attempt. The refresh is forced:
		// the provider rejected the token even if its expiry has not passed.
		if refreshErr := c.refresh(ctx, sc, tokenURL, true); refreshErr != nil {
			return HTTPResponse{}, refreshErr
		}
		resp, err = c.doOnce(ctx, sc, method, url, headers, body)
		if err != nil {
			return HTTPResponse{}, apperr.Wrap(apperr.ClassAuth, "reauthentication failed after refresh", err)
		}
		return resp, nil
	}
	return HTTPResponse{}, err
}

// Refresh exchanges the refresh token for a new access token and persists
// it atomically. It does nothing while the current token is unexpired.
// With a RefreshLock, concurrent callers against the same source converge:
// the lock ensures only one reaches the provider; the rest observe the
// already-refreshed credentials once the lock releases (spec §8 property 5).
// With a nil lock, concurrent callers each call the provider and the last
// saved credentials win.
func (c *Client) Refresh(ctx context.Context, sc *domain.SourceConnection, tokenURL string) error {
	return c.refresh(ctx, sc, tokenURL, false)
}

// refresh exchanges the refresh token when the access token has expired, or
// unconditionally when force is set.
func (c *Client) refresh(ctx context.Context, sc *domain.SourceConnection, tokenURL string, force bool) error {
	do := func() error {
		if !force && !sc.Credentials.Expired(TokenExpirySafetyMargin, time.Now()) {
			// Another waiter already refreshed while we queued for the lock.
			return nil
		}
		newCreds, err := c.exchanger.Exchange(ctx, tokenURL, sc.Credentials.RefreshToken)
		if err != nil {
			return apperr.Wrap(apperr.ClassAuth, "token refresh failed", err)
		}
		if err := c.creds.SaveCredentials(ctx, sc.ID, newCreds); err != nil {
			return apperr.Wrap(apperr.ClassServerTransient, "persist refreshed credentials", err)
		}
		sc.Credentials = newCreds
		return nil
	}
	if c.lock == nil {
		return do()
	}
	return c.lock.WithLock(ctx, sc.ID, do)
}

// doWithRetry retries only classes resilience.Retry should actually keep
// retrying (RateLimit/ServerTransient/NetworkTransient per apperr's
// taxonomy); any other classified error returns immediately on first
// occurrence since resilience.Retry itself has no notion of classification.
func (c *Client) doWithRetry(ctx context.Context, sc *domain.SourceConnection, method, url string, headers http.Header, body []byte) (HTTPResponse, error) {
	var result HTTPResponse
	var terminal error

	_, err := resilience.Retry(ctx, c.retry, func(attempt int) error {
		resp, callErr := c.doOnce(ctx, sc, method, url, headers, body)
		if callErr == nil {
			result = resp
			return nil
		}
		if !apperr.ClassOf(callErr).Retryable() {
			terminal = callErr
			return nil // stop the retry loop; Request inspects terminal below
		}
		if ra, ok := callErr.(*resilience.RetryAfter); ok {
			return ra
		}
		return callErr
	})
	if terminal != nil {
		return HTTPResponse{}, terminal
	}
	return result, err
}

func (c *Client) doOnce(ctx context.Context, sc *domain.SourceConnection, method, url string, headers http.Header, body []byte) (HTTPResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return HTTPResponse{}, apperr.Wrap(apperr.ClassNetworkTransient, "rate limiter wait", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return HTTPResponse{}, apperr.Wrap(apperr.ClassClientPermanent, "build request", err)
	}
	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+sc.Credentials.AccessToken)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if c.log != nil {
			c.log.WithContext(ctx).WithField("url", url).Warnf("oauth request transport error: %v", err)
		}
		return HTTPResponse{}, apperr.Wrap(apperr.ClassNetworkTransient, "transport error", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return HTTPResponse{}, apperr.Wrap(apperr.ClassNetworkTransient, "read response body", err)
	}

	if c.log != nil {
		c.log.WithContext(ctx).WithField("url", url).WithField("status", resp.StatusCode).
			WithField("elapsed_ms", time.Since(start).Milliseconds()).Debug("oauth request completed")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return HTTPResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: respBody}, nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		delay := parseRetryAfter(resp.Header.Get("Retry-After"))
		return HTTPResponse{}, &resilience.RetryAfter{
			Err:   apperr.Wrap(apperr.ClassRateLimit, "provider rate limited the request", nil),
			Delay: delay,
		}
	}

	class := c.errHandler.Classify(resp, respBody)
	if class == apperr.ClassNone {
		class = defaultClassify(resp.StatusCode)
	}
	return HTTPResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: respBody},
		apperr.Wrap(class, fmt.Sprintf("provider returned status %d", resp.StatusCode), nil)
}

func defaultClassify(status int) apperr.Class {
	switch {
	case status == http.StatusUnauthorized:
		return apperr.ClassAuth
	case status == http.StatusForbidden, status == http.StatusNotFound, status == http.StatusBadRequest:
		return apperr.ClassClientPermanent
	case status >= 500:
		return apperr.ClassServerTransient
	default:
		return apperr.ClassClientPermanent
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return time.Second
}

// DecodeJSON is a small helper for stream drivers parsing a provider's JSON
// response body.
func DecodeJSON(body []byte, out any) error {
	return json.Unmarshal(body, out)
}
