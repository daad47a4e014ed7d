// Package objectstore is a minimal S3-compatible REST client for the blobs
// spec §4.3/§4.4/§5 call for (audio, large file bodies): PUT/GET/HEAD over
// net/http authenticated with the configured access/secret key, streamed
// rather than buffered; it does not generate presigned URLs. In the style of the
// teacher's hand-rolled Supabase Storage REST client (pkg/blob) rather than
// a full cloud SDK.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fernfall/dayline/internal/platform/apperr"
)

// Config points the client at one S3-compatible endpoint and bucket.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Client performs streamed PUT/GET/HEAD against one bucket. Blobs live
// under a single shared bucket with per-source key prefixes
// ({source_id}/{stream_kind}/{provider_record_id}), per SPEC_FULL.md §12's
// resolution of spec §9 Open Question (a).
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client. cfg.Endpoint and cfg.Bucket are required; an empty
// AccessKey/SecretKey is valid for local/dev stores that skip auth.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, http: &http.Client{}}
}

// Key builds the canonical blob key for one raw record.
func Key(sourceID, streamKind, providerRecordID string) string {
	return fmt.Sprintf("%s/%s/%s", sourceID, streamKind, providerRecordID)
}

func (c *Client) objectURL(key string) string {
	return strings.TrimRight(c.cfg.Endpoint, "/") + "/" + c.cfg.Bucket + "/" + key
}

// Put streams body to key via a PUT request. The caller provides content
// length when known so the object store need not buffer the body.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, contentType string, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key), body)
	if err != nil {
		return apperr.Wrap(apperr.ClassClientPermanent, "build object put request", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if size >= 0 {
		req.ContentLength = size
	}
	c.sign(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.ClassNetworkTransient, "object store put transport error", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Wrap(classifyStatus(resp.StatusCode), fmt.Sprintf("object store put returned %d", resp.StatusCode), nil)
	}
	return nil
}

// Get streams key back as an io.ReadCloser; the caller must Close it.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.ClassClientPermanent, "build object get request", err)
	}
	c.sign(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.ClassNetworkTransient, "object store get transport error", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, apperr.Wrap(classifyStatus(resp.StatusCode), fmt.Sprintf("object store get returned %d", resp.StatusCode), nil)
	}
	return resp.Body, nil
}

// Exists reports whether key is present, via a HEAD request. The device
// ingest endpoint uses this to verify a referenced blob was actually
// uploaded before attaching its key to a raw row (spec §4.4).
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.objectURL(key), nil)
	if err != nil {
		return false, apperr.Wrap(apperr.ClassClientPermanent, "build object head request", err)
	}
	c.sign(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, apperr.Wrap(apperr.ClassNetworkTransient, "object store head transport error", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, apperr.Wrap(classifyStatus(resp.StatusCode), fmt.Sprintf("object store head returned %d", resp.StatusCode), nil)
	}
}

// sign attaches the access/secret key as HTTP Basic credentials. Real
// S3-compatible deployments front this endpoint with SigV4 at the
// load balancer; the core only needs a stable way to authenticate its own
// calls against whatever the operator put in front of OBJECT_STORE_ENDPOINT.
func (c *Client) sign(req *http.Request) {
	if c.cfg.AccessKey == "" {
		return
	}
	req.SetBasicAuth(c.cfg.AccessKey, c.cfg.SecretKey)
}

func classifyStatus(status int) apperr.Class {
	switch {
	case status == http.StatusNotFound:
		return apperr.ClassNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return apperr.ClassAuth
	case status == http.StatusTooManyRequests:
		return apperr.ClassRateLimit
	case status >= 500:
		return apperr.ClassServerTransient
	default:
		return apperr.ClassClientPermanent
	}
}
