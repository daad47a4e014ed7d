// Package pairing implements the time-bounded code -> device-token exchange
// that attaches a physical device to a pending source connection (spec
// §4.5): a short one-time pairing code issued to the logged-in web user,
// exchanged by the device for a long-lived device token.
package pairing

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/apperr"
)

// codeAlphabet excludes visually ambiguous characters (0/O, 1/I) from the
// 6-character pairing code, per spec §4.5.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// CodeStore persists one-time pairing codes with a TTL. Issue/Consume must
// be safe for concurrent use; Consume must be atomic (check-and-delete) so
// a reused code never succeeds twice (spec §4.5 invariant, S5).
type CodeStore interface {
	Issue(ctx context.Context, code, sourceID string, ttl time.Duration) error
	Consume(ctx context.Context, code string) (sourceID string, err error)
}

// SourceStore is the slice of storage.SourceStore pairing needs.
type SourceStore interface {
	GetSource(ctx context.Context, id string) (domain.SourceConnection, error)
	ListSources(ctx context.Context) ([]domain.SourceConnection, error)
	UpdateCredentials(ctx context.Context, sourceID string, creds domain.Credentials) error
	SetPairingStatus(ctx context.Context, sourceID string, status domain.PairingStatus) error
}

// StreamStore is the slice of storage.StreamStore pairing needs to report
// available streams back to a newly paired device.
type StreamStore interface {
	ListStreams(ctx context.Context, sourceID string) ([]domain.StreamConnection, error)
}

// DeviceInfo is what the device reports at pairing completion time.
type DeviceInfo struct {
	DeviceID string
	OS       string
}

// CompleteResult is returned to the device on a successful pairing exchange.
type CompleteResult struct {
	DeviceToken      string
	SourceID         string
	AvailableStreams []string
}

// VerifyResult is returned to an already-paired device checking its token.
type VerifyResult struct {
	ConfigurationComplete bool
	EnabledStreams        []string
}

// Service drives the two-step pairing exchange (spec §4.5) and the
// companion verify endpoint.
type Service struct {
	codes   CodeStore
	sources SourceStore
	streams StreamStore
	ttl     time.Duration
}

// New builds a pairing Service. ttl is the pairing code lifetime (default
// 10 minutes per spec §4.5 / PAIRING_CODE_TTL).
func New(codes CodeStore, sources SourceStore, streams StreamStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{codes: codes, sources: sources, streams: streams, ttl: ttl}
}

// Start issues a pairing code for sourceID, a source connection the caller
// has already created in PairingPending state. Retries on a rare code
// collision against an already-live code.
func (s *Service) Start(ctx context.Context, sourceID string) (code string, expiresAt time.Time, err error) {
	if _, err := s.sources.GetSource(ctx, sourceID); err != nil {
		return "", time.Time{}, err
	}

	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, genErr := randomCode()
		if genErr != nil {
			return "", time.Time{}, apperr.Wrap(apperr.ClassServerTransient, "generate pairing code", genErr)
		}
		if issueErr := s.codes.Issue(ctx, candidate, sourceID, s.ttl); issueErr == nil {
			return candidate, time.Now().Add(s.ttl), nil
		} else if !apperr.Is(issueErr, apperr.ClassConflict) {
			return "", time.Time{}, issueErr
		}
	}
	return "", time.Time{}, apperr.New(apperr.ClassServerTransient, "could not allocate a unique pairing code")
}

// Complete consumes code exactly once and mints a device token for the
// source it was issued against. A second call with the same code fails with
// a NotFound-classified error (spec §4.5, S5).
func (s *Service) Complete(ctx context.Context, code string, info DeviceInfo) (CompleteResult, error) {
	sourceID, err := s.codes.Consume(ctx, code)
	if err != nil {
		return CompleteResult{}, err
	}

	token, err := mintDeviceToken()
	if err != nil {
		return CompleteResult{}, apperr.Wrap(apperr.ClassServerTransient, "mint device token", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return CompleteResult{}, apperr.Wrap(apperr.ClassServerTransient, "hash device token", err)
	}

	if err := s.sources.UpdateCredentials(ctx, sourceID, domain.Credentials{
		DeviceID:        info.DeviceID,
		DeviceTokenHash: string(hash),
	}); err != nil {
		return CompleteResult{}, err
	}
	if err := s.sources.SetPairingStatus(ctx, sourceID, domain.PairingActive); err != nil {
		return CompleteResult{}, err
	}

	streamConns, err := s.streams.ListStreams(ctx, sourceID)
	if err != nil {
		return CompleteResult{}, err
	}
	names := make([]string, 0, len(streamConns))
	for _, sc := range streamConns {
		names = append(names, sc.StreamKind)
	}

	return CompleteResult{DeviceToken: token, SourceID: sourceID, AvailableStreams: names}, nil
}

// Authenticate resolves a device token to its source connection. Sources in
// this system number in the single digits (non-goal: multi-tenancy), so a
// linear bcrypt comparison over active device-backed sources is simpler and
// just as fast in practice as indexing a deterministic hash would be.
func (s *Service) Authenticate(ctx context.Context, deviceToken string) (domain.SourceConnection, error) {
	sources, err := s.sources.ListSources(ctx)
	if err != nil {
		return domain.SourceConnection{}, err
	}
	for _, sc := range sources {
		if sc.Auth != domain.AuthDevice || sc.PairingStatus != domain.PairingActive {
			continue
		}
		if sc.Credentials.DeviceTokenHash == "" {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(sc.Credentials.DeviceTokenHash), []byte(deviceToken)) == nil {
			return sc, nil
		}
	}
	return domain.SourceConnection{}, apperr.New(apperr.ClassAuth, "device token is invalid or not paired")
}

// Verify lets an already-paired device confirm its token is still valid and
// fetch the current enabled-stream configuration (spec §4.5's companion
// verify endpoint).
func (s *Service) Verify(ctx context.Context, deviceToken string) (VerifyResult, error) {
	sc, err := s.Authenticate(ctx, deviceToken)
	if err != nil {
		return VerifyResult{}, err
	}
	streamConns, err := s.streams.ListStreams(ctx, sc.ID)
	if err != nil {
		return VerifyResult{}, err
	}
	enabled := make([]string, 0, len(streamConns))
	for _, conn := range streamConns {
		if conn.Enabled {
			enabled = append(enabled, conn.StreamKind)
		}
	}
	return VerifyResult{ConfigurationComplete: len(streamConns) > 0, EnabledStreams: enabled}, nil
}

func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func mintDeviceToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "dvtok_" + base64.RawURLEncoding.EncodeToString(buf), nil
}
