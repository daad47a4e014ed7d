package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/httpapi/auth"
	"github.com/fernfall/dayline/internal/ingest"
	"github.com/fernfall/dayline/internal/pairing"
	"github.com/fernfall/dayline/internal/platform/logging"
	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/storage/memstore"
)

func newTestServer(t *testing.T) (*Server, domain.SourceConnection) {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()

	sc, err := store.CreateSource(ctx, domain.SourceConnection{
		Kind:          "ios",
		Auth:          domain.AuthDevice,
		PairingStatus: domain.PairingPending,
	})
	require.NoError(t, err)
	_, err = store.CreateStream(ctx, domain.StreamConnection{SourceID: sc.ID, StreamKind: "healthkit", Enabled: true})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(registry.SourceKind{
		Name: "ios",
		Auth: domain.AuthDevice,
		Streams: map[string]registry.StreamKind{
			"healthkit": {Name: "healthkit", TargetTables: []string{"health_heart_rate"}},
		},
	})

	pairingSvc := pairing.New(pairing.NewMemoryCodeStore(), store, store, time.Minute)
	ingestSvc := ingest.New(store, reg, pairingSvc, nil, nil)
	sessions := auth.NewSessionManager("test-signing-key", time.Hour)

	s := New(Config{
		Gateway:  store,
		Registry: reg,
		Ingest:   ingestSvc,
		Pairing:  pairingSvc,
		Sessions: sessions,
		Log:      logging.New("test", "error", "text"),
	})
	return s, sc
}

func TestPairingStartThenComplete_IssuesDeviceToken(t *testing.T) {
	s, sc := newTestServer(t)

	token, _, err := s.sessions.Issue("operator")
	require.NoError(t, err)

	startBody, _ := json.Marshal(pairingStartRequest{SourceID: sc.ID})
	startReq := httptest.NewRequest(http.MethodPost, "/pairing/start", bytes.NewReader(startBody))
	startReq.Header.Set("Authorization", "Bearer "+token)
	startRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(startRec, startReq)
	require.Equal(t, http.StatusOK, startRec.Code)

	var startResp pairingStartResponse
	require.NoError(t, json.NewDecoder(startRec.Body).Decode(&startResp))
	assert.NotEmpty(t, startResp.Code)

	completeBody, _ := json.Marshal(pairingCompleteRequest{
		Code:       startResp.Code,
		DeviceInfo: pairingDeviceInfo{DeviceID: "iphone-1", OS: "ios17"},
	})
	completeReq := httptest.NewRequest(http.MethodPost, "/pairing/complete", bytes.NewReader(completeBody))
	completeRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(completeRec, completeReq)
	require.Equal(t, http.StatusOK, completeRec.Code)

	var completeResp pairingCompleteResponse
	require.NoError(t, json.NewDecoder(completeRec.Body).Decode(&completeResp))
	assert.NotEmpty(t, completeResp.DeviceToken)
	assert.Equal(t, sc.ID, completeResp.SourceID)
	assert.Contains(t, completeResp.AvailableStreams, "healthkit")
}

// TestPairingComplete_ReusedCodeReturns400 pins down scenario S5's literal
// wire contract: a reused pairing code fails with 400, not the 404 that
// apperr.HTTPStatus would otherwise derive from ClassNotFound.
func TestPairingComplete_ReusedCodeReturns400(t *testing.T) {
	s, sc := newTestServer(t)
	ctx := context.Background()

	code, _, err := s.pairing.Start(ctx, sc.ID)
	require.NoError(t, err)

	body, _ := json.Marshal(pairingCompleteRequest{Code: code, DeviceInfo: pairingDeviceInfo{DeviceID: "iphone-1"}})

	firstReq := httptest.NewRequest(http.MethodPost, "/pairing/complete", bytes.NewReader(body))
	firstRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(firstRec, firstReq)
	require.Equal(t, http.StatusOK, firstRec.Code)

	secondReq := httptest.NewRequest(http.MethodPost, "/pairing/complete", bytes.NewReader(body))
	secondRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(secondRec, secondReq)
	assert.Equal(t, http.StatusBadRequest, secondRec.Code)
}

func TestPairingStart_WithoutSessionReturns401(t *testing.T) {
	s, sc := newTestServer(t)

	body, _ := json.Marshal(pairingStartRequest{SourceID: sc.ID})
	req := httptest.NewRequest(http.MethodPost, "/pairing/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
