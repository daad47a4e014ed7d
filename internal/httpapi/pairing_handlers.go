package httpapi

import (
	"net/http"
	"time"

	"github.com/fernfall/dayline/internal/pairing"
)

type pairingStartRequest struct {
	SourceID string `json:"source_id"`
}

type pairingStartResponse struct {
	Code      string `json:"code"`
	ExpiresAt string `json:"expires_at"`
}

// pairingStart issues a one-time pairing code for an already-created
// device-backed source connection: POST /pairing/start (spec §4.5, §6).
func (s *Server) pairingStart(w http.ResponseWriter, r *http.Request) {
	var req pairingStartRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SourceID == "" {
		writeError(w, http.StatusBadRequest, errMissingSourceID)
		return
	}

	code, expiresAt, err := s.pairing.Start(r.Context(), req.SourceID)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairingStartResponse{
		Code:      code,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	})
}

type pairingCompleteRequest struct {
	Code       string            `json:"code"`
	DeviceInfo pairingDeviceInfo `json:"device_info"`
}

type pairingDeviceInfo struct {
	DeviceID string `json:"device_id"`
	OS       string `json:"os"`
}

type pairingCompleteResponse struct {
	DeviceToken      string   `json:"device_token"`
	SourceID         string   `json:"source_id"`
	AvailableStreams []string `json:"available_streams"`
}

// pairingComplete exchanges a pairing code plus device info for a device
// token: POST /pairing/complete (spec §4.5, §6, S5). A reused or expired
// code fails with 400 per S5's literal behavior.
func (s *Server) pairingComplete(w http.ResponseWriter, r *http.Request) {
	var req pairingCompleteRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, errMissingCode)
		return
	}

	result, err := s.pairing.Complete(r.Context(), req.Code, pairing.DeviceInfo{
		DeviceID: req.DeviceInfo.DeviceID,
		OS:       req.DeviceInfo.OS,
	})
	if err != nil {
		// S5: a reused/expired/unknown code is surfaced as 400 regardless of
		// the underlying NotFound classification, matching the scenario's
		// literal wire contract.
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, pairingCompleteResponse{
		DeviceToken:      result.DeviceToken,
		SourceID:         result.SourceID,
		AvailableStreams: result.AvailableStreams,
	})
}

type devicesVerifyResponse struct {
	ConfigurationComplete bool     `json:"configuration_complete"`
	EnabledStreams        []string `json:"enabled_streams"`
}

// devicesVerify lets an already-paired device confirm its configuration:
// POST /devices/verify, authenticated via Authorization: <device-token>
// (spec §4.5, §6).
func (s *Server) devicesVerify(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token == "" {
		writeError(w, http.StatusUnauthorized, errMissingDeviceToken)
		return
	}
	result, err := s.pairing.Verify(r.Context(), token)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devicesVerifyResponse{
		ConfigurationComplete: result.ConfigurationComplete,
		EnabledStreams:        result.EnabledStreams,
	})
}

const (
	errMissingSourceID    sentinelError = "source_id is required"
	errMissingCode        sentinelError = "code is required"
	errMissingDeviceToken sentinelError = "Authorization header is required"
)
