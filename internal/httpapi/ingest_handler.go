package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fernfall/dayline/internal/ingest"
)

// ingestRequest is decoded in one pass: the envelope fields are typed and
// each record is a raw map, so arbitrary stream-specific fields (bpm,
// latitude, blob_key, ...) survive without a union type.
type ingestRequest struct {
	DeviceID string                   `json:"device_id"`
	BatchID  string                   `json:"batch_id"`
	Records  []map[string]any         `json:"records"`
}

type ingestResponse struct {
	Accepted   int                `json:"accepted"`
	Rejected   int                `json:"rejected"`
	Rejections []ingestRejection `json:"rejections,omitempty"`
}

type ingestRejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ingestBatch lands one device push: POST /ingest/{stream}, authenticated
// via Authorization: <device-token> (spec §4.4, §6, S3).
func (s *Server) ingestBatch(w http.ResponseWriter, r *http.Request) {
	streamKind := mux.Vars(r)["stream"]

	token := r.Header.Get("Authorization")
	if token == "" {
		writeError(w, http.StatusUnauthorized, errMissingDeviceToken)
		return
	}
	sc, err := s.ingest.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req ingestRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeClassifiedError(w, err)
		return
	}

	batch := ingest.Batch{DeviceID: req.DeviceID, BatchID: req.BatchID}
	for _, raw := range req.Records {
		rec := ingest.Record{Fields: raw}
		if id, ok := raw["id"].(string); ok {
			rec.ID = id
		}
		if ts, ok := raw["timestamp"].(string); ok {
			rec.Timestamp = ts
		}
		batch.Records = append(batch.Records, rec)
	}

	result, err := s.ingest.Accept(r.Context(), sc, streamKind, batch)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	resp := ingestResponse{Accepted: result.Accepted, Rejected: result.Rejected}
	for _, rej := range result.Rejections {
		resp.Rejections = append(resp.Rejections, ingestRejection{ID: rej.ID, Reason: rej.Reason})
	}
	writeJSON(w, http.StatusOK, resp)
}
