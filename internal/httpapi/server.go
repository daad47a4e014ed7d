// Package httpapi exposes the device ingest, OAuth, pairing, and admin
// surfaces over HTTP (spec §6).
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fernfall/dayline/internal/httpapi/auth"
	"github.com/fernfall/dayline/internal/ingest"
	"github.com/fernfall/dayline/internal/oauthclient"
	"github.com/fernfall/dayline/internal/pairing"
	"github.com/fernfall/dayline/internal/platform/apperr"
	"github.com/fernfall/dayline/internal/platform/logging"
	"github.com/fernfall/dayline/internal/platform/metrics"
	"github.com/fernfall/dayline/internal/registry"
	"github.com/fernfall/dayline/internal/scheduler"
	"github.com/fernfall/dayline/internal/storage"
)

// maxIngestBodyBytes bounds one device batch request, beyond which the
// handler responds 413 rather than buffering an unbounded body (spec §5's
// ingest backpressure rule).
const maxIngestBodyBytes = 5 << 20 // 5 MiB

// Server bundles every dependency the HTTP surface needs.
type Server struct {
	gw          storage.Gateway
	reg         *registry.Registry
	ingest      *ingest.Service
	pairing     *pairing.Service
	oauth       *oauthclient.Flow
	sched       *scheduler.Scheduler
	sessions    *auth.SessionManager
	log         *logging.Logger
	router      *mux.Router
	postAuthURL string
}

// Config bundles Server's dependencies.
type Config struct {
	Gateway     storage.Gateway
	Registry    *registry.Registry
	Ingest      *ingest.Service
	Pairing     *pairing.Service
	OAuth       *oauthclient.Flow
	Scheduler   *scheduler.Scheduler
	Sessions    *auth.SessionManager
	Log         *logging.Logger
	PostAuthURL string
}

// New builds the HTTP router with every route and the middleware chain,
// outermost first: CORS (applied in Handler) -> metrics -> audit-logging ->
// session auth on the routes that require it.
func New(cfg Config) *Server {
	s := &Server{
		gw:          cfg.Gateway,
		reg:         cfg.Registry,
		ingest:      cfg.Ingest,
		pairing:     cfg.Pairing,
		oauth:       cfg.OAuth,
		sched:       cfg.Scheduler,
		sessions:    cfg.Sessions,
		log:         cfg.Log,
		postAuthURL: cfg.PostAuthURL,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the fully wrapped http.Handler ready for http.Server.
func (s *Server) Handler() http.Handler {
	// CORS wraps the router rather than being registered with router.Use:
	// mux runs Use middleware only on a full route match, so an OPTIONS
	// preflight to a GET- or POST-only route would get 405 without it.
	return corsMiddleware(s.router)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/oauth/start", s.oauthStart).Methods(http.MethodGet)
	r.HandleFunc("/oauth/callback", s.oauthCallback).Methods(http.MethodGet)

	r.HandleFunc("/pairing/start", s.withAuditAndMetrics("pairing_start", s.requireSession(s.pairingStart))).Methods(http.MethodPost)
	r.HandleFunc("/pairing/complete", s.withAuditAndMetrics("pairing_complete", s.pairingComplete)).Methods(http.MethodPost)
	r.HandleFunc("/devices/verify", s.withAuditAndMetrics("devices_verify", s.devicesVerify)).Methods(http.MethodPost)

	r.HandleFunc("/ingest/{stream}", s.withAuditAndMetrics("ingest", s.limitBody(s.ingestBatch))).Methods(http.MethodPost)

	r.HandleFunc("/admin/sources", s.withAuditAndMetrics("admin_sources", s.requireSession(s.adminListSources))).Methods(http.MethodGet)
	r.HandleFunc("/admin/sources/{id}/streams", s.withAuditAndMetrics("admin_source_streams", s.requireSession(s.adminListStreams))).Methods(http.MethodGet)
	r.HandleFunc("/admin/jobs", s.withAuditAndMetrics("admin_jobs", s.requireSession(s.adminListJobs))).Methods(http.MethodGet)
	r.HandleFunc("/admin/sync_logs", s.withAuditAndMetrics("admin_sync_logs", s.requireSession(s.adminListSyncLogs))).Methods(http.MethodGet)
	r.HandleFunc("/admin/health", s.withAuditAndMetrics("admin_health", s.adminHealth)).Methods(http.MethodGet)

	return r
}

// withAuditAndMetrics wraps a handler with request logging and Prometheus
// instrumentation, named by route for low cardinality (teacher's
// wrapWithAudit -> metrics.InstrumentHandler ordering, adapted per-route
// instead of globally since routes here carry distinct SLOs).
func (s *Server) withAuditAndMetrics(route string, next http.HandlerFunc) http.HandlerFunc {
	wrapped := s.withAudit(route, next)
	instrumented := metrics.InstrumentHandler(route, wrapped)
	return func(w http.ResponseWriter, r *http.Request) {
		instrumented.ServeHTTP(w, r)
	}
}

func (s *Server) withAudit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.log.LogHTTPRequest(r.Context(), r.Method, route, rec.status, 0)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// corsMiddleware allows a companion web dashboard to call the admin surface
// from a different origin, short-circuiting preflight requests (grounded on
// the teacher's wrapWithCORS).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireSession enforces a valid web-user JWT on admin/pairing-start
// routes (spec §11's session-token wiring).
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.sessions.ValidateRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		ctx := auth.WithClaims(r.Context(), claims)
		next(w, r.WithContext(ctx))
	}
}

// limitBody caps the request body per spec §5's backpressure rule,
// responding 413 rather than buffering an oversize payload.
func (s *Server) limitBody(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodyBytes)
		next(w, r)
	}
}

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeClassifiedError maps a classified error to its HTTP status via
// apperr.HTTPStatus, falling back to 500 for unclassified errors.
func writeClassifiedError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	writeError(w, apperr.HTTPStatus(apperr.ClassOf(err)), err)
}
