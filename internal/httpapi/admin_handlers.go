package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// adminListSources: GET /admin/sources.
func (s *Server) adminListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.gw.ListSources(r.Context())
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// adminListStreams: GET /admin/sources/{id}/streams.
func (s *Server) adminListStreams(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]
	streams, err := s.gw.ListStreams(r.Context(), sourceID)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, streams)
}

// adminListJobs: GET /admin/jobs?limit=.
func (s *Server) adminListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	jobs, err := s.gw.ListJobs(r.Context(), limit)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// adminListSyncLogs: GET /admin/sync_logs?source_id=&limit=.
func (s *Server) adminListSyncLogs(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		writeError(w, http.StatusBadRequest, errMissingSourceID)
		return
	}
	limit := parseLimit(r, 50)
	logs, err := s.gw.ListSyncLogs(r.Context(), sourceID, limit)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

type healthResponse struct {
	Status         string  `json:"status"`
	LoadAvg1       float64 `json:"load_avg_1"`
	MemUsedPercent float64 `json:"mem_used_percent"`
}

// adminHealth reports a host resource snapshot alongside liveness: GET
// /admin/health.
func (s *Server) adminHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if avg, err := load.AvgWithContext(r.Context()); err == nil {
		resp.LoadAvg1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemUsedPercent = vm.UsedPercent
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
