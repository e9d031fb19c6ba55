package api

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/api/middleware"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/engine"
)

// proxyClient forwards passthrough calls to engines
var proxyClient = &http.Client{Timeout: 30 * time.Second}

// handleEnginesHealth probes every engine live and reports the results
func (s *Server) handleEnginesHealth(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	results := s.prober.ProbeAll(r.Context())

	healthy := 0
	for _, result := range results {
		if result.Status == engine.HealthUp {
			healthy++
		}
	}

	writeSuccess(w, http.StatusOK, requestID, "Engine health probed", map[string]any{
		"engines": results,
		"healthy": healthy,
		"total":   len(results),
	})
}

// handleEnginesStatus reports the registry's tracked health state without
// issuing new probes
func (s *Server) handleEnginesStatus(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	snapshot := s.registry.Snapshot()

	engines := make([]map[string]any, 0, len(snapshot))
	for _, eng := range s.registry.Engines() {
		state := snapshot[eng.ID]

		capabilities := make([]string, 0, len(eng.Capabilities))
		for capability := range eng.Capabilities {
			capabilities = append(capabilities, string(capability))
		}

		engines = append(engines, map[string]any{
			"id":                   eng.ID,
			"name":                 eng.Name,
			"base_url":             eng.BaseURL,
			"status":               state.Status,
			"consecutive_failures": state.ConsecutiveFailures,
			"last_checked":         state.LastChecked,
			"error":                state.Error,
			"capabilities":         capabilities,
		})
	}

	writeSuccess(w, http.StatusOK, requestID, "Engine status retrieved", map[string]any{
		"engines": engines,
	})
}

// handleEngineProxy forwards a request straight to one engine, for operators
// exercising a single engine without a composite flow
func (s *Server) handleEngineProxy(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)
	vars := mux.Vars(r)

	eng, ok := s.registry.Get(engine.ID(vars["id"]))
	if !ok {
		writeError(w, http.StatusNotFound, requestID, "Unknown engine")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, requestID, "Failed to read request body", err.Error())
		return
	}

	url := eng.BaseURL + "/" + vars["path"]
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, requestID, "Failed to build engine request", err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := proxyClient.Do(req)
	if err != nil {
		s.registry.RecordFailure(eng.ID, err.Error())
		writeError(w, http.StatusServiceUnavailable, requestID, "Engine unreachable", err.Error())
		return
	}
	defer resp.Body.Close()

	s.registry.RecordSuccess(eng.ID)

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
