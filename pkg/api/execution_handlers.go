package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/api/middleware"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/storage"
)

// handleGetExecution retrieves a finished execution, first from the
// orchestrator's retention cache, then from durable storage
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)
	executionID := mux.Vars(r)["id"]

	if exec, ok := s.orchestrator.GetExecution(executionID); ok {
		writeSuccess(w, http.StatusOK, requestID, "Execution retrieved", map[string]any{
			"execution": exec,
		})
		return
	}

	if s.executions != nil {
		exec, err := s.executions.GetExecution(executionID)
		if err == nil {
			writeSuccess(w, http.StatusOK, requestID, "Execution retrieved", map[string]any{
				"execution": exec,
			})
			return
		}
		if err != storage.ErrExecutionNotFound {
			writeError(w, http.StatusInternalServerError, requestID, "Failed to load execution", err.Error())
			return
		}
	}

	writeError(w, http.StatusNotFound, requestID, "Execution not found")
}

// handleListExecutions lists the caller's persisted executions
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	accountID, ok := middleware.GetAccountID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, requestID, "Authentication required")
		return
	}

	if s.executions == nil {
		writeSuccess(w, http.StatusOK, requestID, "Executions retrieved", map[string]any{
			"executions": []any{},
		})
		return
	}

	executions, err := s.executions.ListExecutions(accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, requestID, "Failed to list executions", err.Error())
		return
	}

	writeSuccess(w, http.StatusOK, requestID, "Executions retrieved", map[string]any{
		"executions": executions,
	})
}
