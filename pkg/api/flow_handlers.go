package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/api/middleware"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/idempotency"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/orchestrator"
)

// runFlowHandler returns the handler for one flow endpoint. Mutating flows
// pass through the idempotency guard before the orchestrator runs.
func (s *Server) runFlowHandler(flowName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetRequestID(r)
		ctx := r.Context()

		def, err := s.flows.Get(flowName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, requestID, "Flow not registered", err.Error())
			return
		}

		payload, err := decodePayload(r)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, requestID, "Invalid request body", err.Error())
			return
		}

		accountID, _ := middleware.GetAccountID(r)

		var key string
		if def.Mutating {
			if client := r.Header.Get("Idempotency-Key"); client != "" {
				key = def.Name + "|" + client
			} else {
				key = idempotency.DeriveKey(def.Name, payload, def.IdempotencyFields)
			}

			reserved, prior, err := s.guard.Reserve(ctx, key)
			if err != nil {
				writeError(w, http.StatusInternalServerError, requestID, "Idempotency check failed", err.Error())
				return
			}
			if !reserved {
				s.answerDuplicate(w, r, requestID, key, prior)
				return
			}
		}

		exec, err := s.orchestrator.Execute(ctx, def.Name, payload, orchestrator.ExecOptions{
			RequestID: requestID,
			AccountID: accountID,
		})
		if err != nil {
			if key != "" {
				if rerr := s.guard.Release(ctx, key); rerr != nil {
					log.Printf("Failed to release idempotency key: %v", rerr)
				}
			}
			writeError(w, http.StatusInternalServerError, requestID, "Flow execution failed", err.Error())
			return
		}

		if s.executions != nil {
			if err := s.executions.SaveExecution(*exec); err != nil {
				log.Printf("Failed to persist execution %s: %v", exec.ID, err)
			}
		}

		status, resp := flowResponse(exec, requestID)

		if key != "" {
			if status >= 500 {
				// Transient failure; free the key so the client can retry
				if err := s.guard.Release(ctx, key); err != nil {
					log.Printf("Failed to release idempotency key: %v", err)
				}
			} else {
				stored, err := json.Marshal(resp)
				if err == nil {
					err = s.guard.Complete(ctx, key, exec.ID, status, stored)
				}
				if err != nil {
					log.Printf("Failed to store idempotency record: %v", err)
				}
			}
		}

		writeJSON(w, status, resp)
	}
}

const (
	duplicateWait     = 2 * time.Second
	duplicatePollTick = 25 * time.Millisecond
)

// answerDuplicate resolves a mutating request whose key is already taken. A
// completed prior is echoed with 409; an in-flight prior gets a bounded wait
// for the original request's result before falling back to a bare conflict.
func (s *Server) answerDuplicate(w http.ResponseWriter, r *http.Request, requestID, key string, prior *idempotency.Record) {
	if prior != nil && prior.State == idempotency.StateInFlight {
		prior = s.awaitOriginal(r.Context(), key, prior)
	}

	if prior != nil && prior.State == idempotency.StateCompleted {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotency-Replayed", "true")
		w.WriteHeader(http.StatusConflict)
		w.Write(prior.Response)
		return
	}

	if prior == nil {
		// The original request failed and released the key; the caller may
		// retry
		writeError(w, http.StatusConflict, requestID,
			"An identical request was attempted but did not complete; retry",
			"idempotency key "+key)
		return
	}

	writeError(w, http.StatusConflict, requestID,
		"An identical request is already in progress",
		"idempotency key "+key)
}

// awaitOriginal polls the guard until the original request completes,
// releases its key, or the wait budget runs out. It returns the freshest
// record observed, or nil when the key was released.
func (s *Server) awaitOriginal(ctx context.Context, key string, prior *idempotency.Record) *idempotency.Record {
	deadline := time.NewTimer(duplicateWait)
	defer deadline.Stop()
	ticker := time.NewTicker(duplicatePollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			record, err := s.guard.Get(ctx, key)
			if err != nil {
				return prior
			}
			if record == nil || record.State == idempotency.StateCompleted {
				return record
			}
			prior = record

		case <-deadline.C:
			return prior

		case <-ctx.Done():
			return prior
		}
	}
}

// decodePayload reads the request body as a JSON object. An empty body is an
// empty payload.
func decodePayload(r *http.Request) (map[string]any, error) {
	payload := map[string]any{}
	err := json.NewDecoder(r.Body).Decode(&payload)
	if err == io.EOF {
		return payload, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// flowResponse maps a terminal execution to an HTTP status and response
// envelope. Degraded executions are successes that name what was missing;
// aborts surface the failing engine's own status, or 503 when the engine was
// unreachable.
func flowResponse(exec *orchestrator.Execution, requestID string) (int, Response) {
	data := map[string]any{
		"execution_id": exec.ID,
		"flow":         exec.FlowName,
		"state":        exec.State,
		"result":       exec.Result,
		"steps":        exec.Steps,
	}

	switch exec.State {
	case orchestrator.StateCompleted:
		return http.StatusOK, Response{
			Success:   true,
			Message:   "Flow completed",
			Data:      data,
			RequestID: requestID,
		}

	case orchestrator.StateDegraded:
		return http.StatusOK, Response{
			Success:   true,
			Message:   "Flow completed with degraded capabilities",
			Data:      data,
			Degraded:  exec.Degraded,
			RequestID: requestID,
		}

	default:
		status := http.StatusInternalServerError
		message := "Flow failed"
		if exec.Failure != nil {
			if exec.Failure.Unavailable {
				status = http.StatusServiceUnavailable
				message = "Service temporarily unavailable"
			} else if exec.Failure.StatusCode > 0 {
				status = exec.Failure.StatusCode
				message = "Flow step rejected"
			}
		}

		return status, Response{
			Success:   false,
			Message:   message,
			Data:      data,
			Errors:    []string{exec.Error},
			RequestID: requestID,
		}
	}
}
