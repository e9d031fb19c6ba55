package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/api/middleware"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/storage"
)

// handleCreateAccount handles account creation. Creating an account that
// already exists answers 409, never a second account.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Phone    string `json:"phone"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, requestID, "Invalid request body", err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, requestID, "Username and password are required")
		return
	}

	accountID, err := s.accountService.CreateAccount(req.Username, req.Password, req.Phone)
	if err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			writeError(w, http.StatusConflict, requestID, "Account already exists")
			return
		}
		writeError(w, http.StatusBadRequest, requestID, "Failed to create account", err.Error())
		return
	}

	account, err := s.accountService.GetAccount(accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, requestID, "Failed to retrieve account", err.Error())
		return
	}

	writeSuccess(w, http.StatusCreated, requestID, "Account created", map[string]any{
		"id":        account.ID,
		"username":  account.Username,
		"phone":     account.Phone,
		"api_token": account.APIToken,
	})
}

// handleLogin authenticates credentials and issues a JWT
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, requestID, "Invalid request body", err.Error())
		return
	}

	accountID, err := s.accountService.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, requestID, "Invalid credentials")
		return
	}

	account, err := s.accountService.GetAccount(accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, requestID, "Failed to retrieve account", err.Error())
		return
	}

	token, err := s.jwtService.GenerateToken(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, requestID, "Failed to issue token", err.Error())
		return
	}

	writeSuccess(w, http.StatusOK, requestID, "Login successful", map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"account_id":   account.ID,
	})
}

// handleGetCurrentAccount handles retrieving the current account
func (s *Server) handleGetCurrentAccount(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	accountID, ok := middleware.GetAccountID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, requestID, "Authentication required")
		return
	}

	account, err := s.accountService.GetAccount(accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, requestID, "Failed to retrieve account", err.Error())
		return
	}

	writeSuccess(w, http.StatusOK, requestID, "Account retrieved", map[string]any{
		"id":         account.ID,
		"username":   account.Username,
		"phone":      account.Phone,
		"created_at": account.CreatedAt,
	})
}
