package handler

import (
	"log/slog"
	"net/http"

	"github.com/tallyhq/tally/internal/handler/dto"
	"github.com/tallyhq/tally/internal/middleware"
	"github.com/tallyhq/tally/internal/service"
)

// AccountHandler handles registration and credential management.
type AccountHandler struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(svc *service.Service, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logger}
}

// Register handles POST /v1/register.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reg, err := h.svc.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.RegisterResponse{
		UserID: reg.UserID,
		APIKey: reg.APIKey,
	})
}

// RecoverAPIKey handles POST /v1/api-key/recover.
func (h *AccountHandler) RecoverAPIKey(w http.ResponseWriter, r *http.Request) {
	var req dto.RecoverKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key, err := h.svc.RecoverAPIKey(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.APIKeyResponse{APIKey: key})
}

// RegenerateAPIKey handles POST /v1/account/api-key.
func (h *AccountHandler) RegenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.svc.RegenerateAPIKey(r.Context(), middleware.APIKeyFromRequest(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.APIKeyResponse{APIKey: key})
}

// Get handles GET /v1/account.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Account(r.Context(), middleware.APIKeyFromRequest(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToAccountResponse(user))
}

// ChangePassword handles PUT /v1/account/password.
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.svc.ChangePassword(r.Context(), middleware.APIKeyFromRequest(r), req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /v1/account.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req dto.DeleteAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.svc.DeleteAccount(r.Context(), middleware.APIKeyFromRequest(r), req.Password); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
