package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"fleet-tracker/internal/domain/user"
)

type TokenRequest struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// TokenResponse represents the response for token generation
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Subject   string    `json:"subject"`
	Role      user.Role `json:"role"`
}

// --- Handler: POST /tokens (development only) ---

func (handler *TrackingHTTPHandler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	if !handler.devTokens {
		handler.httpError(ctx, w, http.StatusNotFound, "Not found", nil)
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if strings.TrimSpace(req.Subject) == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "subject is required", nil)
		return
	}
	role, err := user.ParseRole(req.Role)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "role must be VIEWER, PUBLISHER or ADMIN", err)
		return
	}

	tokenString, claims, err := handler.auth.IssueToken(req.Subject, role)
	if err != nil {
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to generate token", err)
		return
	}

	handler.logger.Info(ctx, "token_generated", "JWT token generated successfully",
		map[string]any{"subject": req.Subject, "role": role.String()})

	handler.jsonResponse(ctx, w, http.StatusCreated, TokenResponse{
		Token:     tokenString,
		ExpiresAt: claims.ExpiresAt.Time,
		Subject:   req.Subject,
		Role:      role,
	})
}
