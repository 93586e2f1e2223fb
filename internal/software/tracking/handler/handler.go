package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/domain/user"
	"fleet-tracker/internal/general/jwt"
	"fleet-tracker/internal/general/logger"
	"fleet-tracker/internal/general/websocket"
	"fleet-tracker/internal/ports"
)

// TrackingHTTPHandler adapts HTTP requests to the TrackingService.
type TrackingHTTPHandler struct {
	svc       ports.TrackingService
	logger    *logger.Logger
	auth      *jwt.Manager
	websocket *websocket.WebSocket
	devTokens bool
}

// NewTrackingHTTPHandler wires an HTTP handler around the TrackingService.
// ws may be nil when the viewer stream is not served.
func NewTrackingHTTPHandler(
	svc ports.TrackingService,
	logger *logger.Logger,
	auth *jwt.Manager,
	ws *websocket.WebSocket,
	devTokens bool,
) *TrackingHTTPHandler {
	return &TrackingHTTPHandler{svc: svc, logger: logger, auth: auth, websocket: ws, devTokens: devTokens}
}

// RegisterRoutes mounts tracker endpoints on the provided mux.
func (handler *TrackingHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	readers := jwt.AuthMiddlewareFunc(handler.auth, user.RoleViewer, user.RoleAdmin)

	mux.HandleFunc("GET /entities", readers(handler.handleListEntities))
	mux.HandleFunc("GET /entities/count", readers(handler.handleCountEntities))
	mux.HandleFunc("GET /entities/{entity_id}", readers(handler.handleGetEntity))
	mux.HandleFunc("POST /resync",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleAdmin)(handler.handleResync),
	)

	// the viewer socket authenticates with its first frame
	if handler.websocket != nil {
		mux.HandleFunc("GET /ws/viewer", handler.websocket.ConnectViewer)
	}

	mux.HandleFunc("GET /health", handler.handleHealth)
	mux.HandleFunc("POST /tokens", handler.handleCreateToken)
}

// EntityResponse is one record with its resolved status.
type EntityResponse struct {
	fleet.EntityRecord
	Status fleet.Status `json:"status,omitempty"`
}

// ----- general helpers -----

// statusFilter parses ?status=A,B. An empty parameter means no filter.
func statusFilter(r *http.Request) ([]fleet.Status, error) {
	return fleet.ParseStatusList(r.URL.Query().Get("status"))
}

// jsonResponse takes any type of data and encode it to HTTP response.
func (handler *TrackingHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	// encode to buffer first so we can control status on failure
	var buf []byte
	var err error

	if data != nil {
		buf, err = json.Marshal(data)
		if err != nil {
			handler.logger.Error(ctx, "response_encode_failed", "Failed to encode response", err, nil)
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
			return
		}
	} else {
		buf = []byte("{}")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// httpError sends a JSON error response with a message.
func (handler *TrackingHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	action := "request_failed"
	switch {
	case status >= 500:
		action = "http_internal_error"
	case status == http.StatusBadRequest:
		action = "validation_failed"
	case status == http.StatusNotFound:
		action = "not_found"
	}
	if status >= 500 {
		handler.logger.Error(ctx, action, msg, err, nil)
	} else {
		handler.logger.Warn(ctx, action, msg, err, nil)
	}

	type errBody struct {
		Error string `json:"error"`
	}
	handler.jsonResponse(ctx, w, status, errBody{Error: msg})
}

// withReqID extracts or generates a request ID and adds it to the context.
func (handler *TrackingHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if strings.TrimSpace(reqID) == "" {
		reqID = randID()
	}
	return handler.logger.WithRequestID(ctx, reqID)
}

// randID generates a random 24-char hex string suitable for request IDs.
func randID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
