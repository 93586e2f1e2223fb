package handler

import (
	"encoding/json"
	"net/http"
)

// ----- Handler: GET /health -----

// handleHealth returns a minimal JSON health status payload.
func (handler *TrackingHTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	type resp struct {
		Status   string `json:"status"`
		Entities int    `json:"entities"`
		Version  uint64 `json:"version"`
	}
	entities, version := handler.svc.CountAt()
	_ = json.NewEncoder(w).Encode(resp{
		Status:   "ok",
		Entities: entities,
		Version:  version,
	})
}
