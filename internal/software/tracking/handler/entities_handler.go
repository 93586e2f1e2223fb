package handler

import (
	"errors"
	"net/http"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/software/tracking/service"
)

// --- Handler: GET /entities?status=ACTIVE,BUSY ---

func (handler *TrackingHTTPHandler) handleListEntities(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	statuses, err := statusFilter(r)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid status filter", err)
		return
	}

	records, version := handler.svc.EntitiesAt(statuses...)
	out := make([]EntityResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, EntityResponse{EntityRecord: rec, Status: handler.svc.StatusOf(rec.ID)})
	}

	handler.jsonResponse(ctx, w, http.StatusOK, map[string]any{
		"entities": out,
		"version":  version,
	})
}

// --- Handler: GET /entities/{entity_id} ---

func (handler *TrackingHTTPHandler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	id, err := fleet.ParseEntityID(r.PathValue("entity_id"))
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "entity_id is required", err)
		return
	}
	ctx = handler.logger.WithEntityID(ctx, id.String())

	rec, status, err := handler.svc.Entity(id)
	if errors.Is(err, service.ErrEntityNotFound) {
		handler.httpError(ctx, w, http.StatusNotFound, "entity not found", err)
		return
	}
	if err != nil {
		handler.httpError(ctx, w, http.StatusInternalServerError, "failed to load entity", err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, EntityResponse{EntityRecord: rec, Status: status})
}

// --- Handler: GET /entities/count?status=AVAILABLE ---

func (handler *TrackingHTTPHandler) handleCountEntities(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	statuses, err := statusFilter(r)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid status filter", err)
		return
	}

	type resp struct {
		Active  int    `json:"active"`
		Version uint64 `json:"version"`
	}
	active, version := handler.svc.CountAt(statuses...)
	handler.jsonResponse(ctx, w, http.StatusOK, resp{Active: active, Version: version})
}
