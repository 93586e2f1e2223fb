package handler

import (
	"context"
	"net/http"
	"time"
)

// --- Handler: POST /resync ---

// handleResync asks every connected feed for a fresh snapshot. The snapshots
// arrive asynchronously, hence 202.
func (handler *TrackingHTTPHandler) handleResync(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	// bound service call
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := handler.svc.Resync(ctxWithTimeout); err != nil {
		handler.httpError(ctx, w, http.StatusBadGateway, "failed to request snapshot from every feed", err)
		return
	}

	handler.logger.Info(ctx, "resync_triggered", "Snapshot requested from all feeds", nil)
	handler.jsonResponse(ctx, w, http.StatusAccepted, map[string]string{"status": "requested"})
}
