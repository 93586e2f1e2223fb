package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/domain/user"
	"fleet-tracker/internal/general/contracts"
	"fleet-tracker/internal/general/jwt"
	"fleet-tracker/internal/general/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// ViewerSource is the tracked state the viewer stream renders.
type ViewerSource interface {
	Snapshot() (fleet.EntityTable, uint64)
	Subscribe(listener func(fleet.Change)) (unsubscribe func())
	StatusOf(id fleet.EntityID) fleet.Status
}

// WebSocket serves map viewers: a snapshot after auth, then one delta per change.
type WebSocket struct {
	logger    *logger.Logger
	jwtMgr    *jwt.Manager
	source    ViewerSource
	queueSize int
	locks     writeLocks
	viewers   atomic.Int64
}

func NewWebSocket(logger *logger.Logger, jwtMgr *jwt.Manager, source ViewerSource, queueSize int) *WebSocket {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &WebSocket{
		logger:    logger,
		jwtMgr:    jwtMgr,
		source:    source,
		queueSize: queueSize,
	}
}

// Viewers returns the number of connected viewers.
func (ws *WebSocket) Viewers() int {
	return int(ws.viewers.Load())
}

type outbound struct {
	version uint64
	payload []byte
}

// viewer is one connected map client. The hub listener only enqueues; the
// writer goroutine owns the snapshot/delta ordering.
type viewer struct {
	id     string
	conn   *websocket.Conn
	out    chan outbound
	resync chan struct{}
	stale  atomic.Bool // set on overflow: deltas are skipped until the next snapshot
	done   chan struct{}
}

func (v *viewer) requestSnapshot() {
	select {
	case v.resync <- struct{}{}:
	default:
	}
}

// ConnectViewer handles GET /ws/viewer.
func (ws *WebSocket) ConnectViewer(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	defer conn.Close()
	defer ws.locks.forget(conn)

	ctx := ws.logger.WithConnID(r.Context(), uuid.NewString())

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	mt, first, err := conn.ReadMessage()
	if err != nil {
		ws.logger.Warn(ctx, "ws_auth_read_failed", "Viewer did not authenticate in time", err, nil)
		ws.sendAuthError(conn, "authentication timeout: please send auth message within 5 seconds")
		return
	}
	if mt != websocket.TextMessage {
		ws.sendAuthError(conn, "auth message must be in text format")
		return
	}
	res, err := jwt.ValidateWSAuth(first, ws.jwtMgr, user.RoleViewer, user.RoleAdmin)
	if err != nil {
		ws.logger.Warn(ctx, "ws_auth_failed", "Invalid auth message or token", err, nil)
		ws.sendAuthError(conn, "authentication failed: invalid token")
		return
	}
	if err := ws.locks.writeJSON(conn, map[string]any{
		"type":      "auth_success",
		"success":   true,
		"subject":   res.Claims.Subject,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		ws.logger.Warn(ctx, "ws_auth_success_failed", "Failed to send auth success message", err, nil)
		return
	}

	v := &viewer{
		id:     res.Claims.Subject,
		conn:   conn,
		out:    make(chan outbound, ws.queueSize),
		resync: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	v.requestSnapshot()

	unsubscribe := ws.source.Subscribe(func(c fleet.Change) { ws.enqueue(ctx, v, c) })
	defer unsubscribe()

	ws.viewers.Add(1)
	defer ws.viewers.Add(-1)
	ws.logger.Info(ctx, "ws_connected", "Viewer WebSocket connected", map[string]any{"subject": v.id})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ws.writeLoop(ctx, v)
	}()

	ws.readLoop(ctx, v)
	close(v.done)
	wg.Wait()
}

func (ws *WebSocket) readLoop(ctx context.Context, v *viewer) {
	_ = v.conn.SetReadDeadline(time.Now().Add(readTimeout))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, payload, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Warn(ctx, "ws_unexpected_close", "Viewer connection closed unexpectedly", err, map[string]any{"subject": v.id})
			} else {
				ws.logger.Info(ctx, "ws_connection_closed", "Viewer connection closed", map[string]any{"subject": v.id})
			}
			ws.locks.writeClose(v.conn, websocket.CloseNormalClosure, "bye")
			return
		}
		_ = v.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg inboundFrame
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = ws.locks.writeJSON(v.conn, contracts.WSFrame{Type: contracts.TypeError, Data: "bad json"})
			continue
		}
		switch msg.Type {
		case contracts.TypeRequestSnapshot:
			v.requestSnapshot()
		default:
			_ = ws.locks.writeJSON(v.conn, contracts.WSFrame{Type: contracts.TypeError, Data: "unknown message type"})
		}
	}
}

// writeLoop sends snapshots on request and deltas newer than the last snapshot.
func (ws *WebSocket) writeLoop(ctx context.Context, v *viewer) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	var sentVersion uint64
	for {
		select {
		case <-v.done:
			return

		case <-ping.C:
			if err := ws.locks.writePing(v.conn); err != nil {
				ws.logger.Warn(ctx, "ws_ping_failed", "Failed to send ping", err, nil)
				_ = v.conn.Close()
				return
			}

		case <-v.resync:
			// clear first: a delta enqueued from here on is either covered by
			// the snapshot below or newer than it
			v.stale.Store(false)
			drain(v.out)

			table, version := ws.source.Snapshot()
			if err := ws.locks.writeJSON(v.conn, contracts.WSFrame{Type: contracts.TypeSnapshot, Data: ws.snapshotPayload(table, version)}); err != nil {
				ws.logger.Warn(ctx, "ws_write_failed", "Failed to send snapshot", err, nil)
				_ = v.conn.Close()
				return
			}
			sentVersion = version

		case msg := <-v.out:
			if msg.version <= sentVersion {
				continue
			}
			if err := ws.locks.writeMessage(v.conn, websocket.TextMessage, msg.payload); err != nil {
				ws.logger.Warn(ctx, "ws_write_failed", "Failed to send delta", err, nil)
				_ = v.conn.Close()
				return
			}
			sentVersion = msg.version
		}
	}
}

// enqueue runs on the hub's publishing goroutine and never blocks.
func (ws *WebSocket) enqueue(ctx context.Context, v *viewer, c fleet.Change) {
	if v.stale.Load() {
		return
	}
	if c.Kind == fleet.ChangeReplaced {
		v.stale.Store(true)
		v.requestSnapshot()
		return
	}

	delta := contracts.WSViewerDelta{Version: c.Version, Kind: string(c.Kind), ID: c.ID.String()}
	if c.Record != nil {
		entity := ws.entity(*c.Record)
		delta.Entity = &entity
	}
	payload, err := json.Marshal(contracts.WSFrame{Type: contracts.TypeDelta, Data: delta})
	if err != nil {
		ws.logger.Error(ctx, "ws_marshal_failed", "Failed to encode delta", err, nil)
		return
	}

	select {
	case v.out <- outbound{version: c.Version, payload: payload}:
	default:
		v.stale.Store(true)
		v.requestSnapshot()
		ws.logger.Warn(ctx, "ws_viewer_overflow", "Viewer queue full; resending snapshot", nil, map[string]any{
			"subject": v.id,
			"queue":   cap(v.out),
		})
	}
}

func (ws *WebSocket) snapshotPayload(table fleet.EntityTable, version uint64) contracts.WSViewerSnapshot {
	entities := make([]contracts.WSEntity, 0, len(table))
	for _, rec := range table.Records() {
		entities = append(entities, ws.entity(rec))
	}
	return contracts.WSViewerSnapshot{Version: version, Entities: entities, SentAt: time.Now().UTC()}
}

func (ws *WebSocket) entity(rec fleet.EntityRecord) contracts.WSEntity {
	path := make([][2]float64, 0, len(rec.Path))
	for _, p := range rec.Path {
		path = append(path, p.Pair())
	}
	return contracts.WSEntity{
		ID:        rec.ID.String(),
		Current:   rec.Current.Pair(),
		Path:      path,
		Status:    ws.source.StatusOf(rec.ID).String(),
		UpdatedAt: rec.UpdatedAt,
	}
}

func (ws *WebSocket) sendAuthError(conn *websocket.Conn, message string) {
	_ = ws.locks.writeJSON(conn, map[string]any{
		"type":    "auth_error",
		"error":   message,
		"success": false,
	})
}

func drain(ch chan outbound) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
