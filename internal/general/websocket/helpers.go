package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
	ctrlTimeout      = 5 * time.Second
	authTimeout      = 5 * time.Second
	readTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
	maxFrameBytes    = 1 << 20
)

// writeLocks serialises writes per connection: gorilla allows one concurrent writer.
type writeLocks struct {
	m sync.Map // *websocket.Conn -> *sync.Mutex
}

func (l *writeLocks) of(conn *websocket.Conn) *sync.Mutex {
	if v, ok := l.m.Load(conn); ok {
		return v.(*sync.Mutex)
	}
	actual, _ := l.m.LoadOrStore(conn, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (l *writeLocks) forget(conn *websocket.Conn) {
	l.m.Delete(conn)
}

// writeMessage sets a short write deadline and writes one message.
func (l *writeLocks) writeMessage(conn *websocket.Conn, mt int, payload []byte) error {
	mu := l.of(conn)
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(mt, payload)
}

// writeJSON marshals v and writes it as a text message.
func (l *writeLocks) writeJSON(conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return l.writeMessage(conn, websocket.TextMessage, payload)
}

// writePing sends a ping control frame.
func (l *writeLocks) writePing(conn *websocket.Conn) error {
	mu := l.of(conn)
	mu.Lock()
	defer mu.Unlock()
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
}

// writeClose sends a close control frame with the given code and reason.
func (l *writeLocks) writeClose(conn *websocket.Conn, code int, reason string) {
	mu := l.of(conn)
	mu.Lock()
	defer mu.Unlock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
}

// inboundFrame is the `{type, data}` envelope with data left undecoded.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
