package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleet-tracker/internal/general/contracts"
	"fleet-tracker/internal/general/jwt"
	"fleet-tracker/internal/general/logger"
	"fleet-tracker/internal/general/retry"
)

var (
	ErrFeedNotConnected = errors.New("feed not connected")
	ErrFeedAuthRejected = errors.New("feed rejected authentication")
)

// FeedSink receives the decoded frames of one upstream feed.
type FeedSink interface {
	Deliver(ctx context.Context, msgType string, payload []byte) error
	Reconnected(ctx context.Context) error
}

// FeedClient keeps a WebSocket connection to one upstream position feed open,
// reconnecting with capped backoff. Every (re)connect is reported to the sink,
// which in turn asks for a snapshot through RequestSnapshot.
type FeedClient struct {
	name   string
	url    string
	token  string
	logger *logger.Logger
	dialer *websocket.Dialer
	locks  writeLocks

	// a quiet feed stays open as long as control frames keep arriving
	readTimeout  time.Duration
	pingInterval time.Duration

	mu   sync.Mutex
	sink FeedSink
	conn *websocket.Conn
}

func NewFeedClient(name, url, token string, log *logger.Logger) *FeedClient {
	if log == nil {
		log = logger.Discard()
	}
	return &FeedClient{
		name:   name,
		url:    url,
		token:  token,
		logger: log,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},

		readTimeout:  readTimeout,
		pingInterval: pingInterval,
	}
}

func (fc *FeedClient) Name() string { return fc.name }

// Bind sets the sink frames are delivered to. It must be called before Run.
func (fc *FeedClient) Bind(sink FeedSink) {
	fc.mu.Lock()
	fc.sink = sink
	fc.mu.Unlock()
}

// RequestSnapshot sends a request_snapshot frame on the live connection.
func (fc *FeedClient) RequestSnapshot(ctx context.Context) error {
	fc.mu.Lock()
	conn := fc.conn
	fc.mu.Unlock()
	if conn == nil {
		return ErrFeedNotConnected
	}
	return fc.locks.writeJSON(conn, contracts.WSFrame{
		Type: contracts.TypeRequestSnapshot,
		Data: contracts.SnapshotRequestMessage{RequestedBy: "tracker-service", Reason: "resync"},
	})
}

// Run connects and reads until ctx is cancelled.
func (fc *FeedClient) Run(ctx context.Context) error {
	fc.mu.Lock()
	sink := fc.sink
	fc.mu.Unlock()
	if sink == nil {
		return fmt.Errorf("feed %s: no sink bound", fc.name)
	}

	ctx = fc.logger.WithConnID(ctx, fc.name)
	schedule := retry.Backoff()
	for {
		established, err := fc.session(ctx, sink)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			schedule.Reset()
		}
		if errors.Is(err, ErrFeedAuthRejected) {
			fc.logger.Error(ctx, "feed_auth_rejected", "Upstream feed rejected our token", err, map[string]any{"url": fc.url})
		} else {
			fc.logger.Warn(ctx, "feed_disconnected", "Upstream feed connection lost", err, map[string]any{"url": fc.url})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(schedule.NextBackOff()):
		}
	}
}

// session runs one connection. established reports whether it got past
// dial and auth, which resets the reconnect backoff.
func (fc *FeedClient) session(ctx context.Context, sink FeedSink) (established bool, err error) {
	conn, _, err := fc.dialer.DialContext(ctx, fc.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", fc.url, err)
	}
	defer fc.locks.forget(conn)
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		fc.locks.writeClose(conn, websocket.CloseNormalClosure, "shutdown")
		_ = conn.Close()
	})
	defer stop()

	conn.SetReadLimit(maxFrameBytes)
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(fc.readTimeout))
	}
	conn.SetPongHandler(func(string) error { return extend() })
	conn.SetPingHandler(func(data string) error {
		_ = extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(ctrlTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	if fc.token != "" {
		if err := fc.locks.writeJSON(conn, jwt.AuthFrame(fc.token)); err != nil {
			return false, fmt.Errorf("send auth: %w", err)
		}
	}
	// without a token there is no auth step to wait for
	established = fc.token == ""

	fc.mu.Lock()
	fc.conn = conn
	fc.mu.Unlock()
	defer func() {
		fc.mu.Lock()
		fc.conn = nil
		fc.mu.Unlock()
	}()

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		fc.keepalive(ctx, conn, done)
	}()
	defer wg.Wait()
	defer close(done)

	fc.logger.Info(ctx, "feed_connected", "Connected to upstream feed", map[string]any{"url": fc.url})
	// a failed request is retried by the adapter once the gate times out
	_ = sink.Reconnected(ctx)

	_ = extend()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return established, err
		}
		_ = extend()

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			fc.logger.Warn(ctx, "feed_bad_frame", "Dropped undecodable frame", err, map[string]any{"bytes": len(payload)})
			continue
		}
		switch frame.Type {
		case "auth_success":
			established = true
			continue
		case "auth_error":
			return false, fmt.Errorf("%w: %s", ErrFeedAuthRejected, string(frame.Data))
		}
		established = true
		// malformed events are already logged by the sink
		_ = sink.Deliver(ctx, frame.Type, frame.Data)
	}
}

// keepalive pings the upstream until done; a failed ping closes conn so the
// read loop returns.
func (fc *FeedClient) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	if fc.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(fc.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := fc.locks.writePing(conn); err != nil {
				fc.logger.Warn(ctx, "feed_ping_failed", "Failed to ping upstream feed", err, nil)
				_ = conn.Close()
				return
			}
		}
	}
}
