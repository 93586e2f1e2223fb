package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/general/logger"
	"fleet-tracker/internal/ports"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrConnClosed     = errors.New("connection closed")
)

// DefaultResyncRetry is how long a gated connection waits for its snapshot
// before asking again.
const DefaultResyncRetry = 5 * time.Second

// Handler receives canonical events. Calls for one connection never overlap.
type Handler func(ctx context.Context, ev fleet.Event)

// Adapter turns transport messages into canonical events and hands them to
// the subscribed handlers. Each physical connection is represented by a Conn.
type Adapter struct {
	logger      *logger.Logger
	tracer      trace.Tracer
	resyncRetry time.Duration
	now         func() time.Time

	mu       sync.Mutex
	handlers []*handlerEntry
	conns    map[string]*Conn
}

type handlerEntry struct {
	fn Handler
}

func New(log *logger.Logger) *Adapter {
	if log == nil {
		log = logger.Discard()
	}
	return &Adapter{
		logger:      log,
		tracer:      otel.Tracer("fleet-tracker/adapter"),
		resyncRetry: DefaultResyncRetry,
		now:         time.Now,
		conns:       make(map[string]*Conn),
	}
}

// Subscribe registers h for every event from every connection.
func (a *Adapter) Subscribe(h Handler) (unsubscribe func()) {
	entry := &handlerEntry{fn: h}
	a.mu.Lock()
	next := make([]*handlerEntry, 0, len(a.handlers)+1)
	a.handlers = append(append(next, a.handlers...), entry)
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		next := make([]*handlerEntry, 0, len(a.handlers))
		for _, e := range a.handlers {
			if e != entry {
				next = append(next, e)
			}
		}
		a.handlers = next
	}
}

// Open registers a physical connection. resync is how this connection asks
// its sender for a full snapshot; it may be nil for feeds that only ever send
// snapshots.
func (a *Adapter) Open(source string, resync ports.Resyncer) *Conn {
	c := &Conn{
		id:      uuid.NewString(),
		source:  source,
		adapter: a,
		resync:  resync,
	}
	a.mu.Lock()
	a.conns[c.id] = c
	a.mu.Unlock()
	return c
}

// RequestSnapshot asks every open connection for a fresh snapshot.
func (a *Adapter) RequestSnapshot(ctx context.Context) error {
	a.mu.Lock()
	conns := make([]*Conn, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.requestSnapshot(ctx, "requested"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.source, err))
		}
	}
	return errors.Join(errs...)
}

// Conns returns the number of open connections.
func (a *Adapter) Conns() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

func (a *Adapter) dispatch(ctx context.Context, ev fleet.Event) {
	a.mu.Lock()
	handlers := a.handlers
	a.mu.Unlock()

	for _, h := range handlers {
		h.fn(ctx, ev)
	}
}

// Conn is one physical connection to a sender. Deliveries on a Conn are
// serialised; different Conns may deliver concurrently.
type Conn struct {
	id      string
	source  string
	adapter *Adapter
	resync  ports.Resyncer

	mu          sync.Mutex
	closed      bool
	gated       bool
	dropped     int
	requestedAt time.Time
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) Source() string { return c.source }

// Gated reports whether the connection is waiting for a snapshot.
func (c *Conn) Gated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gated
}

// Deliver decodes a wire message and delivers the resulting event.
// Malformed messages are logged and dropped; the returned error wraps
// ErrMalformedEvent.
func (c *Conn) Deliver(ctx context.Context, msgType string, payload []byte) error {
	ev, err := Decode(msgType, payload)
	if err != nil {
		ctx = c.adapter.logger.WithConnID(ctx, c.id)
		c.adapter.logger.Warn(ctx, "event_malformed", "Dropped malformed event", err, map[string]any{
			"source": c.source,
			"type":   msgType,
			"bytes":  len(payload),
		})
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return c.DeliverEvent(ctx, ev)
}

// DeliverEvent validates and delivers an already canonical event, stamped
// with this connection's source.
func (c *Conn) DeliverEvent(ctx context.Context, ev fleet.Event) error {
	ev.Source = c.source
	ctx = c.adapter.logger.WithConnID(ctx, c.id)
	ctx, span := c.adapter.tracer.Start(ctx, "adapter.deliver", trace.WithAttributes(
		attribute.String("fleet.source", c.source),
		attribute.String("fleet.event_kind", ev.Kind.String()),
		attribute.String("fleet.entity_id", ev.ID.String()),
	))
	defer span.End()

	if err := ev.Validate(); err != nil {
		span.SetStatus(codes.Error, "malformed event")
		c.adapter.logger.Warn(ctx, "event_malformed", "Dropped malformed event", err, map[string]any{
			"source": c.source,
			"kind":   ev.Kind.String(),
		})
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	c.mu.Lock()
	retry, err := c.deliverLocked(ctx, ev)
	c.mu.Unlock()

	if retry {
		if err := c.requestSnapshot(ctx, "resync_retry"); err != nil {
			span.RecordError(err)
		}
	}
	return err
}

func (c *Conn) deliverLocked(ctx context.Context, ev fleet.Event) (retry bool, err error) {
	if c.closed {
		return false, ErrConnClosed
	}

	if c.gated {
		switch ev.Kind {
		case fleet.KindPositionUpdate, fleet.KindStatusChanged:
			c.dropped++
			c.adapter.logger.Debug(ctx, "event_gated", "Dropped event while awaiting snapshot", map[string]any{
				"source":  c.source,
				"kind":    ev.Kind.String(),
				"dropped": c.dropped,
			})
			return c.adapter.now().Sub(c.requestedAt) >= c.adapter.resyncRetry, nil
		case fleet.KindFullSnapshot:
			c.adapter.logger.Info(ctx, "resync_complete", "Snapshot received, resuming updates", map[string]any{
				"source":   c.source,
				"entities": len(ev.Entries),
				"dropped":  c.dropped,
			})
			c.gated = false
			c.dropped = 0
		}
	}

	c.adapter.dispatch(ctx, ev)
	return false, nil
}

// Reconnected must be called when the underlying transport has (re)connected.
// Updates are dropped until a full snapshot arrives on this connection, and a
// snapshot is requested.
func (c *Conn) Reconnected(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.gated = true
	c.dropped = 0
	c.mu.Unlock()

	return c.requestSnapshot(ctx, "reconnect")
}

// Close stops delivery. Later deliveries return ErrConnClosed.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.adapter.mu.Lock()
	delete(c.adapter.conns, c.id)
	c.adapter.mu.Unlock()
}

func (c *Conn) requestSnapshot(ctx context.Context, reason string) error {
	c.mu.Lock()
	c.requestedAt = c.adapter.now()
	c.mu.Unlock()

	if c.resync == nil {
		return nil
	}
	ctx = c.adapter.logger.WithConnID(ctx, c.id)
	if err := c.resync.RequestSnapshot(ctx); err != nil {
		c.adapter.logger.Warn(ctx, "resync_request_failed", "Failed to request snapshot", err, map[string]any{
			"source": c.source,
			"reason": reason,
		})
		return err
	}
	c.adapter.logger.Info(ctx, "resync_requested", "Requested full snapshot", map[string]any{
		"source": c.source,
		"reason": reason,
	})
	return nil
}
