package gtfsrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/domain/geo"
	"fleet-tracker/internal/general/logger"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 10 * time.Second
	maxFeedBytes    = 32 << 20
)

var ErrEmptyURL = errors.New("gtfs-rt url is empty")

// EventSink accepts canonical events. *adapter.Conn implements it.
type EventSink interface {
	DeliverEvent(ctx context.Context, ev fleet.Event) error
	Reconnected(ctx context.Context) error
}

// Poller fetches a GTFS-realtime VehiclePositions feed on an interval and
// delivers each fetch as a full snapshot: a vehicle missing from the feed
// is no longer tracked.
type Poller struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	logger     *logger.Logger
	sink       EventSink
	trigger    chan struct{}
}

func NewPoller(url string, interval, timeout time.Duration, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Poller{
		url:        strings.TrimSpace(url),
		interval:   interval,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
		trigger:    make(chan struct{}, 1),
	}
}

// Bind sets the sink snapshots are delivered to. It must be called before Run.
func (p *Poller) Bind(sink EventSink) { p.sink = sink }

// RequestSnapshot schedules an immediate poll.
func (p *Poller) RequestSnapshot(context.Context) error {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if p.url == "" {
		return ErrEmptyURL
	}
	if p.sink == nil {
		return fmt.Errorf("gtfs-rt poller: no sink bound")
	}
	if err := p.sink.Reconnected(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.trigger:
		case <-timer.C:
		}

		p.pollOnce(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.interval)
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	entries, skipped, err := p.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn(ctx, "gtfsrt_fetch_failed", "Failed to fetch GTFS-RT feed", err, map[string]any{"url": p.url})
		}
		return
	}
	if skipped > 0 {
		p.logger.Debug(ctx, "gtfsrt_entities_skipped", "Skipped feed entities without id or position", map[string]any{
			"skipped": skipped,
		})
	}
	_ = p.sink.DeliverEvent(ctx, fleet.FullSnapshot(entries))
}

// Fetch downloads and decodes one feed message.
func (p *Poller) Fetch(ctx context.Context) (map[fleet.EntityID]geo.Position, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("gtfs-rt http status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, 0, err
	}
	var feed gtfs.FeedMessage
	if err := proto.Unmarshal(body, &feed); err != nil {
		return nil, 0, fmt.Errorf("decode gtfs-rt feed: %w", err)
	}
	entries, skipped := Positions(&feed)
	return entries, skipped, nil
}

// Positions extracts vehicle id -> position from a feed. The vehicle
// descriptor id is preferred over the feed entity id.
func Positions(feed *gtfs.FeedMessage) (map[fleet.EntityID]geo.Position, int) {
	entries := make(map[fleet.EntityID]geo.Position, len(feed.GetEntity()))
	skipped := 0
	for _, ent := range feed.GetEntity() {
		vp := ent.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		raw := vp.GetVehicle().GetId()
		if raw == "" {
			raw = ent.GetId()
		}
		id, err := fleet.ParseEntityID(raw)
		if err != nil {
			skipped++
			continue
		}
		pos, err := geo.NewPosition(float64(vp.GetPosition().GetLatitude()), float64(vp.GetPosition().GetLongitude()))
		if err != nil {
			skipped++
			continue
		}
		entries[id] = pos
	}
	return entries, skipped
}
