package service

import (
	"context"
	"errors"
	"fmt"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/general/logger"
	"fleet-tracker/internal/ports"
	"fleet-tracker/internal/software/tracking/adapter"
	"fleet-tracker/internal/software/tracking/hub"
	"fleet-tracker/internal/software/tracking/presence"
	"fleet-tracker/internal/software/tracking/store"
)

var ErrEntityNotFound = errors.New("entity not found")

// Config carries the tracker knobs the service needs.
type Config struct {
	PathCapacity int
	Presence     presence.Config
}

// TrackingService owns the reconciliation pipeline:
// adapter -> store -> hub -> (presence, viewers, archive).
type TrackingService struct {
	logger   *logger.Logger
	store    *store.Store
	hub      *hub.Hub
	presence *presence.Tracker
	adapter  *adapter.Adapter
	unsubs   []func()
}

// NewTrackingService builds the pipeline and subscribes the dispatcher to the adapter.
func NewTrackingService(log *logger.Logger, cfg Config) *TrackingService {
	h := hub.New(log)
	st := store.New(cfg.PathCapacity, h)
	pr := presence.New(st, log, cfg.Presence)
	ad := adapter.New(log)

	service := &TrackingService{
		logger:   log,
		store:    st,
		hub:      h,
		presence: pr,
		adapter:  ad,
	}
	service.unsubs = append(service.unsubs,
		h.Subscribe(pr.Observe),
		ad.Subscribe(service.Handle),
	)
	return service
}

func (service *TrackingService) Store() *store.Store         { return service.store }
func (service *TrackingService) Presence() *presence.Tracker { return service.presence }
func (service *TrackingService) Adapter() *adapter.Adapter   { return service.adapter }

// Handle applies one canonical event.
func (service *TrackingService) Handle(ctx context.Context, ev fleet.Event) {
	switch ev.Kind {
	case fleet.KindPositionUpdate:
		_, err := service.store.Apply(store.Update{
			ID:       ev.ID,
			Position: ev.Position,
			Seq:      ev.Seq,
			Clock:    ev.Clock,
			Source:   ev.Source,
		})
		if errors.Is(err, store.ErrStaleUpdate) {
			service.logger.Debug(service.logger.WithEntityID(ctx, ev.ID.String()), "update_stale", "Dropped out-of-order update", map[string]any{
				"seq": ev.Seq,
			})
		}
	case fleet.KindFullSnapshot:
		service.store.ApplySourceSnapshot(ev.Source, ev.Entries)
		service.logger.Info(ctx, "snapshot_applied", "Replaced feed's entities from snapshot", map[string]any{
			"source":   ev.Source,
			"entities": len(ev.Entries),
		})
	case fleet.KindRemoved:
		if service.store.Remove(ev.ID) {
			service.logger.Debug(service.logger.WithEntityID(ctx, ev.ID.String()), "entity_removed", "Entity removed", map[string]any{
				"reason": ev.Reason,
			})
		}
	case fleet.KindStatusChanged:
		service.presence.SetStatus(ev.ID, ev.Status)
	}
}

// Seed loads the last known positions and applies them as a snapshot.
// It is meant to run before any feed is connected.
func (service *TrackingService) Seed(ctx context.Context, repo ports.CurrentPositionsRepository) error {
	entries, err := repo.LoadCurrent(ctx)
	if err != nil {
		return fmt.Errorf("seed from database: %w", err)
	}
	service.store.ApplySnapshot(entries)
	service.logger.Info(ctx, "store_seeded", "Seeded entity table from database", map[string]any{
		"entities": len(entries),
	})
	return nil
}

// Entities returns the tracked records sorted by id, optionally restricted
// to the given statuses.
func (service *TrackingService) Entities(statuses ...fleet.Status) []fleet.EntityRecord {
	records, _ := service.EntitiesAt(statuses...)
	return records
}

// EntitiesAt is Entities together with the store version the records reflect.
func (service *TrackingService) EntitiesAt(statuses ...fleet.Status) ([]fleet.EntityRecord, uint64) {
	return service.store.FilterWithVersion(service.statusPredicate(statuses))
}

func (service *TrackingService) statusPredicate(statuses []fleet.Status) func(fleet.EntityRecord) bool {
	if len(statuses) == 0 {
		return nil
	}
	return service.presence.StatusIs(statuses...)
}

// Entity returns one record and its resolved status.
func (service *TrackingService) Entity(id fleet.EntityID) (fleet.EntityRecord, fleet.Status, error) {
	rec, ok := service.store.Get(id)
	if !ok {
		return fleet.EntityRecord{}, "", ErrEntityNotFound
	}
	status, _ := service.presence.StatusOf(id)
	return rec, status, nil
}

// Count returns the active count, optionally restricted to statuses.
func (service *TrackingService) Count(statuses ...fleet.Status) int {
	n, _ := service.CountAt(statuses...)
	return n
}

// CountAt is Count together with the store version the count reflects.
func (service *TrackingService) CountAt(statuses ...fleet.Status) (int, uint64) {
	return service.store.CountWithVersion(service.statusPredicate(statuses))
}

// StatusOf resolves the status of one tracked entity.
func (service *TrackingService) StatusOf(id fleet.EntityID) fleet.Status {
	status, _ := service.presence.StatusOf(id)
	return status
}

// Version returns the store's mutation counter.
func (service *TrackingService) Version() uint64 {
	return service.store.Version()
}

// Snapshot returns the full table together with the version it reflects.
func (service *TrackingService) Snapshot() (fleet.EntityTable, uint64) {
	return service.store.SnapshotWithVersion()
}

// Subscribe registers a change listener.
func (service *TrackingService) Subscribe(l func(fleet.Change)) (unsubscribe func()) {
	return service.hub.Subscribe(l)
}

// Resync asks every connected feed for a fresh snapshot.
func (service *TrackingService) Resync(ctx context.Context) error {
	return service.adapter.RequestSnapshot(ctx)
}

// Run drives the presence loop until ctx is cancelled.
func (service *TrackingService) Run(ctx context.Context) error {
	return service.presence.Run(ctx)
}

// Close detaches the internal subscriptions.
func (service *TrackingService) Close() {
	for _, unsub := range service.unsubs {
		unsub()
	}
	service.unsubs = nil
}
