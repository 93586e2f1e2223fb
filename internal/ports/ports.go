package ports

import (
	"context"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/domain/geo"
)

// Resyncer asks a transport for a fresh full snapshot. There is no reply:
// the snapshot arrives later through the normal inbound feed.
type Resyncer interface {
	RequestSnapshot(ctx context.Context) error
}

// ChangePublisher receives every committed store mutation, in commit order.
type ChangePublisher interface {
	Publish(change fleet.Change)
}

// UnitOfWork runs fn inside a single database transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// LocationHistoryRepository appends archived positions.
type LocationHistoryRepository interface {
	ArchiveBatch(ctx context.Context, records []*geo.LocationHistory) error
}

// CurrentPositionsRepository loads the last known position of every entity.
type CurrentPositionsRepository interface {
	LoadCurrent(ctx context.Context) (map[fleet.EntityID]geo.Position, error)
}

// TrackingService is the query surface over the reconciled entity table.
type TrackingService interface {
	EntitiesAt(statuses ...fleet.Status) ([]fleet.EntityRecord, uint64)
	Entity(id fleet.EntityID) (fleet.EntityRecord, fleet.Status, error)
	CountAt(statuses ...fleet.Status) (int, uint64)
	StatusOf(id fleet.EntityID) fleet.Status
	Resync(ctx context.Context) error
}
