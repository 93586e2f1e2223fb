package geo

import (
	"errors"
	"strings"
	"time"
)

// LocationHistory is one archived point, corresponding to a `location_history` row.
type LocationHistory struct {
	ID         string
	EntityID   string
	EntityType EntityType
	Latitude   float64
	Longitude  float64
	Seq        uint64
	RecordedAt time.Time
}

var (
	ErrMissingEntityID    = errors.New("entity ID is missing")
	ErrRecordedAtZeroTime = errors.New("recorded_at must be a valid timestamp")
)

// NewLocationHistory builds an archive row for an applied position.
func NewLocationHistory(entityID string, entityType EntityType, pos Position, seq uint64, recordedAt time.Time) (*LocationHistory, error) {
	location := &LocationHistory{
		EntityID:   strings.TrimSpace(entityID),
		EntityType: entityType,
		Latitude:   pos.Lat,
		Longitude:  pos.Lon,
		Seq:        seq,
		RecordedAt: recordedAt,
	}
	if location.RecordedAt.IsZero() {
		location.RecordedAt = time.Now().UTC()
	}
	if err := location.Validate(); err != nil {
		return nil, err
	}
	return location, nil
}

// Validate checks invariants of the archive row. Unlike the live store,
// the archive refuses points that are not on the globe.
func (location LocationHistory) Validate() error {
	if location.EntityID == "" {
		return ErrMissingEntityID
	}
	if !location.EntityType.Valid() {
		return ErrInvalidEntityType
	}
	pos := Position{Lat: location.Latitude, Lon: location.Longitude}
	if err := pos.Validate(); err != nil {
		return err
	}
	if err := pos.CheckRange(); err != nil {
		return err
	}
	if location.RecordedAt.IsZero() {
		return ErrRecordedAtZeroTime
	}
	return nil
}
