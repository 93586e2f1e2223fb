package geo

import (
	"errors"
	"strings"
	"time"
)

// Coordinate is the "current position" row kept in the `coordinates` table by
// the service that owns the senders. The tracker only reads it to seed state.
type Coordinate struct {
	ID         string
	EntityID   string
	EntityType EntityType
	Latitude   float64
	Longitude  float64
	IsCurrent  bool
	UpdatedAt  time.Time
}

var ErrEmptyEntityID = errors.New("entity_id cannot be empty")

// Validate checks invariants of the Coordinate entity.
func (coordinate *Coordinate) Validate() error {
	if strings.TrimSpace(coordinate.EntityID) == "" {
		return ErrEmptyEntityID
	}
	if !coordinate.EntityType.Valid() {
		return ErrInvalidEntityType
	}
	return coordinate.Position().Validate()
}

// Position returns the coordinate as a tracker position.
func (coordinate *Coordinate) Position() Position {
	return Position{Lat: coordinate.Latitude, Lon: coordinate.Longitude}
}
