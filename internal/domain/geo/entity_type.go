package geo

import (
	"errors"
	"strings"
)

// EntityType is the owner kind stored next to coordinates (`coordinates.entity_type`).
type EntityType string

const (
	EntityTypeDriver  EntityType = "driver"
	EntityTypeVehicle EntityType = "vehicle"
)

var ErrInvalidEntityType = errors.New("invalid entity type")

// ParseEntityType normalizes (lowercases+trims) and validates an entity type string.
func ParseEntityType(input string) (EntityType, error) {
	entityType := EntityType(strings.ToLower(strings.TrimSpace(input)))
	if entityType.Valid() {
		return entityType, nil
	}
	return "", ErrInvalidEntityType
}

// Valid reports whether entityType is one of the allowed entity type constants.
func (entityType EntityType) Valid() bool {
	switch entityType {
	case EntityTypeDriver, EntityTypeVehicle:
		return true
	default:
		return false
	}
}

func (entityType EntityType) String() string {
	return string(entityType)
}
