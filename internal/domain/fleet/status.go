package fleet

import (
	"errors"
	"strings"
)

// Status is caller-visible metadata about an entity. It never lives in the
// store: it is either announced by the sender (driver status messages) or
// derived from liveness.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusAvailable Status = "AVAILABLE"
	StatusBusy      Status = "BUSY"
	StatusEnRoute   Status = "EN_ROUTE"
	StatusOffline   Status = "OFFLINE"
	StatusStale     Status = "STALE"
)

var ErrInvalidStatus = errors.New("invalid status")

// ParseStatus normalizes (uppercases+trims) and validates a status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// ParseStatusList parses a comma separated list such as "ACTIVE,BUSY".
func ParseStatusList(in string) ([]Status, error) {
	var out []Status
	for _, part := range strings.Split(in, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		status, err := ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

// Valid reports whether the status is one of the allowed constants.
func (status Status) Valid() bool {
	switch status {
	case StatusActive, StatusAvailable, StatusBusy, StatusEnRoute, StatusOffline, StatusStale:
		return true
	default:
		return false
	}
}

// Announced reports whether a sender may set this status explicitly.
// STALE is only ever derived.
func (status Status) Announced() bool {
	return status.Valid() && status != StatusStale
}

func (status Status) String() string {
	return string(status)
}
