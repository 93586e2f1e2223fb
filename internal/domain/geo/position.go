package geo

import (
	"errors"
	"math"
)

// Position is a latitude/longitude pair as reported by a sender.
// Ranges are not enforced: a tracked vehicle is stored wherever it claims to be.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

var (
	ErrNonFiniteLatitude  = errors.New("latitude must be a finite number")
	ErrNonFiniteLongitude = errors.New("longitude must be a finite number")
	ErrInvalidLatitude    = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude   = errors.New("longitude must be between -180 and 180")
	ErrBadPair            = errors.New("position must be a [lat, lon] pair")
)

// NewPosition builds a Position and rejects NaN/Inf components.
func NewPosition(lat, lon float64) (Position, error) {
	p := Position{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	return p, nil
}

// PositionFromPair converts a wire-level [lat, lon] pair.
func PositionFromPair(pair []float64) (Position, error) {
	if len(pair) != 2 {
		return Position{}, ErrBadPair
	}
	return NewPosition(pair[0], pair[1])
}

// Validate checks that both components are finite.
func (p Position) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) {
		return ErrNonFiniteLatitude
	}
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) {
		return ErrNonFiniteLongitude
	}
	return nil
}

// CheckRange reports whether the position lies on the globe.
// Only the archive uses it; the live store keeps out-of-range points as-is.
func (p Position) CheckRange() error {
	if p.Lat < -90 || p.Lat > 90 {
		return ErrInvalidLatitude
	}
	if p.Lon < -180 || p.Lon > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

// Pair returns the position in the [lat, lon] wire shape.
func (p Position) Pair() [2]float64 {
	return [2]float64{p.Lat, p.Lon}
}
