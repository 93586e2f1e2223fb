// Package retry holds the reconnect schedule shared by the feed transports.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	InitialWait = time.Second
	MaxWait     = 30 * time.Second
)

// Backoff returns a fresh reconnect schedule: doubling from InitialWait up to
// MaxWait with 20% jitter. Reset it once a connection is established.
func Backoff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     InitialWait,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         MaxWait,
	}
}
