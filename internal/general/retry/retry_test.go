package retry

import (
	"testing"
	"time"
)

func within(d, want time.Duration) bool {
	slack := want / 5
	return d >= want-slack && d <= want+slack
}

func TestBackoffDoublesUpToMaxWait(t *testing.T) {
	b := Backoff()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, MaxWait, MaxWait}
	for i, w := range want {
		if got := b.NextBackOff(); !within(got, w) {
			t.Fatalf("step %d: expected about %v, got %v", i, w, got)
		}
	}

	b.Reset()
	if got := b.NextBackOff(); !within(got, InitialWait) {
		t.Fatalf("expected reset to start over at about %v, got %v", InitialWait, got)
	}
}
