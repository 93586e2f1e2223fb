package geo

// DefaultPathCapacity is used when a non-positive capacity is requested.
const DefaultPathCapacity = 256

// PathHistory is the trail of positions seen for one entity, oldest first.
// It is a fixed-capacity ring: once full, every append evicts the oldest point.
// PathHistory is not safe for concurrent use; the owning store serialises access.
type PathHistory struct {
	buf   []Position
	start int // index of the oldest point once the ring is full
	limit int
}

// NewPathHistory returns an empty history holding at most capacity points.
func NewPathHistory(capacity int) *PathHistory {
	if capacity <= 0 {
		capacity = DefaultPathCapacity
	}
	initial := capacity
	if initial > 8 {
		initial = 8
	}
	return &PathHistory{buf: make([]Position, 0, initial), limit: capacity}
}

// Append adds p as the newest point.
func (h *PathHistory) Append(p Position) {
	if len(h.buf) < h.limit {
		h.buf = append(h.buf, p)
		return
	}
	h.buf[h.start] = p
	h.start = (h.start + 1) % h.limit
}

// Reset drops the trail and starts a new one at p.
func (h *PathHistory) Reset(p Position) {
	h.buf = h.buf[:0]
	h.start = 0
	h.buf = append(h.buf, p)
}

// Len returns the number of stored points.
func (h *PathHistory) Len() int { return len(h.buf) }

// Cap returns the maximum number of points kept.
func (h *PathHistory) Cap() int { return h.limit }

// Last returns the newest point.
func (h *PathHistory) Last() (Position, bool) {
	if len(h.buf) == 0 {
		return Position{}, false
	}
	if len(h.buf) < h.limit || h.start == 0 {
		return h.buf[len(h.buf)-1], true
	}
	return h.buf[h.start-1], true
}

// Positions returns a copy of the trail, oldest first.
func (h *PathHistory) Positions() []Position {
	out := make([]Position, 0, len(h.buf))
	out = append(out, h.buf[h.start:]...)
	out = append(out, h.buf[:h.start]...)
	return out
}
