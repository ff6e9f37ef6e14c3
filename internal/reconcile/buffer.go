package reconcile

import "github.com/climbox/telemetry-engine/internal/domain"

// HistoryBuffer is the bounded rolling window of chart points for one
// location. FIFO: when capacity is exceeded the oldest point is dropped.
// Not safe for concurrent use; the owning location state serializes access.
type HistoryBuffer struct {
	capacity int
	points   []domain.HistoryPoint
}

// NewHistoryBuffer creates a buffer holding at most capacity points.
func NewHistoryBuffer(capacity int) *HistoryBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &HistoryBuffer{capacity: capacity}
}

// Append adds a point, evicting the oldest when over capacity.
func (b *HistoryBuffer) Append(p domain.HistoryPoint) {
	b.points = append(b.points, p)
	if len(b.points) > b.capacity {
		b.points = b.points[len(b.points)-b.capacity:]
	}
}

// Replace discards all points and installs the given sequence, keeping only
// the newest capacity points. Used by full history refreshes, which are the
// ground truth of the recent past.
func (b *HistoryBuffer) Replace(points []domain.HistoryPoint) {
	if len(points) > b.capacity {
		points = points[len(points)-b.capacity:]
	}
	b.points = append([]domain.HistoryPoint(nil), points...)
}

// Points returns a copy of the current window, oldest first.
func (b *HistoryBuffer) Points() []domain.HistoryPoint {
	return append([]domain.HistoryPoint(nil), b.points...)
}

// Last returns the newest point, if any.
func (b *HistoryBuffer) Last() (domain.HistoryPoint, bool) {
	if len(b.points) == 0 {
		return domain.HistoryPoint{}, false
	}
	return b.points[len(b.points)-1], true
}

// Len reports the current number of points.
func (b *HistoryBuffer) Len() int { return len(b.points) }
