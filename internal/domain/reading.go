package domain

import "time"

// RawRecord is one row as produced by any upstream feed: free-form field
// label → scalar value. Keys may use arbitrary casing, punctuation and
// units-in-parentheses; unknown keys are ignored and expected keys may be
// missing entirely.
type RawRecord map[string]any

// SourceTag records which feed produced an authoritative snapshot.
type SourceTag string

const (
	SourceHistory SourceTag = "history"
	SourceLive    SourceTag = "live"
	SourceCache   SourceTag = "cache"
)

// CanonicalReading is one row after normalization: every declared category
// is present as a key even when all of its fields are nil — absence is
// represented, never omitted. Values are float64, string or nil.
type CanonicalReading struct {
	LocationID string     `json:"locationId"`
	Timestamp  *time.Time `json:"timestamp"`
	// TimestampLabel keeps the raw upstream timestamp text for chart labels,
	// even when it did not parse to an instant.
	TimestampLabel string                      `json:"timestampLabel,omitempty"`
	Latitude       *float64                    `json:"latitude,omitempty"`
	Longitude      *float64                    `json:"longitude,omitempty"`
	Categories     map[Category]map[string]any `json:"categories"`
}

// Value returns the reading's value for a canonical field key, looked up
// through the catalog, or nil when absent.
func (r CanonicalReading) Value(key string) any {
	c, ok := CategoryOf(key)
	if !ok {
		return nil
	}
	return r.Categories[c][key]
}

// Snapshot is the single authoritative current reading for a location.
// Snapshots are replaced on commit, never mutated in place, so a published
// *Snapshot is safe to hand to concurrent readers.
type Snapshot struct {
	LocationID string           `json:"locationId"`
	Reading    CanonicalReading `json:"reading"`
	FetchedAt  time.Time        `json:"fetchedAt"`
	Source     SourceTag        `json:"source"`
}

// HistoryPoint is one chart point: a display label, the parsed instant when
// one was available, and the flattened canonical field → value map.
type HistoryPoint struct {
	Label     string         `json:"label"`
	Timestamp *time.Time     `json:"timestamp"`
	Values    map[string]any `json:"values"`
}

// CachedState is the durable-cache payload per location: the last committed
// snapshot plus the rolling history points that back the charts.
type CachedState struct {
	Snapshot Snapshot       `json:"snapshot"`
	History  []HistoryPoint `json:"history"`
	CachedAt time.Time      `json:"cachedAt"`
}

// AlertEvent is an immutable record of one threshold exceedance: exactly
// one is created per (location, field, reading) that qualifies. Delivery
// and acknowledgement belong to the external notifier.
type AlertEvent struct {
	LocationID string    `json:"locationId"`
	Field      string    `json:"sensorField"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	FiredAt    time.Time `json:"firedAt"`
}

// FlattenValues merges all category field values of a reading into one
// field → value map for chart points.
func (r CanonicalReading) FlattenValues() map[string]any {
	out := make(map[string]any)
	for _, c := range Categories() {
		for k, v := range r.Categories[c] {
			out[k] = v
		}
	}
	return out
}
