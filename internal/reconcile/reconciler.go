package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/climbox/telemetry-engine/internal/domain"
	"github.com/climbox/telemetry-engine/internal/observability"
)

// Cache is the durable write-through mirror of published state. Writes are
// best-effort; reads happen only at cold start or when the history
// transport is down.
type Cache interface {
	Write(ctx context.Context, locationID string, state domain.CachedState) error
	Read(ctx context.Context, locationID string) (*domain.CachedState, error)
}

// Evaluator decides whether a committed reading fires alerts. Returned
// events have already been dispatched to the alert sink.
type Evaluator interface {
	Evaluate(ctx context.Context, reading domain.CanonicalReading) []domain.AlertEvent
}

// Reconciler merges the history export, the live feed and the durable
// cache into one authoritative snapshot plus a rolling chart window per
// location. All mutation flows through it: one writer per location, with
// different locations independent.
type Reconciler struct {
	store   *Store
	canon   *domain.Canonicalizer
	cache   Cache
	eval    Evaluator
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	effects *sideEffects
	ready   atomic.Bool
}

// New creates a Reconciler. cache and eval may be nil, disabling
// write-through and threshold evaluation respectively.
func New(store *Store, canon *domain.Canonicalizer, cache Cache, eval Evaluator,
	logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Reconciler {
	return &Reconciler{
		store:   store,
		canon:   canon,
		cache:   cache,
		eval:    eval,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
		effects: newSideEffects(),
	}
}

// Flush blocks until every queued post-commit side effect has run. Called
// during shutdown so pending cache writes reach disk.
func (r *Reconciler) Flush() { r.effects.drain() }

// Store exposes the read-only published state for API handlers.
func (r *Reconciler) Store() *Store { return r.store }

// CheckReadiness returns nil once at least one snapshot has been committed.
func (r *Reconciler) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no snapshot committed yet")
	}
	return nil
}

// Bootstrap installs the last cached state for a location, used at cold
// start before any live or history data has arrived. A cache miss is not
// an error.
func (r *Reconciler) Bootstrap(ctx context.Context, locationID string) error {
	if r.cache == nil {
		return nil
	}
	cached, err := r.cache.Read(ctx, locationID)
	if err != nil {
		r.logger.Warn("cache read failed", "location", locationID, "error", err)
		return err
	}
	if cached == nil {
		return nil
	}

	ls := r.store.loc(locationID)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed || ls.state != StateCold {
		// Live or history data already superseded the cache.
		return nil
	}
	snap := &domain.Snapshot{
		LocationID: locationID,
		Reading:    cached.Snapshot.Reading,
		FetchedAt:  cached.Snapshot.FetchedAt,
		Source:     domain.SourceCache,
	}
	ls.snapshot = snap
	ls.buffer.Replace(cached.History)
	ls.state = StateCached

	r.metrics.SnapshotCommits.WithLabelValues(string(domain.SourceCache)).Inc()
	r.ready.Store(true)
	r.logger.Info("serving cached snapshot", "location", locationID,
		"fetched_at", snap.FetchedAt)
	return nil
}

// HistoryUnavailable records a failed history refresh. Existing published
// data is kept as-is (stale beats blank); a still-cold location falls back
// to the durable cache.
func (r *Reconciler) HistoryUnavailable(ctx context.Context, locationID string) {
	if r.store.State(locationID) == StateCold {
		_ = r.Bootstrap(ctx, locationID) // best-effort fallback, failure already logged
		return
	}
	r.logger.Warn("history unavailable, serving last known data",
		"location", locationID, "state", r.store.State(locationID).String())
}

// ApplyHistory replaces a location's rolling window with a full history
// refresh and folds the rows into the snapshot, oldest to newest. The
// refresh is treated as ground truth for the recent past: the buffer is
// replaced outright, not merged point by point with live-appended points.
func (r *Reconciler) ApplyHistory(ctx context.Context, locationID string, rows []domain.RawRecord) error {
	readings := r.canonicalizeRows(locationID, rows)
	if len(readings) == 0 {
		return nil
	}

	points := make([]domain.HistoryPoint, 0, len(readings))
	for _, reading := range readings {
		points = append(points, pointFor(reading))
	}

	start := time.Now()
	ls := r.store.loc(locationID)
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		r.logger.Debug("discarding history for closed location", "location", locationID)
		return nil
	}
	merged := readingOf(ls.snapshot)
	for _, reading := range readings {
		merged = mergeReading(merged, reading)
	}
	snap := &domain.Snapshot{
		LocationID: locationID,
		Reading:    merged,
		FetchedAt:  r.clock.Now(),
		Source:     domain.SourceHistory,
	}
	ls.snapshot = snap
	ls.buffer.Replace(points)
	if ls.state < StateHistoryLoaded {
		ls.state = StateHistoryLoaded
	}
	bufPoints := ls.buffer.Points()
	ls.mu.Unlock()

	r.metrics.SnapshotCommits.WithLabelValues(string(domain.SourceHistory)).Inc()
	r.ready.Store(true)
	r.metrics.CommitDuration.Observe(time.Since(start).Seconds())

	res := commitResult{snap: snap, points: bufPoints, merged: merged}
	r.writeThrough(ctx, locationID, res)
	r.evaluate(ctx, merged)
	return nil
}

// ApplyLive applies rows from one live message in arrival order. The
// in-memory state is published before ApplyLive returns; cache writes and
// threshold evaluation run on the location's side-effect queue so the
// broker callback is never held up by a slow backend. Returns the number
// of rows committed.
func (r *Reconciler) ApplyLive(ctx context.Context, locationID string, rows []domain.RawRecord) int {
	applied := 0
	for _, reading := range r.canonicalizeRows(locationID, rows) {
		if r.commitAsync(ctx, locationID, reading, domain.SourceLive, StateLive) {
			applied++
		}
	}
	return applied
}

// Ingest commits a single pushed record, returning the committed reading's
// identifier and whether any alert fired. A closed location returns
// domain.ErrLocationClosed instead of pretending the record was stored.
// This is the entrypoint behind POST /ingest.
func (r *Reconciler) Ingest(ctx context.Context, locationID string, raw domain.RawRecord, tsOverride *time.Time) (string, bool, error) {
	reading, err := r.canon.Canonicalize(raw, locationID)
	if err != nil {
		r.metrics.CanonicalizeErrors.Inc()
		return "", false, err
	}
	r.metrics.RowsCanonicalized.Inc()

	if tsOverride != nil {
		t := tsOverride.UTC()
		reading.Timestamp = &t
		if reading.TimestampLabel == "" {
			reading.TimestampLabel = t.Format(time.RFC3339)
		}
	}

	fired, committed := r.commit(ctx, locationID, reading, domain.SourceLive, StateLive)
	if !committed {
		return "", false, fmt.Errorf("ingest %q: %w", locationID, domain.ErrLocationClosed)
	}
	return uuid.NewString(), fired, nil
}

// canonicalizeRows maps raw rows to readings, dropping invalid records
// without aborting the batch.
func (r *Reconciler) canonicalizeRows(locationID string, rows []domain.RawRecord) []domain.CanonicalReading {
	readings := make([]domain.CanonicalReading, 0, len(rows))
	for _, row := range rows {
		reading, err := r.canon.Canonicalize(row, locationID)
		if err != nil {
			r.metrics.CanonicalizeErrors.Inc()
			r.logger.Warn("skipping invalid record", "location", locationID, "error", err)
			continue
		}
		r.metrics.RowsCanonicalized.Inc()
		readings = append(readings, reading)
	}
	return readings
}

// commitResult carries the state a commit published, for the side effects
// that follow it.
type commitResult struct {
	snap   *domain.Snapshot
	points []domain.HistoryPoint
	merged domain.CanonicalReading
}

// commit replaces the snapshot and runs the side effects inline, so the
// caller learns whether an alert fired. Returns (alertFired, committed).
func (r *Reconciler) commit(ctx context.Context, locationID string, reading domain.CanonicalReading, source domain.SourceTag, advance State) (bool, bool) {
	res, ok := r.commitState(locationID, reading, source, advance)
	if !ok {
		return false, false
	}
	r.writeThrough(ctx, locationID, res)
	return r.evaluate(ctx, res.merged), true
}

// commitAsync replaces the snapshot inline but hands the side effects to
// the location's serialized queue, so a slow cache or threshold backend
// never stalls the live feed handler. Returns whether the commit happened.
func (r *Reconciler) commitAsync(ctx context.Context, locationID string, reading domain.CanonicalReading, source domain.SourceTag, advance State) bool {
	res, ok := r.commitState(locationID, reading, source, advance)
	if !ok {
		return false
	}
	r.effects.enqueue(locationID, func() {
		r.writeThrough(ctx, locationID, res)
		r.evaluate(ctx, res.merged)
	})
	return true
}

// commitState replaces the snapshot with the field-wise merge of the
// previous snapshot and the incoming reading. Last write wins per field
// regardless of timestamps: an event with an older-or-equal timestamp
// still updates the fields it carries. Only the chart buffer is
// timestamp-gated.
func (r *Reconciler) commitState(locationID string, reading domain.CanonicalReading, source domain.SourceTag, advance State) (commitResult, bool) {
	start := time.Now()
	ls := r.store.loc(locationID)
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		r.logger.Debug("discarding event for closed location", "location", locationID)
		return commitResult{}, false
	}
	merged := mergeReading(readingOf(ls.snapshot), reading)
	snap := &domain.Snapshot{
		LocationID: locationID,
		Reading:    merged,
		FetchedAt:  r.clock.Now(),
		Source:     source,
	}
	ls.snapshot = snap
	if ls.state < advance {
		ls.state = advance
	}
	if shouldAppend(ls.buffer, reading.Timestamp) {
		ls.buffer.Append(pointFor(merged))
	}
	points := ls.buffer.Points()
	ls.mu.Unlock()

	r.metrics.SnapshotCommits.WithLabelValues(string(source)).Inc()
	r.ready.Store(true)
	r.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	return commitResult{snap: snap, points: points, merged: merged}, true
}

// writeThrough mirrors the committed state to the durable cache.
// Best-effort: a failure is counted and logged, never undone.
func (r *Reconciler) writeThrough(ctx context.Context, locationID string, res commitResult) {
	if r.cache == nil {
		return
	}
	err := r.cache.Write(ctx, locationID, domain.CachedState{
		Snapshot: *res.snap,
		History:  res.points,
		CachedAt: r.clock.Now(),
	})
	if err != nil {
		r.metrics.CacheWriteFailures.Inc()
		r.logger.Warn("cache write failed", "location", locationID, "error", err)
		return
	}
	r.metrics.CacheWrites.Inc()
}

// evaluate runs threshold evaluation on the committed reading. Returned
// events have already been dispatched by the evaluator.
func (r *Reconciler) evaluate(ctx context.Context, reading domain.CanonicalReading) bool {
	if r.eval == nil {
		return false
	}
	return len(r.eval.Evaluate(ctx, reading)) > 0
}

// shouldAppend gates chart appends: only events carrying a timestamp newer
// than the window's last point extend the window. An empty window accepts
// anything; duplicate redeliveries of the same reading stay harmless.
func shouldAppend(b *HistoryBuffer, ts *time.Time) bool {
	last, ok := b.Last()
	if !ok {
		return true
	}
	if ts == nil {
		return false
	}
	if last.Timestamp == nil {
		return true
	}
	return ts.After(*last.Timestamp)
}

func pointFor(reading domain.CanonicalReading) domain.HistoryPoint {
	label := reading.TimestampLabel
	if label == "" && reading.Timestamp != nil {
		label = reading.Timestamp.Format(time.RFC3339)
	}
	return domain.HistoryPoint{
		Label:     label,
		Timestamp: reading.Timestamp,
		Values:    reading.FlattenValues(),
	}
}

// readingOf unwraps a snapshot's reading, or returns a zero reading for a
// location that has none yet.
func readingOf(s *domain.Snapshot) domain.CanonicalReading {
	if s == nil {
		return domain.CanonicalReading{}
	}
	return s.Reading
}

// mergeReading overlays the incoming reading on the previous one: each
// non-nil incoming field value replaces the previous value, nil leaves it
// alone. Prior maps are never mutated; the result is freshly allocated so
// published snapshots stay immutable.
func mergeReading(prev, in domain.CanonicalReading) domain.CanonicalReading {
	out := domain.CanonicalReading{
		LocationID:     in.LocationID,
		Timestamp:      prev.Timestamp,
		TimestampLabel: prev.TimestampLabel,
		Latitude:       prev.Latitude,
		Longitude:      prev.Longitude,
		Categories:     make(map[domain.Category]map[string]any, len(domain.Categories())),
	}
	if out.LocationID == "" {
		out.LocationID = prev.LocationID
	}
	if in.Timestamp != nil {
		out.Timestamp = in.Timestamp
		out.TimestampLabel = in.TimestampLabel
	}
	if in.Latitude != nil {
		out.Latitude = in.Latitude
	}
	if in.Longitude != nil {
		out.Longitude = in.Longitude
	}

	for _, cat := range domain.Categories() {
		fields := domain.FieldsFor(cat)
		values := make(map[string]any, len(fields))
		for _, f := range fields {
			var v any
			if prev.Categories != nil {
				v = prev.Categories[cat][f.Key]
			}
			if in.Categories != nil {
				if iv := in.Categories[cat][f.Key]; iv != nil {
					v = iv
				}
			}
			values[f.Key] = v
		}
		out.Categories[cat] = values
	}
	return out
}
