// Package alert decides whether committed readings qualify as alert-worthy
// events and dispatches them to the external notifier's sink.
package alert

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/climbox/telemetry-engine/internal/domain"
	"github.com/climbox/telemetry-engine/internal/observability"
)

// ThresholdSource resolves the configured threshold for one sensor field at
// one location. ok=false means no threshold is configured, which is a valid
// answer: the field simply is not monitored.
type ThresholdSource interface {
	Threshold(ctx context.Context, locationID, field string) (float64, bool, error)
}

// Sink receives fired alert events. Delivery and acknowledgement are the
// notifier's responsibility, not this engine's.
type Sink interface {
	Publish(ctx context.Context, events []domain.AlertEvent) error
}

// Evaluator applies threshold rules to committed readings. It emits exactly
// one AlertEvent per (location, field, reading) whose numeric value strictly
// exceeds the resolved threshold. Deduplication across repeated identical
// readings belongs to the consumer's unread-state tracking.
type Evaluator struct {
	source  ThresholdSource
	sink    Sink
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
}

// New creates an Evaluator. sink may be nil, in which case fired events are
// only returned to the caller.
func New(source ThresholdSource, sink Sink, logger *slog.Logger,
	metrics *observability.Metrics, clock clockwork.Clock) *Evaluator {
	return &Evaluator{
		source:  source,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
	}
}

// Evaluate checks every monitored field of a reading. A threshold lookup
// failure logs, skips the remaining evaluation for this reading and keeps
// any events that already fired; it never blocks the commit that triggered
// the evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, reading domain.CanonicalReading) []domain.AlertEvent {
	var events []domain.AlertEvent

	for _, cat := range domain.Categories() {
		for _, f := range domain.FieldsFor(cat) {
			value, ok := reading.Categories[cat][f.Key].(float64)
			if !ok {
				// Absent or non-numeric values ("ON"/"OFF") are never
				// threshold-evaluated.
				continue
			}

			threshold, configured, err := e.source.Threshold(ctx, reading.LocationID, f.Key)
			if err != nil {
				e.metrics.ThresholdLookupFailures.Inc()
				e.logger.Warn("threshold lookup failed, skipping evaluation",
					"location", reading.LocationID, "field", f.Key, "error", err)
				e.dispatch(ctx, events)
				return events
			}
			if !configured {
				continue
			}

			// Strictly greater: a value equal to the threshold does not fire.
			if value > threshold {
				events = append(events, domain.AlertEvent{
					LocationID: reading.LocationID,
					Field:      f.Key,
					Value:      value,
					Threshold:  threshold,
					FiredAt:    e.clock.Now(),
				})
			}
		}
	}

	e.dispatch(ctx, events)
	return events
}

func (e *Evaluator) dispatch(ctx context.Context, events []domain.AlertEvent) {
	if len(events) == 0 {
		return
	}
	e.metrics.AlertsFired.Add(float64(len(events)))
	for _, ev := range events {
		e.logger.Info("alert fired", "location", ev.LocationID,
			"field", ev.Field, "value", ev.Value, "threshold", ev.Threshold)
	}
	if e.sink == nil {
		return
	}
	if err := e.sink.Publish(ctx, events); err != nil {
		// The events still count as fired; delivery retries are the
		// notifier's concern.
		e.logger.Error("alert sink publish failed", "count", len(events), "error", err)
	}
}
