package sheets

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/climbox/telemetry-engine/internal/domain"
	"github.com/climbox/telemetry-engine/internal/observability"
)

// RowFetcher fetches one location's history export.
type RowFetcher interface {
	FetchRows(ctx context.Context, locationID string, date time.Time) ([]domain.RawRecord, error)
}

// Applier receives refresh results. HistoryUnavailable is called when a
// refresh gives up so the applier can fall back to cached data.
type Applier interface {
	ApplyHistory(ctx context.Context, locationID string, rows []domain.RawRecord) error
	HistoryUnavailable(ctx context.Context, locationID string)
}

// Refresher periodically re-fetches every configured location's history
// export and feeds it to the reconciler. One refresh cycle walks all
// locations sequentially; a failing location does not block the others.
type Refresher struct {
	fetcher  RowFetcher
	applier  Applier
	logger   *slog.Logger
	metrics  *observability.Metrics
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
}

// NewRefresher creates a Refresher for the given locations' feed.
func NewRefresher(fetcher RowFetcher, applier Applier, logger *slog.Logger,
	metrics *observability.Metrics, clock clockwork.Clock,
	interval, timeout time.Duration) *Refresher {
	return &Refresher{
		fetcher:  fetcher,
		applier:  applier,
		logger:   logger,
		metrics:  metrics,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
	}
}

// Run refreshes immediately, then on every interval tick until the context
// is cancelled.
func (r *Refresher) Run(ctx context.Context, locations []string) error {
	r.logger.Info("history refresher started",
		"locations", len(locations), "interval", r.interval)

	r.refreshAll(ctx, locations)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("history refresher stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			r.refreshAll(ctx, locations)
		}
	}
}

func (r *Refresher) refreshAll(ctx context.Context, locations []string) {
	for _, loc := range locations {
		if ctx.Err() != nil {
			return
		}
		r.refresh(ctx, loc)
	}
}

// refresh fetches one location with bounded retries. Exponential backoff:
// start at 200ms, double each retry, cap at 5s.
func (r *Refresher) refresh(ctx context.Context, locationID string) {
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second
	const maxAttempts = 3

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rows, err := r.fetchOnce(ctx, locationID)
		if err == nil {
			r.metrics.HistoryRefreshes.Inc()
			if err := r.applier.ApplyHistory(ctx, locationID, rows); err != nil {
				r.logger.Error("apply history failed", "location", locationID, "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		r.logger.Warn("history fetch failed", "location", locationID,
			"attempt", attempt, "error", err)
		if attempt < maxAttempts {
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
		}
	}

	r.metrics.HistoryRefreshFailures.Inc()
	r.applier.HistoryUnavailable(ctx, locationID)
}

func (r *Refresher) fetchOnce(ctx context.Context, locationID string) ([]domain.RawRecord, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.fetcher.FetchRows(fetchCtx, locationID, r.clock.Now())
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
