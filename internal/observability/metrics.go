package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// telemetry engine.
type Metrics struct {
	LiveMessages          prometheus.Counter
	LiveMessagesDiscarded prometheus.Counter
	RowsCanonicalized     prometheus.Counter
	CanonicalizeErrors    prometheus.Counter

	SnapshotCommits *prometheus.CounterVec // labels: source={history,live,cache}
	CommitDuration  prometheus.Histogram

	HistoryRefreshes       prometheus.Counter
	HistoryRefreshFailures prometheus.Counter

	CacheWrites        prometheus.Counter
	CacheWriteFailures prometheus.Counter

	AlertsFired             prometheus.Counter
	ThresholdLookupFailures prometheus.Counter

	EngineRunning prometheus.Gauge
	MQTTConnected prometheus.Gauge
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.LiveMessages,
		m.LiveMessagesDiscarded,
		m.RowsCanonicalized,
		m.CanonicalizeErrors,
		m.SnapshotCommits,
		m.CommitDuration,
		m.HistoryRefreshes,
		m.HistoryRefreshFailures,
		m.CacheWrites,
		m.CacheWriteFailures,
		m.AlertsFired,
		m.ThresholdLookupFailures,
		m.EngineRunning,
		m.MQTTConnected,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		LiveMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climbox_engine",
			Name:      "live_messages_total",
			Help:      "Total MQTT messages received on subscribed topics.",
		}),
		LiveMessagesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climbox_engine",
			Name:      "live_messages_discarded_total",
			Help:      "Live messages dropped because no usable rows could be extracted.",
		}),
		RowsCanonicalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climbox_engine",
			Name:      "rows_canonicalized_total",
			Help:      "Raw rows successfully mapped onto the canonical schema.",
		}),
		CanonicalizeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climbox_engine",
			Name:      "canonicalize_errors_total",
			Help:      "Raw rows rejected as invalid records.",
		}),
		SnapshotCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climbox_engine",
			Name:      "snapshot_commits_total",
			Help:      "Authoritative snapshot replacements by source feed.",
		}, []string{"source"}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climbox_engine",
			Name:      "commit_duration_seconds",
			Help:      "Duration of one in-memory snapshot commit.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		HistoryRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climbox_engine",
			Name:      "history_refreshes_total",
			Help:      "Successful tabular history fetches.",
		}),
		HistoryRefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climbox_engine",
			Name:      "history_refresh_failures_total",
			Help:      "History fetches that failed or returned a non-tabular response.",
		}),
		CacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climbox_engine",
			Name:      "cache_writes_total",
			Help:      "Durable cache write-throughs.",
		}),
		CacheWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climbox_engine",
			Name:      "cache_write_failures_total",
			Help:      "Best-effort cache writes that failed.",
		}),
		AlertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climbox_engine",
			Name:      "alerts_fired_total",
			Help:      "Threshold alert events emitted.",
		}),
		ThresholdLookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climbox_engine",
			Name:      "threshold_lookup_failures_total",
			Help:      "Readings whose threshold evaluation was skipped due to lookup errors.",
		}),
		EngineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "climbox_engine",
			Name:      "running",
			Help:      "1 when the engine is active, 0 when shut down.",
		}),
		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "climbox_engine",
			Name:      "mqtt_connected",
			Help:      "1 when the live feed subscription is connected.",
		}),
	}
}
