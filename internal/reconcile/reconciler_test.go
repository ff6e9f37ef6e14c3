package reconcile_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climbox/telemetry-engine/internal/domain"
	"github.com/climbox/telemetry-engine/internal/observability"
	"github.com/climbox/telemetry-engine/internal/reconcile"
)

const testLocation = "pulau_komodo"

// --- mocks ---

type mockCache struct {
	mu       sync.Mutex
	written  map[string]domain.CachedState
	stored   *domain.CachedState
	readErr  error
	writeErr error
}

func (m *mockCache) Write(_ context.Context, locationID string, state domain.CachedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if m.written == nil {
		m.written = map[string]domain.CachedState{}
	}
	m.written[locationID] = state
	return nil
}

func (m *mockCache) Read(_ context.Context, _ string) (*domain.CachedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.stored, nil
}

type mockEvaluator struct {
	mu       sync.Mutex
	events   []domain.AlertEvent
	readings []domain.CanonicalReading
}

func (m *mockEvaluator) Evaluate(_ context.Context, reading domain.CanonicalReading) []domain.AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, reading)
	return m.events
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newReconciler(t *testing.T, cache reconcile.Cache, eval reconcile.Evaluator) (*reconcile.Reconciler, *reconcile.Store) {
	t.Helper()
	store := reconcile.NewStore(5)
	canon := domain.NewCanonicalizer(discardLogger(), true)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 8, 15, 6, 0, 0, 0, time.UTC))
	r := reconcile.New(store, canon, cache, eval,
		discardLogger(), observability.NewMetricsForTesting(), clock)
	return r, store
}

func waterTemp(t *testing.T, store *reconcile.Store, loc string) any {
	t.Helper()
	snap, ok := store.Snapshot(loc)
	require.True(t, ok)
	return snap.Reading.Value("water_temp")
}

// --- tests ---

func TestReconciler_LiveCommitPublishesSnapshot(t *testing.T) {
	cache := &mockCache{}
	r, store := newReconciler(t, cache, nil)

	applied := r.ApplyLive(context.Background(), testLocation, []domain.RawRecord{
		{"Timestamp": "8/14/2025 23:59:05", "Water Temp (C)": "29.5"},
	})
	require.Equal(t, 1, applied)

	assert.Equal(t, reconcile.StateLive, store.State(testLocation))
	assert.Equal(t, 29.5, waterTemp(t, store, testLocation))

	snap, ok := store.Snapshot(testLocation)
	require.True(t, ok)
	assert.Equal(t, domain.SourceLive, snap.Source)

	// Write-through happened once the side-effect queue drained.
	r.Flush()
	require.Contains(t, cache.written, testLocation)
	assert.Equal(t, 29.5, cache.written[testLocation].Snapshot.Reading.Value("water_temp"))

	require.NoError(t, r.CheckReadiness(context.Background()))
}

func TestReconciler_OlderTimestampStillUpdatesFields(t *testing.T) {
	// Deliberate rule: last write wins per field regardless of timestamps.
	// An event carrying an older timestamp than the snapshot must still
	// update the fields it carries.
	r, store := newReconciler(t, nil, nil)
	ctx := context.Background()

	r.ApplyLive(ctx, testLocation, []domain.RawRecord{
		{"Timestamp": "2025-08-14T23:00:00Z", "Water Temp (C)": "29.5", "pH": "7.8"},
	})
	r.ApplyLive(ctx, testLocation, []domain.RawRecord{
		{"Timestamp": "2025-08-14T22:00:00Z", "Water Temp (C)": "28.0"},
	})

	snap, ok := store.Snapshot(testLocation)
	require.True(t, ok)
	assert.Equal(t, 28.0, snap.Reading.Value("water_temp"), "older event still wins per field")
	assert.Equal(t, 7.8, snap.Reading.Value("ph"), "fields absent from the event are kept")

	// The chart window, by contrast, is timestamp-gated: the older event
	// must not have appended a second point.
	assert.Len(t, store.History(testLocation), 1)
}

func TestReconciler_DuplicateDeliveryIsHarmless(t *testing.T) {
	r, store := newReconciler(t, nil, nil)
	ctx := context.Background()

	row := domain.RawRecord{"Timestamp": "2025-08-14T23:00:00Z", "Water Temp (C)": "29.5"}
	r.ApplyLive(ctx, testLocation, []domain.RawRecord{row})
	r.ApplyLive(ctx, testLocation, []domain.RawRecord{row})

	assert.Equal(t, 29.5, waterTemp(t, store, testLocation))
	assert.Len(t, store.History(testLocation), 1, "redelivery must not grow the chart window")
}

func TestReconciler_HistoryReplacesBuffer(t *testing.T) {
	r, store := newReconciler(t, nil, nil)
	ctx := context.Background()

	// A live point first.
	r.ApplyLive(ctx, testLocation, []domain.RawRecord{
		{"Timestamp": "2025-08-14T10:00:00Z", "Water Temp (C)": "27.0"},
	})

	err := r.ApplyHistory(ctx, testLocation, []domain.RawRecord{
		{"Timestamp": "2025-08-14T11:00:00Z", "Water Temp (C)": "28.0"},
		{"Timestamp": "2025-08-14T12:00:00Z", "Water Temp (C)": "28.5", "pH": "7.9"},
	})
	require.NoError(t, err)

	points := store.History(testLocation)
	require.Len(t, points, 2, "refresh replaces the window outright")
	assert.Equal(t, 28.0, points[0].Values["water_temp"])
	assert.Equal(t, 28.5, points[1].Values["water_temp"])

	snap, ok := store.Snapshot(testLocation)
	require.True(t, ok)
	assert.Equal(t, domain.SourceHistory, snap.Source)
	assert.Equal(t, 28.5, snap.Reading.Value("water_temp"), "last row wins")
	assert.Equal(t, 7.9, snap.Reading.Value("ph"))

	// Live already happened, so state must not demote.
	assert.Equal(t, reconcile.StateLive, store.State(testLocation))
}

func TestReconciler_HistoryUnavailableFallsBackToCache(t *testing.T) {
	fetchedAt := time.Date(2025, 8, 14, 20, 0, 0, 0, time.UTC)
	cachedReading := domain.CanonicalReading{
		LocationID: testLocation,
		Categories: map[domain.Category]map[string]any{
			domain.CategoryKualitasFisika: {"water_temp": 26.5, "ec": nil},
		},
	}
	cache := &mockCache{stored: &domain.CachedState{
		Snapshot: domain.Snapshot{
			LocationID: testLocation,
			Reading:    cachedReading,
			FetchedAt:  fetchedAt,
			Source:     domain.SourceLive,
		},
		History: []domain.HistoryPoint{{Label: "20:00", Values: map[string]any{"water_temp": 26.5}}},
	}}

	r, store := newReconciler(t, cache, nil)

	r.HistoryUnavailable(context.Background(), testLocation)

	assert.Equal(t, reconcile.StateCached, store.State(testLocation))
	snap, ok := store.Snapshot(testLocation)
	require.True(t, ok)
	assert.Equal(t, domain.SourceCache, snap.Source, "served snapshot is re-tagged as cache")
	assert.Equal(t, fetchedAt, snap.FetchedAt, "cache keeps the original fetch time for age display")
	if diff := cmp.Diff(cachedReading, snap.Reading); diff != "" {
		t.Errorf("published snapshot differs from cached payload (-want +got):\n%s", diff)
	}
	assert.Len(t, store.History(testLocation), 1)
}

func TestReconciler_HistoryUnavailableKeepsNewerData(t *testing.T) {
	cache := &mockCache{stored: &domain.CachedState{
		Snapshot: domain.Snapshot{LocationID: testLocation},
	}}
	r, store := newReconciler(t, cache, nil)
	ctx := context.Background()

	r.ApplyLive(ctx, testLocation, []domain.RawRecord{
		{"Timestamp": "2025-08-15T01:00:00Z", "Water Temp (C)": "30.1"},
	})
	r.HistoryUnavailable(ctx, testLocation)

	assert.Equal(t, reconcile.StateLive, store.State(testLocation),
		"cache must never supersede live data")
	assert.Equal(t, 30.1, waterTemp(t, store, testLocation))
}

func TestReconciler_CacheWriteFailureDoesNotBlockCommit(t *testing.T) {
	cache := &mockCache{writeErr: errors.New("disk full")}
	eval := &mockEvaluator{events: []domain.AlertEvent{{LocationID: testLocation, Field: "water_temp"}}}
	r, store := newReconciler(t, cache, eval)

	id, fired, err := r.Ingest(context.Background(), testLocation,
		domain.RawRecord{"Water Temp (C)": "31.0"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, fired, "alert evaluation proceeds despite the failed cache write")
	assert.Equal(t, 31.0, waterTemp(t, store, testLocation))
}

// blockingCache holds every write until release is closed, recording the
// write order afterwards.
type blockingCache struct {
	mu      sync.Mutex
	release chan struct{}
	written []string
}

func (c *blockingCache) Write(_ context.Context, locationID string, _ domain.CachedState) error {
	<-c.release
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, locationID)
	return nil
}

func (c *blockingCache) Read(_ context.Context, _ string) (*domain.CachedState, error) {
	return nil, nil
}

func TestReconciler_SlowCacheDoesNotStallLiveFeed(t *testing.T) {
	cache := &blockingCache{release: make(chan struct{})}
	r, store := newReconciler(t, cache, nil)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ApplyLive(ctx, testLocation, []domain.RawRecord{
			{"Timestamp": "2025-08-14T23:00:00Z", "Water Temp (C)": "29.5"},
		})
		r.ApplyLive(ctx, testLocation, []domain.RawRecord{
			{"Timestamp": "2025-08-14T23:05:00Z", "Water Temp (C)": "30.1"},
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ApplyLive blocked behind the cache write")
	}

	// State is already published even though no write has completed.
	assert.Equal(t, 30.1, waterTemp(t, store, testLocation))

	close(cache.release)
	r.Flush()
	assert.Equal(t, []string{testLocation, testLocation}, cache.written,
		"write-through still runs, in commit order")
}

func TestReconciler_IngestClosedLocation(t *testing.T) {
	r, store := newReconciler(t, nil, nil)
	store.Close(testLocation)

	id, fired, err := r.Ingest(context.Background(), testLocation,
		domain.RawRecord{"Water Temp (C)": "29.5"}, nil)
	require.ErrorIs(t, err, domain.ErrLocationClosed)
	assert.Empty(t, id, "a discarded record must not get an identifier")
	assert.False(t, fired)
}

func TestReconciler_IngestInvalidRecord(t *testing.T) {
	r, _ := newReconciler(t, nil, nil)

	_, _, err := r.Ingest(context.Background(), testLocation, nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidRecord)
}

func TestReconciler_IngestTimestampOverride(t *testing.T) {
	r, store := newReconciler(t, nil, nil)
	override := time.Date(2025, 8, 15, 3, 0, 0, 0, time.UTC)

	_, _, err := r.Ingest(context.Background(), testLocation,
		domain.RawRecord{"Water Temp (C)": "29.0"}, &override)
	require.NoError(t, err)

	snap, ok := store.Snapshot(testLocation)
	require.True(t, ok)
	require.NotNil(t, snap.Reading.Timestamp)
	assert.Equal(t, override, *snap.Reading.Timestamp)
}

func TestReconciler_EvaluatorSeesCommittedReading(t *testing.T) {
	eval := &mockEvaluator{}
	r, _ := newReconciler(t, nil, eval)
	ctx := context.Background()

	r.ApplyLive(ctx, testLocation, []domain.RawRecord{
		{"Timestamp": "2025-08-14T23:00:00Z", "pH": "7.8"},
	})
	r.ApplyLive(ctx, testLocation, []domain.RawRecord{
		{"Timestamp": "2025-08-14T23:05:00Z", "Water Temp (C)": "29.5"},
	})
	r.Flush()

	require.Len(t, eval.readings, 2)
	// The evaluator sees the merged current state, not just the event.
	assert.Equal(t, 7.8, eval.readings[1].Value("ph"))
	assert.Equal(t, 29.5, eval.readings[1].Value("water_temp"))
}

func TestReconciler_ClosedLocationDiscardsLateEvents(t *testing.T) {
	r, store := newReconciler(t, nil, nil)
	ctx := context.Background()

	r.ApplyLive(ctx, testLocation, []domain.RawRecord{{"Water Temp (C)": "29.5"}})
	store.Close(testLocation)

	// An in-flight history fetch completing after teardown.
	require.NoError(t, r.ApplyHistory(ctx, testLocation, []domain.RawRecord{
		{"Timestamp": "2025-08-15T01:00:00Z", "Water Temp (C)": "99.0"},
	}))

	assert.Equal(t, 29.5, waterTemp(t, store, testLocation), "late fetch must be discarded")
}

func TestReconciler_BootstrapCacheMiss(t *testing.T) {
	r, store := newReconciler(t, &mockCache{}, nil)

	require.NoError(t, r.Bootstrap(context.Background(), testLocation))
	assert.Equal(t, reconcile.StateCold, store.State(testLocation))
	assert.Error(t, r.CheckReadiness(context.Background()))
}

func TestReconciler_IndependentLocations(t *testing.T) {
	r, store := newReconciler(t, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, loc := range []string{"loc_a", "loc_b", "loc_c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				r.ApplyLive(ctx, loc, []domain.RawRecord{{"Water Temp (C)": "29.5"}})
			}
		}()
	}
	wg.Wait()

	for _, loc := range []string{"loc_a", "loc_b", "loc_c"} {
		assert.Equal(t, 29.5, waterTemp(t, store, loc))
	}
}
