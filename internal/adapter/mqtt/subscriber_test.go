package mqtt

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climbox/telemetry-engine/internal/domain"
	"github.com/climbox/telemetry-engine/internal/observability"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingApplier struct {
	locations []string
	rows      [][]domain.RawRecord
}

func (a *recordingApplier) ApplyLive(_ context.Context, locationID string, rows []domain.RawRecord) int {
	a.locations = append(a.locations, locationID)
	a.rows = append(a.rows, rows)
	return len(rows)
}

func newSubscriber(cfg Config, applier RowApplier) *Subscriber {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSubscriber(cfg, applier, logger, observability.NewMetricsForTesting())
	s.runCtx = context.Background()
	return s
}

func TestTopics_PerLocation(t *testing.T) {
	s := newSubscriber(Config{
		TopicBase: "climbox",
		Locations: []string{"kolam-1", "kolam-2"},
	}, nil)

	assert.Equal(t, []string{"climbox/kolam-1/#", "climbox/kolam-2/#"}, s.topics())
}

func TestTopics_Wildcard(t *testing.T) {
	s := newSubscriber(Config{
		TopicBase: "climbox",
		Locations: []string{"kolam-1"},
		Wildcard:  true,
	}, nil)

	assert.Equal(t, []string{"climbox/+/latest"}, s.topics())
}

func TestHandleMessage_LocationFromTopic(t *testing.T) {
	applier := &recordingApplier{}
	s := newSubscriber(Config{TopicBase: "climbox"}, applier)

	s.handleMessage(nil, fakeMessage{
		topic:   "climbox/kolam-1/latest",
		payload: []byte(`{"data":[{"Timestamp":"8/14/2025 23:59:05","Water Temp (C)":"29.5"}]}`),
	})

	require.Equal(t, []string{"kolam-1"}, applier.locations)
	require.Len(t, applier.rows[0], 1)
}

func TestHandleMessage_PayloadLocationWinsOverTopic(t *testing.T) {
	applier := &recordingApplier{}
	s := newSubscriber(Config{TopicBase: "climbox"}, applier)

	s.handleMessage(nil, fakeMessage{
		topic:   "climbox/kolam-1/latest",
		payload: []byte(`{"locationId":"kolam-9","rows":[{"pH":7.8}]}`),
	})

	assert.Equal(t, []string{"kolam-9"}, applier.locations)
}

func TestHandleMessage_UnusablePayloadDropped(t *testing.T) {
	applier := &recordingApplier{}
	s := newSubscriber(Config{TopicBase: "climbox"}, applier)

	s.handleMessage(nil, fakeMessage{
		topic:   "climbox/kolam-1/latest",
		payload: []byte("not json at all"),
	})

	assert.Empty(t, applier.locations)
}

func TestHandleMessage_UnsafeLocationDropped(t *testing.T) {
	applier := &recordingApplier{}
	s := newSubscriber(Config{TopicBase: "climbox"}, applier)

	// A payload on a public broker can claim any location id; path-shaped
	// ids must never make it into the engine.
	s.handleMessage(nil, fakeMessage{
		topic:   "climbox/kolam-1/latest",
		payload: []byte(`{"locationId":"../outside","rows":[{"pH":7.8}]}`),
	})

	assert.Empty(t, applier.locations)
}

func TestHandleMessage_NoResolvableLocationDropped(t *testing.T) {
	applier := &recordingApplier{}
	s := newSubscriber(Config{TopicBase: "climbox"}, applier)

	s.handleMessage(nil, fakeMessage{
		topic:   "elsewhere/latest",
		payload: []byte(`{"rows":[{"pH":7.8}]}`),
	})

	assert.Empty(t, applier.locations)
}
