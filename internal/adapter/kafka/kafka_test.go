package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climbox/telemetry-engine/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	firedAt := time.Date(2025, 8, 15, 6, 0, 0, 0, time.UTC)
	event := domain.AlertEvent{
		LocationID: "kolam-1",
		Field:      "water_temp",
		Value:      31.2,
		Threshold:  30,
		FiredAt:    firedAt,
	}

	msg, err := serializeToMessage(event)
	require.NoError(t, err)

	assert.Equal(t, []byte("kolam-1"), msg.Key)
	assert.Contains(t, string(msg.Value), `"sensorField":"water_temp"`)
	assert.Contains(t, string(msg.Value), `"threshold":30`)
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, "sensor_field", msg.Headers[0].Key)
	assert.Equal(t, []byte("water_temp"), msg.Headers[0].Value)
	assert.Equal(t, "fired_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(firedAt.Format(time.RFC3339)), msg.Headers[1].Value)
}
