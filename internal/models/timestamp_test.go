package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampMarshalsUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	ts := At(time.Date(2025, 6, 1, 15, 30, 0, 0, loc))

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2025-06-01T12:30:00Z"`, string(data))
}

func TestTimestampAcceptsISO8601(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2025-06-01T12:30:00Z"`), &ts))
	assert.Equal(t, time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), ts.Time)

	require.NoError(t, json.Unmarshal([]byte(`"2025-06-01T12:30:00.250+02:00"`), &ts))
	assert.Equal(t, time.Date(2025, 6, 1, 10, 30, 0, 250_000_000, time.UTC), ts.Time)
}

func TestTimestampAcceptsEpochMillis(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`1748780000000`), &ts))
	assert.Equal(t, time.UnixMilli(1748780000000).UTC(), ts.Time)
}

func TestTimestampRejectsGarbage(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestTimestampRoundTrip(t *testing.T) {
	original := Now()

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Timestamp
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, original.Equal(decoded.Time))
}

func TestLogBatchLen(t *testing.T) {
	batch := LogBatch{
		FileEvents:    []FileEvent{{ID: "a"}, {ID: "b"}},
		NetworkEvents: []NetworkEvent{{ID: "c"}},
		Alerts:        []AlertEvent{{ID: "d"}},
	}
	assert.Equal(t, 4, batch.Len())
}

func TestNewEventIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewEventID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
