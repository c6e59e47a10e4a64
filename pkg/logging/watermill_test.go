package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWatermillAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWatermill(zerolog.New(&buf).Level(zerolog.TraceLevel))
	l.With(watermill.LogFields{"topic": "live:c1"}).Error("publish failed", nil, watermill.LogFields{"n": 1})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "error", line["level"])
	require.Equal(t, "watermill", line["component"])
	require.Equal(t, "live:c1", line["topic"])
}
