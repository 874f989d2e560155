package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &out))
	return out
}

func TestAttributesAndGroups(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("debug", &buf).With("component", "engine")

	log.WithGroup("tx").Info("committed", "id", uint64(7), "took", time.Millisecond, "err", errors.New("none"))
	line := lastLine(t, &buf)
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "committed", line["message"])
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, float64(7), line["tx.id"])
	assert.Equal(t, "none", line["tx.err"])
	assert.Contains(t, line, "time")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("warn", &buf)

	log.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))

	log.Error("shown", "n", 1)
	assert.Equal(t, "error", lastLine(t, &buf)["level"])
}
