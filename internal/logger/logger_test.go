package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)

	log.WithField("component", "trainer").Info("candidate trained", "candidate", "knn", "rows", 120, "dangling")
	log.Debug("hidden")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "candidate trained", lines[0]["msg"])
	assert.Equal(t, "trainer", lines[0]["component"])
	assert.Equal(t, "knn", lines[0]["candidate"])
	assert.Equal(t, float64(120), lines[0]["rows"])
	assert.NotContains(t, lines[0], "dangling")
}

func TestContextRunID(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)

	ctx := ContextWithRunID(context.Background(), "run-42")
	assert.Equal(t, "run-42", RunIDFromContext(ctx))
	assert.Empty(t, RunIDFromContext(context.Background()))

	log.WithContext(ctx).Warn("slow stage")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "run-42", lines[0]["run_id"])
	assert.Equal(t, "warning", lines[0]["level"])
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: LevelError, Format: FormatJSON}, &buf)
	log.Info("dropped")
	assert.Empty(t, buf.String())

	log.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, log.GetLevel())
	log.Debug("kept")
	assert.Contains(t, buf.String(), "kept")

	log.SetLevel("nonsense")
	assert.Equal(t, LevelDebug, log.GetLevel())
}

func TestStageLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)

	var stages []string
	var failed []error
	sl := NewStageLogger(log, time.Hour).OnFinish(func(stage string, d time.Duration, err error) {
		stages = append(stages, stage)
		failed = append(failed, err)
	})

	sl.Track("train", "candidates", 3)(nil)
	sl.Track("evaluate")(errors.New("no metric"))

	assert.Equal(t, []string{"train", "evaluate"}, stages)
	assert.NoError(t, failed[0])
	assert.Error(t, failed[1])

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "stage finished", lines[0]["msg"])
	assert.Equal(t, float64(3), lines[0]["candidates"])
	assert.Equal(t, "stage failed", lines[1]["msg"])
	assert.Equal(t, "no metric", lines[1]["error"])
}

func TestOrDefault(t *testing.T) {
	nop := NewNop()
	assert.Same(t, nop, OrDefault(nop))
	assert.NotNil(t, OrDefault(nil))
}
