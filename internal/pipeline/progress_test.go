package pipeline

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoOpProgressCallback(t *testing.T) {
	callback := NoOpProgressCallback{}
	callback.OnStart(10)
	callback.OnNode(NodeUpdate{Completed: 1, Total: 10})
	callback.OnComplete()
}

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	callback := NewConsoleProgressCallback(&buf, "Test: ").WithWidth(10)

	callback.OnStart(4)
	assert.Contains(t, buf.String(), "Test: 0/4 labels")

	buf.Reset()
	callback.OnNode(NodeUpdate{NodeIndex: 0, Completed: 2, Total: 4, Outcome: OutcomeSuccess})
	assert.Contains(t, buf.String(), "2/4 labels")
	assert.NotContains(t, buf.String(), "degraded")

	buf.Reset()
	callback.OnNode(NodeUpdate{NodeIndex: 1, Completed: 3, Total: 4, Outcome: OutcomeTimeout})
	assert.Contains(t, buf.String(), "(1 degraded)")

	buf.Reset()
	callback.OnComplete()
	assert.Contains(t, buf.String(), "Test: Recognition finished")
}

func TestLogProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	callback := NewLogProgressCallback(logger, slog.LevelInfo)

	callback.OnStart(2)
	callback.OnNode(NodeUpdate{NodeIndex: 3, Completed: 1, Total: 2, Outcome: OutcomeSuccess})
	callback.OnNode(NodeUpdate{NodeIndex: 5, Completed: 2, Total: 2, Outcome: OutcomeError, Err: assert.AnError})
	callback.OnComplete()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 4)

	var warn map[string]any
	assert.NoError(t, json.Unmarshal(lines[2], &warn))
	assert.Equal(t, "WARN", warn["level"])
	assert.Equal(t, float64(5), warn["node"])
	assert.Equal(t, OutcomeError, warn["outcome"])
}

func TestMultiProgressCallback(t *testing.T) {
	a, b := NewProgressTracker(), NewProgressTracker()
	multi := NewMultiProgressCallback(a)
	multi.Add(b)

	multi.OnStart(2)
	multi.OnNode(NodeUpdate{Completed: 1, Total: 2, Outcome: OutcomeSuccess})
	multi.OnNode(NodeUpdate{Completed: 2, Total: 2, Outcome: OutcomeTimeout})
	multi.OnComplete()

	for _, tr := range []*ProgressTracker{a, b} {
		assert.Equal(t, 1, tr.Count(OutcomeSuccess))
		assert.Equal(t, 1, tr.Count(OutcomeTimeout))
		assert.InDelta(t, 100.0, tr.PercentComplete(), 1e-9)
	}
}

func TestProgressFunc(t *testing.T) {
	var got []int
	var cb ProgressCallback = ProgressFunc(func(u NodeUpdate) { got = append(got, u.NodeIndex) })
	cb.OnStart(2)
	cb.OnNode(NodeUpdate{NodeIndex: 4})
	cb.OnNode(NodeUpdate{NodeIndex: 1})
	cb.OnComplete()
	assert.Equal(t, []int{4, 1}, got)
}

func TestProgressTracker_Empty(t *testing.T) {
	tr := NewProgressTracker()
	assert.Zero(t, tr.PercentComplete())
	assert.Zero(t, tr.Count(OutcomeSuccess))
}
