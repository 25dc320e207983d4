package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/pedigree/internal/recognizer"
)

// Recognition outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeUnparsed  = "unparsed"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
	OutcomePanic     = "panic"
	OutcomeCancelled = "cancelled"
)

// NodeUpdate describes one finished recognition job.
type NodeUpdate struct {
	NodeIndex int
	Completed int
	Total     int
	Outcome   string
	Fields    recognizer.Fields
	Err       error
	Elapsed   time.Duration
}

// ProgressCallback receives recognition progress. OnNode is called from a
// single goroutine in completion order.
type ProgressCallback interface {
	OnStart(total int)
	OnNode(u NodeUpdate)
	OnComplete()
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)       {}
func (NoOpProgressCallback) OnNode(NodeUpdate) {}
func (NoOpProgressCallback) OnComplete()       {}

// ProgressFunc adapts a function to ProgressCallback; only OnNode is forwarded.
type ProgressFunc func(u NodeUpdate)

func (ProgressFunc) OnStart(int)           {}
func (f ProgressFunc) OnNode(u NodeUpdate) { f(u) }
func (ProgressFunc) OnComplete()           {}

// ConsoleProgressCallback displays a progress bar on the console.
type ConsoleProgressCallback struct {
	writer    io.Writer
	prefix    string
	width     int
	mutex     sync.Mutex
	startTime time.Time
	failed    int
}

// NewConsoleProgressCallback creates a new console progress reporter.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{writer: writer, prefix: prefix, width: 30}
}

// WithWidth sets the progress bar width.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	c.width = width
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.startTime = time.Now()
	c.failed = 0
	_, _ = fmt.Fprintf(c.writer, "%s0/%d labels\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnNode(u NodeUpdate) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if u.Outcome != OutcomeSuccess {
		c.failed++
	}
	if u.Total == 0 {
		return
	}
	filled := c.width * u.Completed / u.Total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	_, _ = fmt.Fprintf(c.writer, "\r%s[%s] %d/%d labels", c.prefix, bar, u.Completed, u.Total)
	if c.failed > 0 {
		_, _ = fmt.Fprintf(c.writer, " (%d degraded)", c.failed)
	}
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	elapsed := time.Since(c.startTime)
	_, _ = fmt.Fprintf(c.writer, "\n%sRecognition finished in %v\n", c.prefix, elapsed.Round(time.Millisecond))
}

// LogProgressCallback logs every finished job using slog.
type LogProgressCallback struct {
	logger    *slog.Logger
	level     slog.Level
	startTime time.Time
}

// NewLogProgressCallback creates a new log-based progress reporter.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level}
}

func (l *LogProgressCallback) OnStart(total int) {
	l.startTime = time.Now()
	l.logger.Log(nil, l.level, "Starting label recognition", "jobs", total)
}

func (l *LogProgressCallback) OnNode(u NodeUpdate) {
	level := l.level
	if u.Outcome != OutcomeSuccess {
		level = slog.LevelWarn
	}
	args := []any{
		"node", u.NodeIndex,
		"outcome", u.Outcome,
		"completed", u.Completed,
		"total", u.Total,
		"elapsed", u.Elapsed.Round(time.Millisecond),
	}
	if u.Err != nil {
		args = append(args, "error", u.Err)
	}
	l.logger.Log(nil, level, "Label recognized", args...)
}

func (l *LogProgressCallback) OnComplete() {
	l.logger.Log(nil, l.level, "Label recognition completed", "elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

// MultiProgressCallback combines multiple progress callbacks.
type MultiProgressCallback struct {
	callbacks []ProgressCallback
}

// NewMultiProgressCallback creates a progress callback that reports to multiple callbacks.
func NewMultiProgressCallback(callbacks ...ProgressCallback) *MultiProgressCallback {
	return &MultiProgressCallback{callbacks: callbacks}
}

// Add adds another progress callback.
func (m *MultiProgressCallback) Add(callback ProgressCallback) {
	m.callbacks = append(m.callbacks, callback)
}

func (m *MultiProgressCallback) OnStart(total int) {
	for _, cb := range m.callbacks {
		cb.OnStart(total)
	}
}

func (m *MultiProgressCallback) OnNode(u NodeUpdate) {
	for _, cb := range m.callbacks {
		cb.OnNode(u)
	}
}

func (m *MultiProgressCallback) OnComplete() {
	for _, cb := range m.callbacks {
		cb.OnComplete()
	}
}

// ProgressTracker counts recognition outcomes.
type ProgressTracker struct {
	StartTime time.Time      `json:"start_time"`
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Outcomes  map[string]int `json:"outcomes"`
	Elapsed   time.Duration  `json:"elapsed_duration"`
	mutex     sync.RWMutex
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{Outcomes: map[string]int{}}
}

func (pt *ProgressTracker) OnStart(total int) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()
	pt.StartTime = time.Now()
	pt.Total = total
	pt.Completed = 0
	pt.Outcomes = map[string]int{}
}

func (pt *ProgressTracker) OnNode(u NodeUpdate) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()
	pt.Completed = u.Completed
	pt.Outcomes[u.Outcome]++
	pt.Elapsed = time.Since(pt.StartTime)
}

func (pt *ProgressTracker) OnComplete() {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()
	pt.Elapsed = time.Since(pt.StartTime)
}

// Count returns how many jobs finished with outcome.
func (pt *ProgressTracker) Count(outcome string) int {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()
	return pt.Outcomes[outcome]
}

// PercentComplete returns the completion percentage.
func (pt *ProgressTracker) PercentComplete() float64 {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()

	if pt.Total == 0 {
		return 0
	}
	return float64(pt.Completed) / float64(pt.Total) * 100.0
}
