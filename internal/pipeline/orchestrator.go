package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MeKo-Tech/pedigree/internal/recognizer"
)

// RecognitionConfig bounds the recognition fan-out.
type RecognitionConfig struct {
	MaxWorkers int           `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
	Timeout    time.Duration `mapstructure:"timeout"     yaml:"timeout"     json:"timeout"`
}

// Recognition defaults.
const (
	DefaultMaxWorkers         = 8
	DefaultRecognitionTimeout = 2 * time.Second
)

// DefaultRecognitionConfig returns the default worker count and per-call deadline.
func DefaultRecognitionConfig() RecognitionConfig {
	return RecognitionConfig{MaxWorkers: DefaultMaxWorkers, Timeout: DefaultRecognitionTimeout}
}

// RecognitionResult is the outcome of one node's recognition job. Fields is
// DefaultFields for every outcome except success.
type RecognitionResult struct {
	NodeIndex int
	Raw       string
	Fields    recognizer.Fields
	Outcome   string
	Err       error
	Elapsed   time.Duration
}

// Orchestrator runs recognition jobs on a fixed worker pool.
//
// A call that outlives its deadline is abandoned: the worker moves on and the
// call finishes in the background, keeping its slot in calls until it
// returns. At most MaxWorkers backend calls therefore run at once, and a job
// that cannot get a slot before its own deadline times out without calling
// the backend.
type Orchestrator struct {
	rec      recognizer.Recognizer
	cfg      RecognitionConfig
	logger   *slog.Logger
	progress ProgressCallback
	calls    *semaphore.Weighted
}

// NewOrchestrator creates an orchestrator. Non-positive config values fall
// back to the defaults.
func NewOrchestrator(rec recognizer.Recognizer, cfg RecognitionConfig, logger *slog.Logger) *Orchestrator {
	def := DefaultRecognitionConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		rec:      rec,
		cfg:      cfg,
		logger:   logger,
		progress: NoOpProgressCallback{},
		calls:    semaphore.NewWeighted(int64(cfg.MaxWorkers)),
	}
}

// WithProgress sets the callback notified after every finished job.
func (o *Orchestrator) WithProgress(cb ProgressCallback) *Orchestrator {
	if cb == nil {
		cb = NoOpProgressCallback{}
	}
	o.progress = cb
	return o
}

type recognitionJob struct {
	assoc TextAssociation
}

// Run recognizes every association and returns one result per association
// in completion order. It never fails: errors, timeouts, panics and
// cancellation degrade the affected node to default fields.
func (o *Orchestrator) Run(ctx context.Context, assocs []TextAssociation) []RecognitionResult {
	total := len(assocs)
	o.progress.OnStart(total)
	defer o.progress.OnComplete()
	if total == 0 {
		return nil
	}

	workers := min(o.cfg.MaxWorkers, total)

	jobs := make(chan recognitionJob, total)
	results := make(chan RecognitionResult, total)
	for _, a := range assocs {
		jobs <- recognitionJob{assoc: a}
	}
	close(jobs)

	for range workers {
		go o.worker(ctx, jobs, results)
	}

	out := make([]RecognitionResult, 0, total)
	for len(out) < total {
		res := <-results
		out = append(out, res)
		o.record(res)
		o.progress.OnNode(NodeUpdate{
			NodeIndex: res.NodeIndex,
			Completed: len(out),
			Total:     total,
			Outcome:   res.Outcome,
			Fields:    res.Fields,
			Err:       res.Err,
			Elapsed:   res.Elapsed,
		})
	}
	return out
}

func (o *Orchestrator) worker(ctx context.Context, jobs <-chan recognitionJob, results chan<- RecognitionResult) {
	for job := range jobs {
		results <- o.recognize(ctx, job)
	}
}

// recognize handles one job. Panics raised by the recognizer or while
// compositing are confined to this node.
func (o *Orchestrator) recognize(ctx context.Context, job recognitionJob) (res RecognitionResult) {
	start := time.Now()
	res = RecognitionResult{NodeIndex: job.assoc.NodeIndex, Fields: recognizer.DefaultFields()}
	defer func() {
		if r := recover(); r != nil {
			res.Raw = ""
			res.Fields = recognizer.DefaultFields()
			res.Outcome = OutcomePanic
			res.Err = fmt.Errorf("recognition panicked: %v", r)
		}
		res.Elapsed = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		res.Outcome = OutcomeCancelled
		res.Err = fmt.Errorf("recognition not started: %w", err)
		return res
	}

	img := Composite(job.assoc.Crops)
	if img == nil {
		res.Outcome = OutcomeError
		res.Err = errors.New("no usable crops for composite label")
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	answer := o.call(callCtx, img)
	if answer.panicked != nil {
		panic(answer.panicked)
	}
	raw, err := answer.raw, answer.err

	switch {
	case ctx.Err() != nil:
		res.Outcome = OutcomeCancelled
		res.Err = fmt.Errorf("recognition cancelled: %w", ctx.Err())
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		// Late answers are discarded as well.
		res.Outcome = OutcomeTimeout
		res.Err = fmt.Errorf("recognition exceeded %v: %w", o.cfg.Timeout, context.DeadlineExceeded)
	case err != nil:
		res.Outcome = OutcomeError
		res.Err = err
	default:
		res.Raw = raw
		res.Fields = recognizer.ExtractContent(raw)
		if res.Fields.Parsed {
			res.Outcome = OutcomeSuccess
		} else {
			res.Outcome = OutcomeUnparsed
		}
	}
	return res
}

type callResult struct {
	raw      string
	err      error
	panicked any
}

// call runs the recognizer and returns when it answers or ctx is done,
// whichever comes first. A panic in the recognizer is handed back to the
// caller's goroutine.
func (o *Orchestrator) call(ctx context.Context, img image.Image) callResult {
	if err := o.calls.Acquire(ctx, 1); err != nil {
		return callResult{err: err}
	}

	done := make(chan callResult, 1)
	go func() {
		defer o.calls.Release(1)
		recognitionInFlight.Inc()
		defer recognitionInFlight.Dec()

		var res callResult
		defer func() {
			if r := recover(); r != nil {
				res = callResult{panicked: r}
			}
			done <- res
		}()
		res.raw, res.err = o.rec.Recognize(ctx, img)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return callResult{err: ctx.Err()}
	}
}

func (o *Orchestrator) record(res RecognitionResult) {
	recognitionCallsTotal.WithLabelValues(res.Outcome).Inc()
	recognitionDuration.WithLabelValues(res.Outcome).Observe(res.Elapsed.Seconds())

	switch res.Outcome {
	case OutcomeSuccess:
		o.logger.Debug("Label recognized", "node", res.NodeIndex, "elapsed", res.Elapsed)
	case OutcomeUnparsed:
		o.logger.Warn("Recognition response not parseable, using defaults",
			"node", res.NodeIndex, "response_length", len(res.Raw))
	default:
		o.logger.Warn("Label recognition failed, using defaults",
			"node", res.NodeIndex, "outcome", res.Outcome, "error", res.Err)
	}
}
