package testutil

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/MeKo-Tech/pedigree/internal/detector"
)

// StubDetector returns fixed detections.
type StubDetector struct {
	ModelName  string
	Detections []detector.Detection
	Err        error

	closed atomic.Bool
	calls  atomic.Int32
}

// Detect returns the configured detections that reach confidence.
func (s *StubDetector) Detect(ctx context.Context, _ image.Image, confidence float64) ([]detector.Detection, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	var out []detector.Detection
	for _, d := range s.Detections {
		if d.Confidence >= confidence {
			out = append(out, d)
		}
	}
	return out, nil
}

// Name returns ModelName or "stub".
func (s *StubDetector) Name() string {
	if s.ModelName == "" {
		return "stub"
	}
	return s.ModelName
}

// Close marks the detector closed.
func (s *StubDetector) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *StubDetector) Closed() bool { return s.closed.Load() }

// Calls returns the number of Detect calls.
func (s *StubDetector) Calls() int { return int(s.calls.Load()) }

// StubRecognizer answers recognition calls through Respond and tracks
// concurrency. A nil Respond returns an empty object.
type StubRecognizer struct {
	Respond func(ctx context.Context, call int, img image.Image) (string, error)

	calls     atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32

	mu     sync.Mutex
	images []image.Image
}

// Recognize implements recognizer.Recognizer.
func (s *StubRecognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	call := int(s.calls.Add(1))
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxFlight.Load()
		if cur <= prev || s.maxFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	s.mu.Lock()
	s.images = append(s.images, img)
	s.mu.Unlock()

	if s.Respond == nil {
		return "{}", nil
	}
	return s.Respond(ctx, call, img)
}

// Calls returns the number of Recognize calls.
func (s *StubRecognizer) Calls() int { return int(s.calls.Load()) }

// MaxInFlight returns the highest number of concurrent calls observed.
func (s *StubRecognizer) MaxInFlight() int { return int(s.maxFlight.Load()) }

// Images returns the composite images received so far.
func (s *StubRecognizer) Images() []image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]image.Image(nil), s.images...)
}

// BlockUntilDone is a Respond function that waits for the call deadline.
func BlockUntilDone(ctx context.Context, _ int, _ image.Image) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
