// Package batch runs the pipeline over many diagram files.
package batch

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/pedigree/internal/pipeline"
	"github.com/MeKo-Tech/pedigree/internal/utils"
)

// Processor runs the pipeline for one image.
type Processor interface {
	Process(ctx context.Context, imageID, path string, opts ...pipeline.ProcessOption) (*pipeline.Result, error)
}

// Options controls a batch run.
type Options struct {
	// Parallel is the number of images processed at once. Values below one
	// mean sequential processing.
	Parallel int
	// NewID returns the image id of each file; uuid by default.
	NewID func() string
	// Progress, when set, returns the recognition progress callback of one file.
	Progress func(path string) pipeline.ProgressCallback
	Logger   *slog.Logger
}

// Item is the outcome for one file. Image is kept for overlays and is nil
// when loading failed.
type Item struct {
	Path     string
	Image    image.Image
	Result   *pipeline.Result
	Err      error
	Duration time.Duration
}

// Run processes paths and returns one item per path in input order. A failing
// file does not stop the others; cancelling ctx does.
func Run(ctx context.Context, p Processor, paths []string, opts Options) []Item {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	items := make([]Item, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Parallel, 1))
	for i, path := range paths {
		items[i].Path = path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			start := time.Now()
			processOne(gctx, p, &items[i], newID(), opts)
			items[i].Duration = time.Since(start)
			if items[i].Err != nil {
				logger.Warn("Image failed", "path", path, "error", items[i].Err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func processOne(ctx context.Context, p Processor, it *Item, id string, opts Options) {
	img, _, err := utils.LoadImage(it.Path)
	if err != nil {
		it.Err = fmt.Errorf("failed to load %s: %w: %w", it.Path, pipeline.ErrImageLoad, err)
		return
	}
	it.Image = img

	po := []pipeline.ProcessOption{pipeline.WithImage(img)}
	if opts.Progress != nil {
		po = append(po, pipeline.WithProgress(opts.Progress(it.Path)))
	}
	res, err := p.Process(ctx, id, it.Path, po...)
	if err != nil {
		it.Err = fmt.Errorf("processing failed for %s: %w", it.Path, err)
		return
	}
	it.Result = res
}

// Summary counts succeeded and failed items.
func Summary(items []Item) (succeeded, failed int) {
	for _, it := range items {
		if it.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	return succeeded, failed
}

// Err combines the errors of all failed items.
func Err(items []Item) error {
	var err error
	for _, it := range items {
		err = multierr.Append(err, it.Err)
	}
	return err
}
