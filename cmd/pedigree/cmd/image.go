package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/pedigree/internal/batch"
	"github.com/MeKo-Tech/pedigree/internal/config"
	"github.com/MeKo-Tech/pedigree/internal/detector"
	"github.com/MeKo-Tech/pedigree/internal/pipeline"
	"github.com/MeKo-Tech/pedigree/internal/utils"
)

// imageCmd represents the image command.
var imageCmd = &cobra.Command{
	Use:   "image [file|dir...]",
	Short: "Process pedigree diagram images",
	Long: `Process one or more pedigree diagrams and print the recognized family members.

Supported formats: JPEG, PNG, BMP, TIFF, WebP

Examples:
  pedigree image family.png
  pedigree image scans/*.jpg --format yaml
  pedigree image family.png --output tree.json --overlay-dir overlays
  pedigree image scans/ --recursive --include '*.png' --parallel 4
  pedigree image family.png --node-labels labels/nodes --text-labels labels/text`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         runImage,
}

func runImage(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("no input files provided")
	}

	cfg := *GetConfig()
	applyImageOverrides(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	recursive, _ := cmd.Flags().GetBool("recursive")
	include, _ := cmd.Flags().GetStringSlice("include")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	paths, err := batch.Discover(args, batch.DiscoverOptions{Recursive: recursive, Include: include, Exclude: exclude})
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no supported images found")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	// Interrupting stops dispatching labels; the partial tree is still printed.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pl, err := pipeline.NewBuilder().
		WithConfig(cfg.ToPipelineConfig()).
		WithLogger(slog.Default()).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() {
		if err := pl.Close(); err != nil {
			slog.Error("Error closing pipeline", "error", err)
		}
	}()

	parallel, _ := cmd.Flags().GetInt("parallel")
	opts := batch.Options{Parallel: parallel, Logger: slog.Default()}
	if showProgress, _ := cmd.Flags().GetBool("progress"); showProgress {
		opts.Progress = progressFor(cmd.ErrOrStderr(), parallel)
	}

	items := batch.Run(ctx, pl, paths, opts)
	outputs := make([]string, 0, len(items))
	for _, it := range items {
		if it.Err != nil {
			continue
		}
		if cfg.Output.OverlayDir != "" {
			out, err := writeTreeOverlay(cfg.Output.OverlayDir, it.Path, it.Image, it.Result.Tree)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(cmd.ErrOrStderr(), "Saved overlay: %s\n", out); err != nil {
				return fmt.Errorf("failed to write to stderr: %w", err)
			}
		}

		s, err := formatResult(cfg.Output.Format, it.Path, it.Result)
		if err != nil {
			return err
		}
		outputs = append(outputs, s)
	}
	if ok, failed := batch.Summary(items); failed > 0 {
		slog.Warn("Some images failed", "succeeded", ok, "failed", failed)
	}

	if len(outputs) > 0 {
		if err := writeOutputs(cmd.OutOrStdout(), cfg.Output.File, strings.Join(outputs, "\n")); err != nil {
			return err
		}
	}
	return batch.Err(items)
}

// progressFor draws a bar per file when images run one at a time; parallel
// runs would interleave bars, so they log instead.
func progressFor(w io.Writer, parallel int) func(string) pipeline.ProgressCallback {
	return func(path string) pipeline.ProgressCallback {
		if parallel > 1 {
			return pipeline.NewLogProgressCallback(slog.Default().With("path", path), slog.LevelInfo)
		}
		return pipeline.NewConsoleProgressCallback(w, filepath.Base(path)+" ")
	}
}

func writeOutputs(stdout io.Writer, file, final string) error {
	if file != "" {
		if err := os.WriteFile(file, []byte(final), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		_, err := fmt.Fprintf(stdout, "Results written to %s\n", file)
		return err
	}
	if _, err := fmt.Fprintln(stdout, final); err != nil {
		return fmt.Errorf("failed to write final output: %w", err)
	}
	return nil
}

// applyImageOverrides applies flags that change more than one config key.
func applyImageOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("node-labels") {
		dir, _ := cmd.Flags().GetString("node-labels")
		cfg.Pipeline.Nodes.Kind = detector.KindLabels
		cfg.Pipeline.Nodes.LabelDir = dir
	}
	if cmd.Flags().Changed("text-labels") {
		dir, _ := cmd.Flags().GetString("text-labels")
		cfg.Pipeline.Text.Kind = detector.KindLabels
		cfg.Pipeline.Text.LabelDir = dir
	}
}

// writeTreeOverlay draws the assembled tree over the source image.
func writeTreeOverlay(dir, path string, img image.Image, tree *pipeline.PedigreeTree) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(dir, stem+"_tree.png")
	if err := utils.SavePNG(out, pipeline.RenderTree(img, tree)); err != nil {
		return "", fmt.Errorf("failed to save overlay: %w", err)
	}
	return out, nil
}

func addImageFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "json", "output format (json, yaml, text)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	cmd.Flags().String("overlay-dir", "", "directory to write tree overlay images")
	cmd.Flags().Float64("node-conf", 0.5, "minimum symbol detection confidence")
	cmd.Flags().Float64("text-conf", 0.5, "minimum text detection confidence")
	cmd.Flags().String("node-model", "", "override symbol detection model path")
	cmd.Flags().String("text-model", "", "override text detection model path")
	cmd.Flags().String("node-labels", "", "read symbol detections from YOLO label files in this directory")
	cmd.Flags().String("text-labels", "", "read text detections from YOLO label files in this directory")
	cmd.Flags().Int("workers", pipeline.DefaultMaxWorkers, "concurrent label recognition calls")
	cmd.Flags().Duration("timeout", pipeline.DefaultRecognitionTimeout, "deadline for one label recognition call")
	cmd.Flags().String("crop-order", string(pipeline.CropOrderDetection), "label crop order: detection or reading")
	cmd.Flags().String("vision-url", "", "vision model server URL")
	cmd.Flags().String("vision-model", "", "vision model id")
	cmd.Flags().Bool("save-results", false, "write detection overlays next to each image")
	cmd.Flags().String("results-dir", "", "directory for detection overlays (default: image directory)")
	cmd.Flags().Bool("progress", false, "show recognition progress on stderr")
	cmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories of directory arguments")
	cmd.Flags().StringSlice("include", nil, "only process files matching these glob patterns")
	cmd.Flags().StringSlice("exclude", nil, "skip files matching these glob patterns")
	cmd.Flags().Int("parallel", 1, "number of images processed at once")
}

func init() {
	rootCmd.AddCommand(imageCmd)
	addImageFlags(imageCmd)

	commandBindings[imageCmd.Name()] = []flagBinding{
		{"output.format", "format"},
		{"output.file", "output"},
		{"output.overlay_dir", "overlay-dir"},
		{"output.save_results", "save-results"},
		{"output.results_dir", "results-dir"},
		{"pipeline.nodes.confidence", "node-conf"},
		{"pipeline.text.confidence", "text-conf"},
		{"pipeline.nodes.model_path", "node-model"},
		{"pipeline.text.model_path", "text-model"},
		{"pipeline.recognition.max_workers", "workers"},
		{"pipeline.recognition.timeout", "timeout"},
		{"pipeline.crop_order", "crop-order"},
		{"vision.server_url", "vision-url"},
		{"vision.model", "vision-model"},
	}
}

// GetImageCommand returns the image command for testing purposes.
func GetImageCommand() *cobra.Command {
	return imageCmd
}
