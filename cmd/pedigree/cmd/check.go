package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/pedigree/internal/config"
	"github.com/MeKo-Tech/pedigree/internal/detector"
	"github.com/MeKo-Tech/pedigree/internal/onnx"
)

// checkCmd verifies that the configured detectors can be created.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the ONNX Runtime setup and configured model files",
	Long: `Check that the configured detectors can run on this machine.

For ONNX detectors the runtime library is loaded and the model files are
looked up; label-file detectors need their directory to exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if failed := runChecks(out, GetConfig()); failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		_, _ = fmt.Fprintln(out, "All checks passed.")
		return nil
	},
}

func runChecks(out io.Writer, cfg *config.Config) int {
	failed := 0
	report := func(name string, err error) {
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(out, "FAIL %s: %v\n", name, err)
			return
		}
		_, _ = fmt.Fprintf(out, "ok   %s\n", name)
	}

	needsRuntime := false
	detectors := []struct {
		name string
		cfg  config.DetectorConfig
	}{{"nodes", cfg.Pipeline.Nodes}, {"text", cfg.Pipeline.Text}}
	for _, det := range detectors {
		name, d := det.name, det.cfg
		switch d.Kind {
		case detector.KindONNX:
			needsRuntime = true
			report(name+" model "+d.ModelPath, fileExists(d.ModelPath))
		case detector.KindLabels:
			report(name+" labels "+d.LabelDir, dirExists(d.LabelDir))
		case detector.KindRemote:
			report(name+" remote "+d.URL, nil)
		}
	}
	if needsRuntime {
		report("onnx runtime", onnx.Initialize(cfg.OnnxLibrary, cfg.GPU.UseGPU))
	}
	return failed
}

func fileExists(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return errors.New("is a directory")
	}
	return nil
}

func dirExists(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return errors.New("not a directory")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
