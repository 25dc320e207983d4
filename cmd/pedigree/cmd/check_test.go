package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/pedigree/internal/config"
	"github.com/MeKo-Tech/pedigree/internal/detector"
)

func TestCheckCommand_LabelDetectors(t *testing.T) {
	nodes, text := t.TempDir(), t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
pipeline:
  nodes:
    kind: labels
    label_dir: %s
  text:
    kind: labels
    label_dir: %s
`, nodes, text))

	out, _, err := executeCommand(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   nodes labels "+nodes)
	assert.Contains(t, out, "ok   text labels "+text)
	assert.Contains(t, out, "All checks passed.")
}

func TestRunChecks_Failures(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Pipeline.Nodes.Kind = detector.KindLabels
	cfg.Pipeline.Nodes.LabelDir = filepath.Join(t.TempDir(), "missing")
	cfg.Pipeline.Text.Kind = detector.KindRemote
	cfg.Pipeline.Text.URL = "http://detector.local"

	var out bytes.Buffer
	assert.Equal(t, 1, runChecks(&out, &cfg))
	assert.Contains(t, out.String(), "FAIL nodes labels")
	assert.Contains(t, out.String(), "ok   text remote http://detector.local")
}
