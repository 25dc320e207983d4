package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "pedigree.yaml")

	out, _, err := executeCommand(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration written to "+path)
	assert.FileExists(t, path)

	_, _, err = executeCommand(t, "config", "init", path)
	require.Error(t, err, "existing file is kept without --force")

	_, _, err = executeCommand(t, "config", "init", "--force", path)
	require.NoError(t, err)

	out, _, err = executeCommand(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "# config file: "+path)
	assert.Contains(t, out, "max_workers: 8")
	assert.Contains(t, out, "timeout: 2s")
	assert.Contains(t, out, "crop_order: detection")
}

func TestConfigShowMasksAPIKey(t *testing.T) {
	t.Setenv("PEDIGREE_VISION_API_KEY", "sk-secret")
	out, _, err := executeCommand(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "********")
}

func TestConfigShowDoesNotCreateLogFile(t *testing.T) {
	_, _, err := executeCommand(t, "config", "show")
	require.NoError(t, err)
	_, statErr := os.Stat("logs")
	assert.True(t, os.IsNotExist(statErr))
}
