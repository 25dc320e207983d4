package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/pedigree/internal/config"
)

func TestApplyServeOverrides(t *testing.T) {
	resetFlags(serveCmd)
	t.Cleanup(func() { resetFlags(serveCmd) })

	require.NoError(t, serveCmd.ParseFlags([]string{
		"--port", "9090",
		"--save-dir", "/srv/uploads",
		"--rate-limit-enabled",
		"--requests-per-minute", "30",
	}))

	sc := config.DefaultConfig().Server
	applyServeOverrides(serveCmd, &sc)

	assert.Equal(t, 9090, sc.Port)
	assert.Equal(t, "/srv/uploads", sc.SaveDir)
	assert.True(t, sc.RateLimit.Enabled)
	assert.Equal(t, 30, sc.RateLimit.RequestsPerMinute)
	// untouched flags keep the configured values
	assert.Equal(t, "localhost", sc.Host)
	assert.Equal(t, 10, sc.RateLimit.Burst)
	assert.Equal(t, 60, sc.TimeoutSec)
}
