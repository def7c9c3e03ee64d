package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigFromFlags_Defaults(t *testing.T) {
	useFreshConfig(t)

	cfg, shutdown := serverConfigFromFlags(newServeCommand())
	defaults := GetConfig().Server
	assert.Equal(t, defaults.Host, cfg.Host)
	assert.Equal(t, defaults.Port, cfg.Port)
	assert.Equal(t, int64(defaults.MaxUploadMB), cfg.MaxUploadMB)
	assert.Equal(t, time.Duration(defaults.ShutdownTimeout)*time.Second, shutdown)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.NotNil(t, cfg.Logger)
}

func TestServerConfigFromFlags_Overrides(t *testing.T) {
	useFreshConfig(t)
	serveCmd := newServeCommand()
	require.NoError(t, serveCmd.ParseFlags([]string{
		"--host", "0.0.0.0",
		"--port", "9090",
		"--cors-origin", "https://example.com",
		"--max-upload-mb", "2",
		"--timeout", "5",
		"--shutdown-timeout", "3",
		"--rate-limit-enabled",
		"--requests-per-minute", "10",
		"--requests-per-hour", "100",
		"--max-requests-per-day", "500",
		"--max-data-per-day", "1024",
		"--symbols", "AB",
		"--topk", "2",
	}))

	cfg, shutdown := serverConfigFromFlags(serveCmd)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "https://example.com", cfg.CORSOrigin)
	assert.Equal(t, int64(2), cfg.MaxUploadMB)
	assert.Equal(t, 5, cfg.TimeoutSec)
	assert.Equal(t, 3*time.Second, shutdown)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerHour)
	assert.Equal(t, 500, cfg.RateLimit.MaxRequestsPerDay)
	assert.Equal(t, int64(1024), cfg.RateLimit.MaxDataPerDay)
	assert.Equal(t, "AB", cfg.Decoder.Alphabet)
	assert.Equal(t, 2, cfg.Decoder.TopK)
}

func TestServeCommand_InvalidPort(t *testing.T) {
	_, _, err := executeCommand(t, nil, "serve", "--port", "0", "--symbols", "AB")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port number")
}

func TestServeCommand_NoAlphabet(t *testing.T) {
	_, _, err := executeCommand(t, nil, "serve", "--port", "18080")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize server")
}
