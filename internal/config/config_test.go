package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(50), cfg.Capture.PacketLimit)
	assert.Equal(t, 1024, cfg.Aggregator.MaxFlows)
	assert.Equal(t, 1.0, cfg.RateLimit.Rate)
	assert.Equal(t, 2, cfg.RateLimit.Burst)
	assert.Equal(t, ModeBoth, cfg.RateLimit.Mode)
	assert.False(t, cfg.RateLimit.ExemptLoopback)
	assert.Equal(t, time.Second, cfg.Capture.Timeout())
	assert.Zero(t, cfg.Aggregator.Interval())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
capture:
  interface: eth0
  packet_limit: 0
aggregator:
  batch_interval: 30s
rate_limit:
  rate: 5
  mode: incoming
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "eth0", cfg.Capture.Interface)
	assert.Equal(t, int64(0), cfg.Capture.PacketLimit)
	assert.Equal(t, 30*time.Second, cfg.Aggregator.Interval())
	assert.Equal(t, 5.0, cfg.RateLimit.Rate)
	assert.Equal(t, ModeIncoming, cfg.RateLimit.Mode)
	// untouched keys keep their defaults
	assert.Equal(t, 2, cfg.RateLimit.Burst)
	assert.Equal(t, "summary_batch_1.csv", cfg.Aggregator.CSVPath)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"zero rate":    "rate_limit: {rate: 0}",
		"zero burst":   "rate_limit: {burst: 0}",
		"bad mode":     "rate_limit: {mode: sideways}",
		"no flows":     "aggregator: {max_flows: 0}",
		"bad duration": "capture: {poll_timeout: soon}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default().Capture.SkipPatterns, cfg.Capture.SkipPatterns)
}

func TestLoadOrDefault(t *testing.T) {
	// DefaultPath is relative and absent from the package directory.
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg, err = LoadOrDefault(writeConfig(t, "rate_limit:\n  burst: 7\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RateLimit.Burst)
}
