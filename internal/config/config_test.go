package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:6333", cfg.Service.URL)
	assert.Equal(t, 30, cfg.Probe.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Probe.Interval)
	assert.Equal(t, 4, cfg.Collection.VectorSize)
	assert.Equal(t, "Dot", cfg.Collection.Distance)
	assert.True(t, cfg.Recovery.Concurrent)
	assert.False(t, cfg.Verify.Strict)
	assert.Equal(t, "snapcheck", cfg.Temporal.TaskQueue)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:6333", cfg.LocationBase())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
service:
  url: http://qdrant:6333
  self_url: http://127.0.0.1:6333
  request_timeout: 5s
probe:
  max_attempts: 3
  interval: 250ms
collection:
  vector_size: 8
  distance: Cosine
verify:
  strict: true
`)
	t.Setenv("SNAPCHECK_SERVICE_API_KEY", "from-env")
	t.Setenv("SNAPCHECK_PROBE_MAX_ATTEMPTS", "7")
	t.Setenv("SNAPCHECK_SERVICE_TEMP_PATH", "/var/tmp/qdrant")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://qdrant:6333", cfg.Service.URL)
	assert.Equal(t, "http://127.0.0.1:6333", cfg.LocationBase())
	assert.Equal(t, 5*time.Second, cfg.Service.RequestTimeout)
	assert.Equal(t, "from-env", cfg.Service.APIKey)
	assert.Equal(t, "/var/tmp/qdrant", cfg.Service.TempPath)
	assert.Equal(t, 7, cfg.Probe.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Probe.Interval)
	assert.Equal(t, 8, cfg.Collection.VectorSize)
	assert.True(t, cfg.Verify.Strict)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "probe:\n  max_attempts: 0\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe.max_attempts")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad scheme", func(c *Config) { c.Service.URL = "ftp://x" }, "service.url"},
		{"no host", func(c *Config) { c.Service.URL = "http://" }, "no host"},
		{"bad self url", func(c *Config) { c.Service.SelfURL = "localhost:6333" }, "service.self_url"},
		{"zero size", func(c *Config) { c.Collection.VectorSize = 0 }, "vector_size"},
		{"provision without executable", func(c *Config) { c.Provision.Enabled = true }, "provision.executable"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Warnings())

	cfg.Collection.Name = "fixed"
	cfg.Verify.Strict = true
	warnings := strings.Join(cfg.Warnings(), "\n")
	assert.Contains(t, warnings, "collection.name")
	assert.Contains(t, warnings, "grpc_port")
}
