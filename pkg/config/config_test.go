package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/dockhand", cfg.DataDir)
	assert.Equal(t, "dockhand-deploy", cfg.PolicyName)
	assert.Equal(t, 30, cfg.RetryAttempts)
	assert.Equal(t, 10*time.Second, cfg.RetryDelay())
	assert.Equal(t, 5*time.Minute, cfg.LaunchTimeout())
	assert.Equal(t, 2*time.Minute, cfg.AddressTimeout())
	assert.False(t, cfg.TerminateOnFailure)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listenAddr: ":9090"
dataDir: /tmp/dockhand
retryAttempts: 5
retryDelaySeconds: 1
terminateOnFailure: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/dockhand", cfg.DataDir)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay())
	assert.True(t, cfg.TerminateOnFailure)

	// Fields the file does not mention keep their defaults.
	assert.Equal(t, 300, cfg.LaunchTimeoutSeconds)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadMissingDefaultFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().ListenAddr, cfg.ListenAddr)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listenAddr: \":9090\"\n"), 0o644))

	t.Setenv("DOCKHAND_LISTEN_ADDR", ":7070")
	t.Setenv("DOCKHAND_RETRY_ATTEMPTS", "3")
	t.Setenv("DOCKHAND_TERMINATE_ON_FAILURE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.True(t, cfg.TerminateOnFailure)
}

func TestInvalidEnvValueFallsBack(t *testing.T) {
	t.Setenv("DOCKHAND_RETRY_ATTEMPTS", "lots")
	t.Setenv("DOCKHAND_TERMINATE_ON_FAILURE", "maybe")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default().RetryAttempts, cfg.RetryAttempts)
	assert.False(t, cfg.TerminateOnFailure)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"zero retry attempts", func(c *Config) { c.RetryAttempts = 0 }},
		{"negative retry delay", func(c *Config) { c.RetryDelaySeconds = -1 }},
		{"zero launch timeout", func(c *Config) { c.LaunchTimeoutSeconds = 0 }},
		{"zero poll interval", func(c *Config) { c.PollIntervalSeconds = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseErrorIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listenAddr: [broken\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}
