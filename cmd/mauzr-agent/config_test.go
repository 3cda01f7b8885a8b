package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/eqrx/mauzr"
)

// configFromArgs runs the global flags through a bare app and returns what
// loadConfig made of them.
func configFromArgs(t *testing.T, args ...string) (mauzr.Config, error) {
	t.Helper()

	var (
		cfg     mauzr.Config
		loadErr error
	)
	app := &cli.App{
		Name:  "test",
		Flags: Flags,
		Action: func(c *cli.Context) error {
			cfg, loadErr = loadConfig(c)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	return cfg, loadErr
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := configFromArgs(t, "--name", "kitchen", "--server", "example.org")
	require.NoError(t, err)

	want := mauzr.DefaultConfig()
	want.Name = "kitchen"
	want.Server = "example.org"
	assert.Equal(t, want, cfg)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
name: kitchen
servers:
  - tls://broker-a:8883
  - tls://broker-b:8883
keepalive: 30s
backoff: 2s
store_backend: memory
log_level: info
`)

	cfg, err := configFromArgs(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, "kitchen", cfg.Name)
	assert.Equal(t, []string{"tls://broker-a:8883", "tls://broker-b:8883"}, cfg.Servers)
	assert.Equal(t, 30*time.Second, cfg.Keepalive)
	assert.Equal(t, 2*time.Second, cfg.Backoff)
	assert.Equal(t, mauzr.StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.SyncInterval, "unset keys keep defaults")
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "name: kitchen\nserver: example.org\nkeepalive: 30s\n")

	cfg, err := configFromArgs(t, "--config", path, "--name", "cellar", "--keepalive", "45s")
	require.NoError(t, err)

	assert.Equal(t, "cellar", cfg.Name)
	assert.Equal(t, "example.org", cfg.Server)
	assert.Equal(t, 45*time.Second, cfg.Keepalive)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := configFromArgs(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorContains(t, err, "reading config file")
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := configFromArgs(t, "--config", writeConfig(t, "name: a\nnmae: b\n"))
		assert.ErrorContains(t, err, "parsing config file")
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := configFromArgs(t, "--keepalive", "0s")
		assert.ErrorIs(t, err, mauzr.ErrInvalidConfig)
	})

	t.Run("mongo without uri", func(t *testing.T) {
		_, err := configFromArgs(t, "--name", "a", "--store", "mongo")
		assert.ErrorIs(t, err, mauzr.ErrInvalidConfig)
	})
}

func TestDecodeConfigEmpty(t *testing.T) {
	cfg := mauzr.DefaultConfig()
	require.NoError(t, decodeConfig(nil, &cfg))
	assert.Equal(t, mauzr.DefaultConfig(), cfg)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("MAUZR_NAME", "attic")
	t.Setenv("MAUZR_SERVER", "example.org")
	t.Setenv("MAUZR_BACKOFF", "3s")
	t.Setenv("MAUZR_STORE", "memory")

	cfg, err := configFromArgs(t)
	require.NoError(t, err)

	assert.Equal(t, "attic", cfg.Name)
	assert.Equal(t, 3*time.Second, cfg.Backoff)
	assert.Equal(t, mauzr.StoreBackendMemory, cfg.StoreBackend)
}
