package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7310", cfg.ListenAddress)
	assert.Equal(t, 300, cfg.SessionTimeoutSeconds)
	assert.Equal(t, 60, cfg.SweepIntervalSeconds)
	assert.Equal(t, 100_000, cfg.MaxRequestBytes)
	assert.Equal(t, BackendMemory, cfg.KeystoreBackend)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	home := t.TempDir()

	cfg := &Config{
		ListenAddress:         "0.0.0.0:9000",
		SessionTimeoutSeconds: 120,
		KeystoreBackend:       BackendFile,
		KeystorePath:          filepath.Join(home, "keys"),
		LogLevel:              "debug",
		LogFormat:             "json",
		LogSampler:            true,
	}
	require.NoError(t, Save(cfg, home))

	loaded, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", loaded.ListenAddress)
	assert.Equal(t, 120, loaded.SessionTimeoutSeconds)
	assert.Equal(t, BackendFile, loaded.KeystoreBackend)
	assert.Equal(t, filepath.Join(home, "keys"), loaded.KeystorePath)
	assert.Equal(t, "debug", loaded.LogLevel)
	assert.Equal(t, "json", loaded.LogFormat)
	assert.True(t, loaded.LogSampler)

	// Unset fields still get defaults on load.
	assert.Equal(t, 60, loaded.SweepIntervalSeconds)
	assert.Equal(t, 100_000, loaded.MaxRequestBytes)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	home := t.TempDir()
	configDir := filepath.Join(home, "config")
	require.NoError(t, os.MkdirAll(configDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "enclaved.json"), []byte("{not json"), 0o640))

	_, err := Load(home)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	err := Save(&Config{KeystoreBackend: "vault"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keystore backend")
}

func TestValidateRequiresPathForFileBackend(t *testing.T) {
	err := Save(&Config{KeystoreBackend: BackendFile}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keystore path")
}

func TestValidateRejectsBadLogFormat(t *testing.T) {
	err := Save(&Config{LogFormat: "xml"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log format")
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "5m0s", cfg.SessionTimeout().String())
	assert.Equal(t, "1m0s", cfg.SweepInterval().String())
}
