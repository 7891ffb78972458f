package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerLoadsInitialConfig(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, validYAML)

	var reloaded []*Config
	m, err := NewManager(path, WithOnReload(func(cfg *Config) {
		reloaded = append(reloaded, cfg)
	}))
	require.NoError(t, err)
	defer func() {
		_ = m.Close()
	}()

	cfg := m.GetConfig()
	require.Len(t, cfg.Sources, 2)
	require.Len(t, reloaded, 1, "initial load fires the reload hook")
}

func TestNewManagerRejectsInvalidInitialConfig(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "sources: []\n")
	_, err := NewManager(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load initial configuration")
}

func TestReloadKeepsLastKnownGood(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, validYAML)
	m, err := NewManager(path)
	require.NoError(t, err)
	defer func() {
		_ = m.Close()
	}()

	// Break the file on disk; the reload fails and the previous config
	// stays active.
	require.NoError(t, os.WriteFile(path, []byte("sources: []\n"), 0o600))
	err = m.ReloadConfig()
	require.Error(t, err)

	cfg := m.GetConfig()
	assert.Len(t, cfg.Sources, 2)
}

func TestReloadAppliesValidUpdate(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, validYAML)

	var reloads int
	m, err := NewManager(path, WithOnReload(func(*Config) { reloads++ }))
	require.NoError(t, err)
	defer func() {
		_ = m.Close()
	}()

	updated := validYAML + `
  - id: extra
    baseAddress: https://extra.example.org
    endpointPath: /v1/data
    enabled: true
    priority: 3
    cacheTtl: 1h
    maxRetries: 1
    rateLimit:
      requests: 5
      window: 1m
    reliabilityTier: low
    updateFrequency: irregular
    payloadKind: tree
    cacheGranularity: raw
    transform:
      fields:
        - name: id
          path: id
          type: string
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	require.NoError(t, m.ReloadConfig())

	cfg := m.GetConfig()
	assert.Len(t, cfg.Sources, 3)
	assert.Equal(t, 2, reloads)
}

func TestGetConfigReturnsCopy(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, validYAML)
	m, err := NewManager(path)
	require.NoError(t, err)
	defer func() {
		_ = m.Close()
	}()

	cfg := m.GetConfig()
	cfg.Server.Address = ":1"

	assert.Equal(t, ":9090", m.GetConfig().Server.Address)
}
