package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/openreliefdata/datahub/pkg/logger"
)

// Manager provides thread-safe, read-only configuration management. The
// configuration file is never written by the application; updates arrive
// from external sources (operators editing the source registry, volume
// mounts, orchestration tools). An invalid update is rejected and the last
// known good configuration stays active.
type Manager interface {
	// GetConfig safely retrieves the current configuration.
	GetConfig() *Config

	// ReloadConfig reads the latest configuration from disk and applies it
	// if valid. Returns an error if the new config is invalid.
	ReloadConfig() error

	// WatchConfig observes the configuration file for external changes and
	// reloads on update. Blocks until the context is cancelled.
	WatchConfig(ctx context.Context) error

	// Close releases the file watcher resources.
	Close() error
}

type manager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	loader     Loader
	onReload   []func(*Config)
	watcher    *fsnotify.Watcher
	watcherMu  sync.Mutex
}

// ManagerOption allows customizing Manager behavior.
type ManagerOption func(*manager)

// WithLoader sets a custom config loader.
func WithLoader(l Loader) ManagerOption {
	return func(m *manager) {
		m.loader = l
	}
}

// WithOnReload registers a callback invoked with each successfully applied
// configuration, including the initial load. Callers use it to apply source
// enable toggles and quota changes without a restart.
func WithOnReload(fn func(*Config)) ManagerOption {
	return func(m *manager) {
		m.onReload = append(m.onReload, fn)
	}
}

// NewManager creates a Manager for the given configuration file path. It
// loads and validates the initial configuration; an invalid initial config
// is an error.
func NewManager(configPath string, opts ...ManagerOption) (Manager, error) {
	m := &manager{
		configPath: configPath,
		loader:     NewLoader(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.ReloadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}
	return m, nil
}

// GetConfig safely retrieves the current configuration.
func (m *manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configCopy := *m.config
	return &configCopy
}

// ReloadConfig reads the configuration file and applies it if valid. If the
// new configuration is invalid, the previous configuration remains active.
func (m *manager) ReloadConfig() error {
	newConfig, err := m.loader.LoadConfig(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m.mu.Lock()
	m.config = newConfig
	m.mu.Unlock()

	for _, fn := range m.onReload {
		fn(newConfig)
	}

	logger.Infof("Configuration reloaded from %s", m.configPath)
	return nil
}

// WatchConfig observes the configuration file for external changes. Blocks
// until the context is cancelled.
func (m *manager) WatchConfig(ctx context.Context) error {
	m.watcherMu.Lock()
	if m.watcher != nil {
		m.watcherMu.Unlock()
		return fmt.Errorf("config watcher is already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.watcherMu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	m.watcher = watcher
	m.watcherMu.Unlock()

	if err := watcher.Add(m.configPath); err != nil {
		return fmt.Errorf("failed to watch config file %s: %w", m.configPath, err)
	}

	logger.Infof("Started watching configuration file: %s", m.configPath)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Stopping config file watcher")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				logger.Infof("External config update detected, reloading")
				if err := m.ReloadConfig(); err != nil {
					// Previous config remains active.
					logger.Errorf("Failed to reload config: %v", err)
				}
			}

			// Atomic updates may remove and recreate the file.
			if event.Has(fsnotify.Remove) {
				logger.Debugf("Config file removed, re-watching")
				_ = watcher.Add(m.configPath)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			logger.Errorf("File watcher error: %v", err)
		}
	}
}

// Close releases resources held by the manager.
func (m *manager) Close() error {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close file watcher: %w", err)
		}
		m.watcher = nil
	}
	return nil
}
