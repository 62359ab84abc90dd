package config

import (
	"fmt"
	"sync"
)

// Manager provides thread-safe access to the live configuration.
type Manager interface {
	Get() *Config
	Set(cfg *Config)
	Reload(path string) error
}

// RWMutexManager holds the active config behind a read-heavy lock. Handlers
// read it per request; Reload swaps the whole pointer.
type RWMutexManager struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewManager wraps an already-loaded config.
func NewManager(initial *Config) *RWMutexManager {
	return &RWMutexManager{cfg: initial}
}

// Get returns the current config. Callers must treat it as read-only.
func (m *RWMutexManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Set swaps in a new config.
func (m *RWMutexManager) Set(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Reload re-reads the file at path and swaps the result in. The state DB
// path and API bind address are pinned to the running values: both are wired
// at process start and changing them mid-run would silently point at
// resources the process is not using.
func (m *RWMutexManager) Reload(path string) error {
	if path == "" {
		return fmt.Errorf("config: reload path is required")
	}

	loaded, err := Load(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	loaded.General.StateDB = m.cfg.General.StateDB
	loaded.API.Bind = m.cfg.API.Bind
	m.cfg = loaded
	m.mu.Unlock()
	return nil
}

var _ Manager = (*RWMutexManager)(nil)
