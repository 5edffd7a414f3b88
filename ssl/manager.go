// File: ssl/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager is the named-context registry: configs are added once at
// startup and looked up by name when a connection arrives. It is an
// explicit object constructed by the application, not a process-wide
// singleton; a launcher that insists on one wires it itself.

package ssl

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-net/internal/logger"
	"github.com/momentics/hioload-net/reactor"
)

// Registry errors.
var (
	ErrConfigExists  = errors.New("tls config name already registered")
	ErrUnknownConfig = errors.New("tls config name not registered")
)

// Manager holds named TLS configs and the engine factory that turns a
// config into a per-connection engine.
type Manager struct {
	factory EngineFactory

	mu      sync.RWMutex
	configs map[string]*Config
}

// NewManager returns an empty registry over factory.
func NewManager(factory EngineFactory) *Manager {
	return &Manager{
		factory: factory,
		configs: make(map[string]*Config),
	}
}

// AddConfig registers cfg under name. Duplicate names and invalid
// configs are rejected.
func (m *Manager) AddConfig(name string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.configs[name]; dup {
		return errors.Wrapf(ErrConfigExists, "%q", name)
	}
	m.configs[name] = cfg
	return nil
}

// Config returns the config registered under name.
func (m *Manager) Config(name string) (*Config, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[name]
	return cfg, ok
}

// Attach builds an engine from the named config and splices a filter
// into c. Decrypted bytes go to onPlainText. A missing config or a
// failed engine build closes the connection.
func (m *Manager) Attach(name string, incoming bool, c *reactor.Connection, onPlainText reactor.MessageCallback) (*Filter, error) {
	cfg, ok := m.Config(name)
	if !ok {
		logger.Error("tls: no config %q for fd %d", name, c.Identifier())
		c.ActiveClose()
		return nil, errors.Wrapf(ErrUnknownConfig, "%q", name)
	}

	e, err := m.factory(cfg, incoming)
	if err != nil {
		logger.Error("tls: engine for %q: %v", name, err)
		c.ActiveClose()
		return nil, err
	}

	f := newFilter(c, e, incoming, onPlainText)
	if err := f.start(); err != nil {
		return nil, err
	}
	return f, nil
}

// NewConnectionHook adapts Attach into a new-connection callback for
// listeners and connectors.
func (m *Manager) NewConnectionHook(name string, incoming bool, onPlainText reactor.MessageCallback) func(*reactor.Connection) {
	return func(c *reactor.Connection) {
		m.Attach(name, incoming, c, onPlainText)
	}
}
