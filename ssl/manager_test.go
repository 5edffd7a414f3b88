// File: ssl/manager_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ssl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryManager() *Manager {
	return NewManager(func(cfg *Config, incoming bool) (Engine, error) {
		return newFakeEngine(incoming), nil
	})
}

func TestAddConfigAndLookup(t *testing.T) {
	m := registryManager()
	cfg := &Config{CAFile: "ca.pem", CertFile: "server.crt", KeyFile: "server.key"}
	require.NoError(t, m.AddConfig("server", cfg))

	got, ok := m.Config("server")
	require.True(t, ok)
	assert.Same(t, cfg, got)

	_, ok = m.Config("missing")
	assert.False(t, ok)
}

func TestDuplicateConfigRejected(t *testing.T) {
	m := registryManager()
	require.NoError(t, m.AddConfig("server", &Config{CertFile: "a.crt", KeyFile: "a.key"}))

	err := m.AddConfig("server", &Config{CertFile: "b.crt", KeyFile: "b.key"})
	assert.ErrorIs(t, err, ErrConfigExists)
}

func TestConfigValidation(t *testing.T) {
	m := registryManager()

	assert.Error(t, m.AddConfig("no-key", &Config{CertFile: "a.crt"}))
	assert.Error(t, m.AddConfig("no-cert", &Config{KeyFile: "a.key"}))
	assert.NoError(t, m.AddConfig("no-ca", &Config{CertFile: "a.crt", KeyFile: "a.key"}))
}
