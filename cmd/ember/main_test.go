package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.json")
	cfg, err := loadConfig(&options{configPath: path, host: "127.0.0.1", port: 43600, cycleMS: 300})
	require.NoError(t, err)

	srv := cfg.GetServer()
	assert.Equal(t, "127.0.0.1", srv.Host)
	assert.Equal(t, 43600, srv.Port)
	assert.Equal(t, 300, srv.CycleRateMS)

	// Overrides are not persisted.
	again, err := loadConfig(&options{configPath: path})
	require.NoError(t, err)
	assert.Equal(t, 43594, again.GetServer().Port)
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.json")

	out := &bytes.Buffer{}
	cmd := validateCmd(&options{configPath: path})
	cmd.SetOut(out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "is valid")

	out.Reset()
	cmd = validateCmd(&options{configPath: path, cycleMS: -5})
	cmd.SetOut(out)
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
	assert.Contains(t, out.String(), "server.cycle_rate_ms")
}
