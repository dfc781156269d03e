package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplicationData.API.Token = "secret"
	result := Validate(cfg)
	assert.True(t, result.IsValid(), "%v", result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ember.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path())
	assert.FileExists(t, path)
	assert.Equal(t, DefaultGamePort, cfg.GetServer().Port)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":40000,"cycle_rate_ms":300}}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	server := cfg.GetServer()
	assert.Equal(t, 40000, server.Port)
	assert.Equal(t, 300*time.Millisecond, server.CycleRate())
	// Missing fields keep their defaults.
	assert.Equal(t, 60*time.Second, server.IdleTimeout())
	assert.Equal(t, 16, server.RejectCodes.InvalidUsername)

	// The file is rewritten with the full option set.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_unknown_opcodes")
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":`), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateServer(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero cycle", func(c *Config) { c.Server.CycleRateMS = 0 }, "server.cycle_rate_ms"},
		{"too many players", func(c *Config) { c.Server.MaxPlayers = 5000 }, "server.max_players"},
		{"no idle timeout", func(c *Config) { c.Server.IdleTimeoutSec = 0 }, "server.idle_timeout_sec"},
		{"success reject code", func(c *Config) { c.Server.RejectCodes.WorldFull = 2 }, "server.reject_codes.world_full"},
		{"oversize reject code", func(c *Config) { c.Server.RejectCodes.LoadError = 300 }, "server.reject_codes.load_error"},
		{"api port clash", func(c *Config) { c.ApplicationData.API.Port = c.Server.Port }, "application_data.api.port"},
		{"tls without cert", func(c *Config) { c.ApplicationData.Security.TLSEnabled = true }, "application_data.security.tls_cert_file"},
		{"mqtt without broker", func(c *Config) { c.ApplicationData.MQTT.Enabled = true }, "application_data.mqtt.broker_url"},
		{"bad bcrypt cost", func(c *Config) { c.ApplicationData.Storage.BcryptCost = 40 }, "application_data.storage.bcrypt_cost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			result := Validate(cfg)
			require.False(t, result.IsValid())

			var fields []string
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestDuplicateRejectCodesWarn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplicationData.API.Token = "secret"
	cfg.Server.RejectCodes.WorldFull = cfg.Server.RejectCodes.AlreadyOnline

	result := Validate(cfg)
	assert.True(t, result.IsValid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "server.reject_codes.world_full", result.Warnings[0].Field)
}

func TestValidationErrorString(t *testing.T) {
	err := ValidationError{Field: "server.port", Message: "bad"}
	assert.Equal(t, "config validation error [server.port]: bad", err.Error())
}
