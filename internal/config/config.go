// Package config handles configuration loading, validation, and persistence
// for the Ember game server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "ember.json"
	DefaultGamePort   = 43594
	DefaultAPIPort    = 5000
	DefaultCycleRate  = 600
	DefaultBuild      = 317
)

// DefaultPath is where the configuration lives unless overridden.
var DefaultPath = filepath.Join(DefaultConfigDir, DefaultConfigFile)

// Config is the root configuration structure for Ember.
type Config struct {
	mu   sync.RWMutex
	path string

	Server          ServerData      `json:"server"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServerData contains the game server settings.
type ServerData struct {
	Name                string      `json:"name"`
	WorldID             int         `json:"world_id"`
	Host                string      `json:"host"`
	Port                int         `json:"port"`
	CycleRateMS         int         `json:"cycle_rate_ms"`
	MaxPlayers          int         `json:"max_players"`
	IdleTimeoutSec      int         `json:"idle_timeout_sec"`
	HandshakeTimeoutSec int         `json:"handshake_timeout_sec"`
	ProtocolBuild       int         `json:"protocol_build"`
	MaxUnknownOpcodes   int         `json:"max_unknown_opcodes"`
	WelcomeMessage      string      `json:"welcome_message"`
	RejectCodes         RejectCodes `json:"reject_codes"`
}

// RejectCodes are the single status bytes written before closing a login.
type RejectCodes struct {
	InvalidUsername    int `json:"invalid_username"`
	InvalidCredentials int `json:"invalid_credentials"`
	AlreadyOnline      int `json:"already_online"`
	WorldFull          int `json:"world_full"`
	LoadError          int `json:"load_error"`
	ProtocolMismatch   int `json:"protocol_mismatch"`
}

// ApplicationData contains the operational settings around the game.
type ApplicationData struct {
	API      APIConfig      `json:"api"`
	Timers   TimerConfig    `json:"timers"`
	Storage  StorageConfig  `json:"storage"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// APIConfig holds the admin REST API settings.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Token   string `json:"token"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	HeartbeatInterval      int `json:"heartbeat_interval_sec"`
	AutosaveInterval       int `json:"autosave_interval_sec"`
	HandshakeSweepInterval int `json:"handshake_sweep_interval_sec"`
	TickReportInterval     int `json:"tick_report_interval_sec"`
	DiskCheckInterval      int `json:"disk_check_interval_sec"`
}

// StorageConfig holds player persistence settings.
type StorageConfig struct {
	Path       string `json:"path"`
	BcryptCost int    `json:"bcrypt_cost"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	ClientID  string `json:"client_id"`
	Topic     string `json:"topic_prefix"`
}

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	IPWhitelist    []string `json:"ip_whitelist"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	AuthDisabled   bool     `json:"auth_disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerData{
			Name:                "Ember",
			WorldID:             1,
			Host:                "0.0.0.0",
			Port:                DefaultGamePort,
			CycleRateMS:         DefaultCycleRate,
			MaxPlayers:          2000,
			IdleTimeoutSec:      60,
			HandshakeTimeoutSec: 15,
			ProtocolBuild:       DefaultBuild,
			MaxUnknownOpcodes:   20,
			WelcomeMessage:      "Welcome to Ember.",
			RejectCodes: RejectCodes{
				InvalidUsername:    16,
				InvalidCredentials: 3,
				AlreadyOnline:      5,
				WorldFull:          7,
				LoadError:          10,
				ProtocolMismatch:   6,
			},
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    DefaultAPIPort,
			},
			Timers: TimerConfig{
				HeartbeatInterval:      60,
				AutosaveInterval:       300,
				HandshakeSweepInterval: 5,
				TickReportInterval:     120,
				DiskCheckInterval:      600,
			},
			Storage: StorageConfig{
				Path:       filepath.Join("data", "ember.db"),
				BcryptCost: 10,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    1883,
				Topic:   "ember",
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
				MaxAgeDays: 14,
				Console:    true,
			},
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults if
// it does not exist.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file picks up options added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the game server settings.
func (c *Config) GetServer() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// SetServer replaces the game server settings.
func (c *Config) SetServer(data ServerData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Address returns the game listener host:port.
func (s ServerData) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CycleRate returns the tick period.
func (s ServerData) CycleRate() time.Duration {
	return time.Duration(s.CycleRateMS) * time.Millisecond
}

// IdleTimeout returns how long a session may go without a packet.
func (s ServerData) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSec) * time.Second
}

// HandshakeTimeout returns how long a socket may take to log in.
func (s ServerData) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutSec) * time.Second
}

// Seconds converts an interval setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
