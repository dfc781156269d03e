package config

import (
	"fmt"
	"net"
	"strings"
)

// maxPlayerIndex is the largest player index the client can address.
const maxPlayerIndex = 2047

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	server := cfg.GetServer()
	app := cfg.GetApplicationData()
	validateServer(&server, result)
	validateApplicationData(&app, result)

	if app.API.Enabled && app.API.Port == server.Port {
		result.AddError("application_data.api.port", "API port conflicts with the game port")
	}

	return result
}

func validateServer(data *ServerData, result *ValidationResult) {
	validatePort(data.Port, "server.port", result)

	if data.Host != "" && net.ParseIP(data.Host) == nil && data.Host != "localhost" {
		result.AddWarning("server.host", fmt.Sprintf("host %q is not an IP address", data.Host))
	}

	switch {
	case data.CycleRateMS < 1:
		result.AddError("server.cycle_rate_ms", "cycle rate must be positive")
	case data.CycleRateMS < 100:
		result.AddWarning("server.cycle_rate_ms",
			fmt.Sprintf("cycle rate %dms is far below the client's 600ms", data.CycleRateMS))
	}

	if data.WorldID < 1 || data.WorldID > 246 {
		result.AddError("server.world_id", "world id must be between 1 and 246")
	}

	if data.MaxPlayers < 1 || data.MaxPlayers > maxPlayerIndex {
		result.AddError("server.max_players",
			fmt.Sprintf("max players must be between 1 and %d", maxPlayerIndex))
	}

	if data.IdleTimeoutSec < 1 {
		result.AddError("server.idle_timeout_sec", "idle timeout must be positive")
	} else if data.IdleTimeoutSec < 10 {
		result.AddWarning("server.idle_timeout_sec", "idle timeout less than 10 seconds may drop slow clients")
	}

	if data.HandshakeTimeoutSec < 1 {
		result.AddError("server.handshake_timeout_sec", "handshake timeout must be positive")
	}

	if data.ProtocolBuild < 1 || data.ProtocolBuild > 0xffff {
		result.AddError("server.protocol_build", "protocol build must fit in two bytes")
	}

	if data.MaxUnknownOpcodes < 1 {
		result.AddError("server.max_unknown_opcodes", "must allow at least one unknown opcode")
	}

	validateRejectCodes(&data.RejectCodes, result)
}

func validateRejectCodes(codes *RejectCodes, result *ValidationResult) {
	fields := []struct {
		name string
		code int
	}{
		{"invalid_username", codes.InvalidUsername},
		{"invalid_credentials", codes.InvalidCredentials},
		{"already_online", codes.AlreadyOnline},
		{"world_full", codes.WorldFull},
		{"load_error", codes.LoadError},
		{"protocol_mismatch", codes.ProtocolMismatch},
	}

	seen := make(map[int]string)
	for _, f := range fields {
		field := "server.reject_codes." + f.name
		if f.code < 0 || f.code > 255 {
			result.AddError(field, fmt.Sprintf("code %d does not fit in a byte", f.code))
			continue
		}
		if f.code == 2 {
			result.AddError(field, "code 2 is the login success code")
		}
		if other, dup := seen[f.code]; dup {
			result.AddWarning(field, fmt.Sprintf("code %d is also used for %s", f.code, other))
		}
		seen[f.code] = f.name
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if strings.TrimSpace(data.API.Token) == "" && !data.Security.AuthDisabled {
			result.AddWarning("application_data.api.token",
				"no API token set, protected routes will refuse every request")
		}
	}

	validateTimers(&data.Timers, result)

	if strings.TrimSpace(data.Storage.Path) == "" {
		result.AddError("application_data.storage.path", "storage path is required")
	}
	if data.Storage.BcryptCost != 0 && (data.Storage.BcryptCost < 4 || data.Storage.BcryptCost > 31) {
		result.AddError("application_data.storage.bcrypt_cost", "bcrypt cost must be between 4 and 31")
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
	if timers.AutosaveInterval < 1 {
		result.AddError("timers.autosave_interval_sec", "autosave interval must be positive")
	} else if timers.AutosaveInterval < 30 {
		result.AddWarning("timers.autosave_interval_sec",
			"autosave interval less than 30s may load the database")
	}
	if timers.HandshakeSweepInterval < 1 {
		result.AddError("timers.handshake_sweep_interval_sec", "handshake sweep interval must be positive")
	}
	if timers.TickReportInterval < 1 {
		result.AddError("timers.tick_report_interval_sec", "tick report interval must be positive")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
