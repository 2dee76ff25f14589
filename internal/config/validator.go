package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/realtime"
)

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

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateClientData(&cfg.ClientData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateClientData(data *ClientData, result *ValidationResult) {
	if data.UseNameServer {
		if strings.TrimSpace(data.AppID) == "" {
			result.AddError("client_data.app_id", "app id is required when using the name server")
		}
		if strings.TrimSpace(data.NameServerHost) == "" {
			result.AddError("client_data.name_server_host", "name server host is required")
		}
		if data.NameServerPort != 0 {
			validatePort(data.NameServerPort, "client_data.name_server_port", result)
		}
	} else if strings.TrimSpace(data.MasterServer) == "" {
		result.AddError("client_data.master_server", "master server address is required without a name server")
	}

	proto, err := data.TransportProtocol()
	switch {
	case err != nil:
		result.AddError("client_data.protocol", err.Error())
	case proto != peer.ProtocolWebSocket && proto != peer.ProtocolWebSocketSecure:
		result.AddError("client_data.protocol",
			fmt.Sprintf("protocol %s is not supported by the websocket transport", proto))
	}

	mode, ok := realtime.ParseAuthMode(strings.TrimSpace(data.AuthMode))
	if !ok {
		result.AddError("client_data.auth_mode", fmt.Sprintf("unknown auth mode %q", data.AuthMode))
	} else if mode != realtime.AuthModeAuth && !data.UseNameServer {
		result.AddWarning("client_data.auth_mode", "token based auth modes need the name server")
	}

	if data.FixedRegion != "" && strings.ContainsAny(data.FixedRegion, ";, ") {
		result.AddError("client_data.fixed_region", "fixed region must be a single region code")
	}

	if data.ServiceIntervalMs > 0 && data.ServiceIntervalMs < 10 {
		result.AddWarning("client_data.service_interval_ms",
			"service interval below 10ms burns cpu without improving latency")
	}
	if data.ServiceIntervalMs > 200 {
		result.AddWarning("client_data.service_interval_ms",
			"service interval above 200ms delays callbacks noticeably")
	}

	if data.Ping.Attempts < 0 {
		result.AddError("client_data.ping.attempts", "ping attempts cannot be negative")
	}
	if data.Ping.IgnoreInitialAttempt && data.Ping.Attempts == 1 {
		result.AddWarning("client_data.ping.ignore_initial_attempt",
			"ignoring the only ping attempt leaves every region at the failure value")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	// API
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
		if host := strings.TrimSpace(data.API.Host); host == "" || host == "0.0.0.0" {
			result.AddWarning("application_data.api.host", "control API listens on all interfaces")
		}
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
		if data.MQTT.UseTLS && (data.MQTT.CertFile == "") != (data.MQTT.KeyFile == "") {
			result.AddError("application_data.mqtt.cert_file", "client certificate and key must be set together")
		}
	}

	// Storage
	if strings.TrimSpace(data.Storage.Path) == "" {
		result.AddError("application_data.storage.path", "database path is required")
	}
	if data.Storage.HistoryLimit < 1 {
		result.AddWarning("application_data.storage.history_limit", "disconnect history will not be pruned")
	}

	// Scheduler
	if data.Scheduler.HeartbeatSec < 0 {
		result.AddError("application_data.scheduler.heartbeat_sec", "heartbeat interval cannot be negative")
	}
	if _, _, err := ParseClock(data.Scheduler.CleanupTime); err != nil {
		result.AddError("application_data.scheduler.cleanup_time", err.Error())
	}

	// Ping responder
	if data.PingResponder.Enabled {
		if _, _, err := net.SplitHostPort(data.PingResponder.Address); err != nil {
			result.AddError("application_data.ping_responder.address",
				fmt.Sprintf("invalid listen address: %v", err))
		}
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
