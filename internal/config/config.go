// Package config handles configuration loading, validation, and persistence
// for the matchlink client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/realtime"
	"github.com/energizer-project/matchlink/internal/region"
)

const (
	DefaultConfigDir      = "config"
	DefaultConfigFile     = "config.json"
	DefaultAPIPort        = 5080
	DefaultNameServerHost = "ns.photonengine.io"
	DefaultServiceMs      = 33
	DefaultPingListenAddr = ":5055"
)

// Config is the root configuration structure for matchlink.
type Config struct {
	mu   sync.RWMutex
	path string

	ClientData      ClientData      `json:"client_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ClientData contains the realtime client settings.
type ClientData struct {
	// Application identity
	AppID      string `json:"app_id"`
	AppVersion string `json:"app_version"`

	// Name server
	UseNameServer  bool   `json:"use_name_server"`
	NameServerHost string `json:"name_server_host"`
	NameServerPort int    `json:"name_server_port"`
	MasterServer   string `json:"master_server"`
	ProxyServer    string `json:"proxy_server"`

	// Transport and authentication
	Protocol               string `json:"protocol"`
	AuthMode               string `json:"auth_mode"`
	EnableProtocolFallback bool   `json:"enable_protocol_fallback"`

	// Matchmaking
	FixedRegion           string `json:"fixed_region"`
	EnableLobbyStatistics bool   `json:"enable_lobby_statistics"`
	UserID                string `json:"user_id"`
	NickName              string `json:"nickname"`

	// Pump
	ServiceIntervalMs        int `json:"service_interval_ms"`
	KeepAliveInBackgroundSec int `json:"keep_alive_background_sec"`

	Ping PingSettings `json:"ping"`
}

// PingSettings holds the region probing parameters.
type PingSettings struct {
	Attempts             int  `json:"attempts"`
	MaxPerAttemptMs      int  `json:"max_per_attempt_ms"`
	AttemptDelayMs       int  `json:"attempt_delay_ms"`
	ResolveTimeoutMs     int  `json:"resolve_timeout_ms"`
	IgnoreInitialAttempt bool `json:"ignore_initial_attempt"`
}

// ApplicationData contains process-level configuration.
type ApplicationData struct {
	API           APIConfig           `json:"api"`
	MQTT          MQTTConfig          `json:"mqtt"`
	Storage       StorageConfig       `json:"storage"`
	PingResponder PingResponderConfig `json:"ping_responder"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Logging       LoggingConfig       `json:"logging"`
}

// APIConfig holds the HTTP control API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// StorageConfig holds the local database settings.
type StorageConfig struct {
	Path         string `json:"path"`
	HistoryLimit int    `json:"history_limit"`
}

// PingResponderConfig controls the local UDP echo used for region tests.
type PingResponderConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// SchedulerConfig controls the periodic background tasks.
type SchedulerConfig struct {
	HeartbeatSec int    `json:"heartbeat_sec"`
	CleanupTime  string `json:"cleanup_time"` // daily, local "HH:MM"
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	ping := region.DefaultPingConfig()
	return &Config{
		ClientData: ClientData{
			AppVersion:               "1.0",
			UseNameServer:            true,
			NameServerHost:           DefaultNameServerHost,
			Protocol:                 "wss",
			AuthMode:                 "auth",
			EnableProtocolFallback:   true,
			ServiceIntervalMs:        DefaultServiceMs,
			KeepAliveInBackgroundSec: int(realtime.DefaultKeepAliveInBackground / time.Second),
			Ping: PingSettings{
				Attempts:             ping.Attempts,
				MaxPerAttemptMs:      int(ping.MaxPerAttempt / time.Millisecond),
				AttemptDelayMs:       int(ping.AttemptDelay / time.Millisecond),
				ResolveTimeoutMs:     int(ping.ResolveTimeout / time.Millisecond),
				IgnoreInitialAttempt: ping.IgnoreInitialAttempt,
			},
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled:      true,
				Host:         "127.0.0.1",
				Port:         DefaultAPIPort,
				RateLimitRPS: 20,
			},
			MQTT: MQTTConfig{
				BrokerURL: "localhost",
				Port:      1883,
			},
			Storage: StorageConfig{
				Path:         "data/matchlink.db",
				HistoryLimit: 200,
			},
			PingResponder: PingResponderConfig{
				Address: DefaultPingListenAddr,
			},
			Scheduler: SchedulerConfig{
				HeartbeatSec: 60,
				CleanupTime:  "04:00",
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

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

	// Re-save so new default fields show up in the file.
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

// GetClientData returns a copy of the client configuration.
func (c *Config) GetClientData() ClientData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ClientData
}

// SetClientData updates the client configuration.
func (c *Config) SetClientData(data ClientData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClientData = data
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

// UpdateClientField updates a specific field in client data by its JSON key.
func (c *Config) UpdateClientField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateField(&c.ClientData, key, value)
}

// UpdateAppField updates a specific field in application data.
func (c *Config) UpdateAppField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateField(&c.ApplicationData, key, value)
}

// updateField round-trips target through a map so a single JSON key can be
// replaced. Unknown keys are rejected.
func updateField(target interface{}, key string, value interface{}) error {
	data, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("failed to marshal section: %w", err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode section: %w", err)
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown field %s", key)
	}

	m[key] = value

	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	if err := json.Unmarshal(updated, target); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// ParseClock parses a daily "HH:MM" time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ClientData.UseNameServer {
		return c.ClientData.AppID == ""
	}
	return c.ClientData.MasterServer == ""
}

// TransportProtocol parses the configured protocol name.
func (d ClientData) TransportProtocol() (peer.ConnectionProtocol, error) {
	p, ok := peer.ParseProtocol(strings.ToLower(strings.TrimSpace(d.Protocol)))
	if !ok {
		return p, fmt.Errorf("unknown protocol %q", d.Protocol)
	}
	return p, nil
}

// AppSettings converts the stored values into connection settings.
// summary is the best region summary persisted by a previous run.
func (d ClientData) AppSettings(summary string) (realtime.AppSettings, error) {
	proto, err := d.TransportProtocol()
	if err != nil {
		return realtime.AppSettings{}, err
	}
	mode, ok := realtime.ParseAuthMode(strings.TrimSpace(d.AuthMode))
	if !ok {
		return realtime.AppSettings{}, fmt.Errorf("unknown auth mode %q", d.AuthMode)
	}

	s := realtime.AppSettings{
		AppID:                        d.AppID,
		AppVersion:                   d.AppVersion,
		UseNameServer:                d.UseNameServer,
		FixedRegion:                  d.FixedRegion,
		ProxyServer:                  d.ProxyServer,
		Protocol:                     proto,
		AuthMode:                     mode,
		EnableProtocolFallback:       d.EnableProtocolFallback,
		EnableLobbyStatistics:        d.EnableLobbyStatistics,
		BestRegionSummaryFromStorage: summary,
	}
	if d.UseNameServer {
		s.Server = d.NameServerHost
		s.Port = d.NameServerPort
	} else {
		s.Server = d.MasterServer
	}
	return s, nil
}

// PingConfig converts the probing settings. Zero values keep the defaults.
func (d ClientData) PingConfig() region.PingConfig {
	cfg := region.DefaultPingConfig()
	if d.Ping.Attempts > 0 {
		cfg.Attempts = d.Ping.Attempts
	}
	if d.Ping.MaxPerAttemptMs > 0 {
		cfg.MaxPerAttempt = time.Duration(d.Ping.MaxPerAttemptMs) * time.Millisecond
	}
	if d.Ping.AttemptDelayMs > 0 {
		cfg.AttemptDelay = time.Duration(d.Ping.AttemptDelayMs) * time.Millisecond
	}
	if d.Ping.ResolveTimeoutMs > 0 {
		cfg.ResolveTimeout = time.Duration(d.Ping.ResolveTimeoutMs) * time.Millisecond
	}
	cfg.IgnoreInitialAttempt = d.Ping.IgnoreInitialAttempt
	return cfg
}

// ServiceInterval returns the pump period.
func (d ClientData) ServiceInterval() time.Duration {
	if d.ServiceIntervalMs <= 0 {
		return DefaultServiceMs * time.Millisecond
	}
	return time.Duration(d.ServiceIntervalMs) * time.Millisecond
}

// KeepAliveInBackground returns how long the keep-alive handler covers a
// stalled pump.
func (d ClientData) KeepAliveInBackground() time.Duration {
	if d.KeepAliveInBackgroundSec <= 0 {
		return realtime.DefaultKeepAliveInBackground
	}
	return time.Duration(d.KeepAliveInBackgroundSec) * time.Second
}
