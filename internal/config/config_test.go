package config

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/realtime"
	"github.com/energizer-project/matchlink/internal/region"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), cfg.Path())
	assert.FileExists(t, cfg.Path())
	assert.True(t, cfg.IsFirstRun())

	d := cfg.GetClientData()
	assert.Equal(t, "wss", d.Protocol)
	assert.Equal(t, DefaultNameServerHost, d.NameServerHost)
	assert.True(t, d.UseNameServer)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"client_data":{"app_id":"abc","fixed_region":"eu"}}`), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	d := cfg.GetClientData()
	assert.Equal(t, "abc", d.AppID)
	assert.Equal(t, "eu", d.FixedRegion)
	assert.Equal(t, "wss", d.Protocol)
	assert.Equal(t, "data/matchlink.db", cfg.GetApplicationData().Storage.Path)
	assert.False(t, cfg.IsFirstRun())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"history_limit"`)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestUpdateFields(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.UpdateClientField("fixed_region", "us"))
	require.NoError(t, cfg.UpdateClientField("name_server_port", 4533))
	assert.Equal(t, "us", cfg.GetClientData().FixedRegion)
	assert.Equal(t, 4533, cfg.GetClientData().NameServerPort)

	assert.Error(t, cfg.UpdateClientField("no_such_key", 1))
	assert.Error(t, cfg.UpdateClientField("name_server_port", "abc"))
	assert.Equal(t, 4533, cfg.GetClientData().NameServerPort)

	require.NoError(t, cfg.UpdateAppField("storage", map[string]interface{}{"path": "x.db", "history_limit": 5}))
	assert.Equal(t, StorageConfig{Path: "x.db", HistoryLimit: 5}, cfg.GetApplicationData().Storage)
}

func TestAppSettings(t *testing.T) {
	d := DefaultConfig().ClientData
	d.AppID = "app"
	d.NameServerPort = 19093
	d.AuthMode = "auth_once"
	d.FixedRegion = "eu"

	s, err := d.AppSettings("eu;10;eu,us")
	require.NoError(t, err)
	assert.Equal(t, "app", s.AppID)
	assert.Equal(t, DefaultNameServerHost, s.Server)
	assert.Equal(t, 19093, s.Port)
	assert.Equal(t, peer.ProtocolWebSocketSecure, s.Protocol)
	assert.Equal(t, realtime.AuthModeAuthOnce, s.AuthMode)
	assert.Equal(t, "eu;10;eu,us", s.BestRegionSummaryFromStorage)
	assert.True(t, s.UseNameServer)

	d.UseNameServer = false
	d.MasterServer = "127.0.0.1:5055"
	s, err = d.AppSettings("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5055", s.Server)
	assert.Zero(t, s.Port)

	d.Protocol = "carrier-pigeon"
	_, err = d.AppSettings("")
	assert.Error(t, err)

	d.Protocol = "ws"
	d.AuthMode = "sometimes"
	_, err = d.AppSettings("")
	assert.Error(t, err)
}

func TestDurationsAndPingConfig(t *testing.T) {
	var d ClientData
	assert.Equal(t, DefaultServiceMs*time.Millisecond, d.ServiceInterval())
	assert.Equal(t, realtime.DefaultKeepAliveInBackground, d.KeepAliveInBackground())

	want := region.DefaultPingConfig()
	want.IgnoreInitialAttempt = false
	assert.Equal(t, want, d.PingConfig())

	d.Ping = PingSettings{Attempts: 3, MaxPerAttemptMs: 500, IgnoreInitialAttempt: true}
	got := d.PingConfig()
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 500*time.Millisecond, got.MaxPerAttempt)
	assert.True(t, got.IgnoreInitialAttempt)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing app id", func(c *Config) { c.ClientData.AppID = "" }, "client_data.app_id"},
		{"bad protocol", func(c *Config) { c.ClientData.Protocol = "sctp" }, "client_data.protocol"},
		{"udp transport", func(c *Config) { c.ClientData.Protocol = "udp" }, "client_data.protocol"},
		{"bad auth mode", func(c *Config) { c.ClientData.AuthMode = "never" }, "client_data.auth_mode"},
		{"region list", func(c *Config) { c.ClientData.FixedRegion = "eu,us" }, "client_data.fixed_region"},
		{"no master", func(c *Config) { c.ClientData.UseNameServer = false }, "client_data.master_server"},
		{"api port", func(c *Config) { c.ApplicationData.API.Port = 70000 }, "application_data.api.port"},
		{"mqtt broker", func(c *Config) {
			c.ApplicationData.MQTT.Enabled = true
			c.ApplicationData.MQTT.BrokerURL = ""
		}, "application_data.mqtt.broker_url"},
		{"storage path", func(c *Config) { c.ApplicationData.Storage.Path = "" }, "application_data.storage.path"},
		{"cleanup time", func(c *Config) { c.ApplicationData.Scheduler.CleanupTime = "25:00" }, "application_data.scheduler.cleanup_time"},
		{"heartbeat", func(c *Config) { c.ApplicationData.Scheduler.HeartbeatSec = -1 }, "application_data.scheduler.heartbeat_sec"},
		{"responder address", func(c *Config) {
			c.ApplicationData.PingResponder.Enabled = true
			c.ApplicationData.PingResponder.Address = "nope"
		}, "application_data.ping_responder.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ClientData.AppID = "app"
			tt.modify(cfg)

			result := Validate(cfg)
			if tt.field == "" {
				assert.True(t, result.IsValid(), "errors: %v", result.Errors)
				return
			}
			require.False(t, result.IsValid())
			assert.Equal(t, tt.field, result.Errors[0].Field)
			assert.Contains(t, result.Errors[0].Error(), tt.field)
		})
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("04:30")
	require.NoError(t, err)
	assert.Equal(t, 4, h)
	assert.Equal(t, 30, m)

	h, m, err = ParseClock(" 23:05 ")
	require.NoError(t, err)
	assert.Equal(t, 23, h)
	assert.Equal(t, 5, m)

	for _, bad := range []string{"", "4", "4:30pm", "24:00", "12:60"} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClientData.AppID = "app"
	cfg.ClientData.ServiceIntervalMs = 5
	cfg.ApplicationData.API.RateLimitRPS = 0

	result := Validate(cfg)
	assert.True(t, result.IsValid())
	fields := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	assert.ElementsMatch(t, []string{"client_data.service_interval_ms", "application_data.api.rate_limit_rps"}, fields)
}

func TestSetupWizard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)

	answers := strings.Join([]string{
		"app-1", // app id
		"",      // version
		"",      // use name server
		"",      // host
		"eu",    // fixed region
		"ws",    // protocol
		"",      // auth mode
		"",      // user id
		"ann",   // nickname
		"",      // api enabled
		"6000",  // api port
		"",      // mqtt
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runSetupWizard(cfg, bufio.NewReader(strings.NewReader(answers)), &out))
	assert.Contains(t, out.String(), "Configuration saved")

	loaded, err := Load(filepath.Dir(cfg.Path()))
	require.NoError(t, err)
	d := loaded.GetClientData()
	assert.Equal(t, "app-1", d.AppID)
	assert.Equal(t, "eu", d.FixedRegion)
	assert.Equal(t, "ws", d.Protocol)
	assert.Equal(t, "ann", d.NickName)
	assert.Equal(t, 6000, loaded.GetApplicationData().API.Port)
}

func TestSetupWizardGivesUpOnInvalidInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)

	var out bytes.Buffer
	err := runSetupWizard(cfg, bufio.NewReader(strings.NewReader("")), &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "client_data.app_id")
	assert.NoFileExists(t, cfg.Path())
}
