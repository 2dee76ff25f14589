package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard guides the user through first-time configuration.
func RunSetupWizard(cfg *Config) error {
	return runSetupWizard(cfg, bufio.NewReader(os.Stdin), os.Stdout)
}

func runSetupWizard(cfg *Config, reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║         matchlink - First Run Setup          ║")
	fmt.Fprintln(out, "╠══════════════════════════════════════════════╣")
	fmt.Fprintln(out, "║  Let's configure your realtime client.       ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	cfg.mu.Lock()
	d := &cfg.ClientData
	a := &cfg.ApplicationData

	fmt.Fprintln(out, "── Application ──")

	d.AppID = promptString(reader, out, "Realtime app id", d.AppID)
	d.AppVersion = promptString(reader, out, "App version", d.AppVersion)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Connection ──")

	d.UseNameServer = promptBool(reader, out, "Connect through the name server", d.UseNameServer)
	if d.UseNameServer {
		d.NameServerHost = promptString(reader, out, "Name server host", d.NameServerHost)
		d.FixedRegion = promptString(reader, out, "Fixed region (blank picks the best region)", d.FixedRegion)
	} else {
		d.MasterServer = promptString(reader, out, "Master server address (host:port)", d.MasterServer)
	}
	d.Protocol = promptString(reader, out, "Protocol (ws, wss)", d.Protocol)
	d.AuthMode = promptString(reader, out, "Auth mode (auth, auth_once, auth_once_wss)", d.AuthMode)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Player ──")

	d.UserID = promptString(reader, out, "User id (blank generates one)", d.UserID)
	d.NickName = promptString(reader, out, "Nickname", d.NickName)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Control API ──")

	a.API.Enabled = promptBool(reader, out, "Enable control API", a.API.Enabled)
	if a.API.Enabled {
		a.API.Port = promptInt(reader, out, "Control API port", a.API.Port)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── MQTT Telemetry ──")

	a.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", a.MQTT.Enabled)
	if a.MQTT.Enabled {
		a.MQTT.BrokerURL = promptString(reader, out, "MQTT broker host", a.MQTT.BrokerURL)
		a.MQTT.Port = promptInt(reader, out, "MQTT broker port", a.MQTT.Port)
	}
	cfg.mu.Unlock()

	// Validate before saving
	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "no")
		if strings.ToLower(retry) == "yes" {
			return runSetupWizard(cfg, reader, out)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved successfully!")
	fmt.Fprintln(out)

	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
