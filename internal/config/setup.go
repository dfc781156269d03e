package config

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxSetupAttempts bounds how often the wizard starts over after a
// validation failure.
const maxSetupAttempts = 3

// RunSetupWizard asks for the settings a new server needs and saves them.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║            Ember - First Run Setup           ║")
	fmt.Fprintln(out, "╠══════════════════════════════════════════════╣")
	fmt.Fprintln(out, "║  Press enter to keep the value in brackets.  ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")

	for attempt := 1; ; attempt++ {
		promptAll(cfg, reader, out)

		result := Validate(cfg)
		if result.IsValid() {
			for _, w := range result.Warnings {
				log.Warn().Str("field", w.Field).Msg(w.Message)
			}
			break
		}

		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if attempt == maxSetupAttempts {
			return fmt.Errorf("configuration validation failed")
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) != "yes" {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Configuration saved to %s\n", cfg.Path())
	fmt.Fprintln(out)
	return nil
}

func promptAll(cfg *Config, reader *bufio.Reader, out io.Writer) {
	srv := &cfg.Server
	app := &cfg.ApplicationData

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── World ──")

	srv.Name = promptString(reader, out, "Server name", srv.Name)
	srv.WorldID = promptInt(reader, out, "World number", srv.WorldID)
	srv.MaxPlayers = promptInt(reader, out, "Player limit", srv.MaxPlayers)
	srv.WelcomeMessage = promptString(reader, out, "Welcome message", srv.WelcomeMessage)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Network ──")

	srv.Host = promptString(reader, out, "Game listener host", srv.Host)
	srv.Port = promptInt(reader, out, "Game listener port", srv.Port)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Storage ──")

	app.Storage.Path = promptString(reader, out, "Player database file", app.Storage.Path)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Admin API ──")

	app.API.Enabled = promptBool(reader, out, "Enable the REST API", app.API.Enabled)
	if app.API.Enabled {
		app.API.Port = promptInt(reader, out, "REST API port", app.API.Port)
		if app.API.Token == "" {
			app.API.Token = newToken()
		}
		app.API.Token = promptString(reader, out, "API bearer token", app.API.Token)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── MQTT Telemetry ──")

	app.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", app.MQTT.Enabled)
	if app.MQTT.Enabled {
		app.MQTT.BrokerURL = promptString(reader, out, "Broker host", app.MQTT.BrokerURL)
		app.MQTT.Port = promptInt(reader, out, "Broker port", app.MQTT.Port)
	}
}

// newToken returns 32 random hex characters.
func newToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
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
