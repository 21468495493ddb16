package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/raine/listing-agent/config"
)

// isInteractiveTerminal returns true if both stdin and stdout are TTYs.
// This is used to determine if we can run the interactive setup wizard.
func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// runSetupWizard runs an interactive wizard to collect required configuration.
// Returns true if setup was successful and the agent should continue starting.
func runSetupWizard() bool {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	fmt.Println()
	fmt.Println(titleStyle.Render("🏷  Listing Agent - First-time Setup"))
	fmt.Println()

	serviceURL := os.Getenv("LISTING_SERVICE_URL")
	agentID := os.Getenv("ELEVENLABS_AGENT_ID")
	apiKey := os.Getenv("ELEVENLABS_API_KEY")

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listing service URL").
				Description("Base URL of the service that analyzes photos and prices listings").
				Placeholder("http://localhost:8000").
				Value(&serviceURL).
				Validate(validateServiceURL),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("ElevenLabs agent ID").
				Description("Conversational AI → your agent → copy the agent ID").
				Value(&agentID).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("agent ID is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("ElevenLabs API key (optional)").
				Description("Only needed for private agents").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	values := map[string]string{
		"LISTING_SERVICE_URL": strings.TrimSpace(serviceURL),
		"ELEVENLABS_AGENT_ID": strings.TrimSpace(agentID),
		"ELEVENLABS_API_KEY":  strings.TrimSpace(apiKey),
		"LISTING_STORE_KEY":   os.Getenv("LISTING_STORE_KEY"),
	}
	// Generate the transcript encryption passphrase automatically
	if values["LISTING_STORE_KEY"] == "" {
		values["LISTING_STORE_KEY"] = generateStoreKey()
	}

	configPath, err := config.FilePath()
	if err == nil {
		err = config.WriteEnvFile(configPath, values)
	}
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		waitOnWindows()
		return false
	}

	// Set values in current process
	for k, v := range values {
		os.Setenv(k, v)
	}

	successStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	pathStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + configPath))
	fmt.Println()

	return true
}

func validateServiceURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("URL is required")
	}
	u, err := url.ParseRequestURI(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

func generateStoreKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based if crypto/rand fails (unlikely)
		return fmt.Sprintf("listing-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// waitOnWindows pauses execution on Windows so users can see error messages
// before the console window closes.
func waitOnWindows() {
	if runtime.GOOS == "windows" {
		fmt.Println()
		fmt.Println("Press Enter to exit...")
		fmt.Scanln()
	}
}

// fatalWithWait logs a fatal error and waits on Windows before exiting.
func fatalWithWait(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Error().Msg(msg)
	waitOnWindows()
	os.Exit(1)
}
