package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/ipcmux/internal/tui/watch"
)

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Configuration file or directory")
	apiURL := fs.String("api-url", "", "Host API URL (default: http://<api.listen>)")
	token := fs.String("token", os.Getenv("IPCMUX_API_TOKEN"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	url, err := watchURL(*apiURL, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(url, *token))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// watchURL returns the explicit URL, or one built from the configured
// listen address.
func watchURL(explicit, configPath string) (string, error) {
	if explicit != "" {
		return strings.TrimRight(explicit, "/"), nil
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return "", err
	}
	if !cfg.API.Enabled {
		return "", fmt.Errorf("api is disabled in the configuration; enable it or pass --api-url")
	}
	return "http://" + cfg.API.Listen, nil
}
