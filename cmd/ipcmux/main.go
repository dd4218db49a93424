package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/ipcmux/internal/api"
	"github.com/mattjoyce/ipcmux/internal/auth"
	"github.com/mattjoyce/ipcmux/internal/config"
	"github.com/mattjoyce/ipcmux/internal/doctor"
	"github.com/mattjoyce/ipcmux/internal/host"
	"github.com/mattjoyce/ipcmux/internal/lock"
	"github.com/mattjoyce/ipcmux/internal/log"
	"github.com/mattjoyce/ipcmux/internal/protocol"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "check", "doctor":
		return runCheck(args)
	case "send":
		return runSend(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`ipcmux - in-process command dispatch over local socket channels

Usage:
  ipcmux <command> [flags]

Commands:
  start               Run the host in the foreground
  check               Validate configuration and worker setup
  send WORKER CMD...  Start the host, send one command, print the result
  watch               Live view of a running host (needs api.enabled)
  version             Show version information
  help                Show this help message

Flags:
  --config PATH       Configuration file or directory
                      (default: $IPCMUX_CONFIG, then ./config.yaml, then built-in defaults)
`)
}

// loadConfig resolves and loads the configuration. With no path and no
// config file in sight the built-in defaults are used.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("IPCMUX_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path == "" {
		return config.Parse(nil)
	}
	return config.Load(path)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWithOptions(log.Options{Level: cfg.Service.LogLevel, File: cfg.Service.LogFile})
	logger := log.WithComponent("main")
	logger.Info("ipcmux starting",
		"version", version,
		"service", cfg.Service.Name,
		"config_files", cfg.SourceFiles,
		"config_fingerprint", cfg.Fingerprint,
	)

	pidLock, err := lock.Acquire(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := host.New(ctx, cfg, host.Options{Logger: log.WithComponent("host")})
	if err != nil {
		logger.Error("failed to assemble host", "error", err)
		return 1
	}
	defer func() {
		stop()
		h.Drain()
		_ = h.Close()
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		var jr api.JournalReader
		if h.Journal() != nil {
			jr = h.Journal()
		}
		tokens := make([]auth.Token, 0, len(cfg.API.Tokens))
		for _, t := range cfg.API.Tokens {
			tokens = append(tokens, auth.Token{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer = api.New(api.Config{Listen: cfg.API.Listen, Tokens: tokens}, h.Registry(), h.Relay(), jr, h.Gatherer(), log.WithComponent("api")).
			WithEvents(h.Events())
	}

	if err := h.Start(ctx); err != nil {
		logger.Error("failed to start workers", "error", err)
		return 1
	}

	errCh := make(chan error, 1)
	if apiServer != nil {
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}
	go func() {
		if err := h.Wait(ctx); err != nil {
			errCh <- err
		}
	}()

	logger.Info("ipcmux running (press Ctrl+C to stop)")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		return 1
	}

	logger.Info("ipcmux stopped")
	return 0
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	log.Setup("ERROR")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Assemble workers without side effects: no journal file, no relay channels.
	dry := *cfg
	dry.Journal.Enabled = false
	dry.API.Enabled = false
	h, err := host.New(context.Background(), &dry, host.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to assemble workers: %v\n", err)
		return 1
	}
	defer h.Close()

	result := doctor.New(cfg, h.Registry()).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	timeout := fs.Duration("timeout", 0, "Reply timeout (overrides client.timeout)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: ipcmux send [--config PATH] [--timeout D] WORKER COMMAND...")
		return 1
	}
	worker := fs.Arg(0)
	command := strings.Join(fs.Args()[1:], " ")

	log.Setup("ERROR")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *timeout > 0 {
		cfg.Client.Timeout = *timeout
	}
	cfg.API.Enabled = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := host.New(ctx, cfg, host.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to assemble host: %v\n", err)
		return 1
	}
	defer func() {
		cancel()
		h.Drain()
		_ = h.Close()
	}()

	if _, ok := h.Registry().Get(worker); !ok {
		fmt.Fprintf(os.Stderr, "Unknown worker %q (enabled: %s)\n", worker, strings.Join(cfg.EnabledWorkers(), ", "))
		return 1
	}
	handle, err := h.Register(worker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open channel to %q: %v\n", worker, err)
		return 1
	}
	if err := h.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start workers: %v\n", err)
		return 1
	}

	res, err := handle.Sendf(ctx, "%s", command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
		return 1
	}

	fmt.Println(res.Text)
	if res.Status.Class() != protocol.ClassSuccess {
		fmt.Fprintf(os.Stderr, "status %d (%s)\n", int(res.Status), res.Status.Class())
		return 2
	}
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: ipcmux version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("ipcmux %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}
