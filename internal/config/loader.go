package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/ipcmux/internal/auth"
	"github.com/mattjoyce/ipcmux/internal/fault"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// Files named in the include array are merged over the root file in order.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg := &Config{}
	if err := loadFile(cfg, absPath, map[string]bool{}); err != nil {
		return nil, err
	}

	fingerprint, err := Fingerprint(cfg.SourceFiles)
	if err != nil {
		return nil, err
	}
	cfg.Fingerprint = fingerprint

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fault.Wrap(fault.KindConfig, "config.Load", fmt.Errorf("invalid configuration: %w", err))
	}
	return cfg, nil
}

// Parse decodes a single YAML document without includes.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fault.Wrap(fault.KindConfig, "config.Parse", fmt.Errorf("invalid configuration: %w", err))
	}
	return cfg, nil
}

// loadFile decodes path into cfg and then its includes. Decoding into the
// same value merges: scalars are overwritten and worker maps gain keys.
func loadFile(cfg *Config, path string, visited map[string]bool) error {
	if visited[path] {
		return fmt.Errorf("include cycle detected at %s", path)
	}
	visited[path] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.Include = nil
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.SourceFiles = append(cfg.SourceFiles, path)

	includes := cfg.Include
	baseDir := filepath.Dir(path)
	for i, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(baseDir, inc)
		}
		if _, err := os.Stat(inc); err != nil {
			return fmt.Errorf("include[%d]: file not found: %s", i, inc)
		}
		if err := loadFile(cfg, inc, visited); err != nil {
			return fmt.Errorf("include[%d]: %w", i, err)
		}
	}
	cfg.Include = includes
	return nil
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.PIDFile == "" {
		cfg.Service.PIDFile = defaults.Service.PIDFile
	}
	if cfg.Client.Timeout == 0 {
		cfg.Client.Timeout = defaults.Client.Timeout
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}
	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = defaults.Journal.Retention
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Workers == nil {
		cfg.Workers = defaults.Workers
	}
}

// interpolateEnv replaces ${VAR} with the value of VAR. Unset variables are
// left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	for field, value := range map[string]string{
		"service.name":     cfg.Service.Name,
		"service.log_file": cfg.Service.LogFile,
		"service.pid_file": cfg.Service.PIDFile,
		"journal.path":     cfg.Journal.Path,
		"api.listen":       cfg.API.Listen,
	} {
		if m := envVarPattern.FindStringSubmatch(value); m != nil {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
		}
	}

	if cfg.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout must be positive (got %s)", cfg.Client.Timeout)
	}
	if cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must be positive (got %s)", cfg.Journal.Retention)
	}

	for i, tok := range cfg.API.Tokens {
		if m := envVarPattern.FindStringSubmatch(tok.Token); m != nil {
			return fmt.Errorf("api.tokens[%d].token: environment variable ${%s} is not set", i, m[1])
		}
		if strings.TrimSpace(tok.Token) == "" {
			return fmt.Errorf("api.tokens[%d].token is empty", i)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.tokens[%d]: at least one scope is required", i)
		}
		for _, scope := range tok.Scopes {
			if !auth.KnownScope(scope) {
				return fmt.Errorf("api.tokens[%d]: unknown scope %q", i, scope)
			}
		}
	}

	names := make([]string, 0, len(cfg.Workers))
	for name := range cfg.Workers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w := cfg.Workers[name]
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("workers: empty worker name")
		}
		if w.MaxChannels < 0 {
			return fmt.Errorf("workers.%s.max_channels must not be negative (got %d)", name, w.MaxChannels)
		}
	}
	return nil
}
