package config

import (
	"sort"
	"time"
)

// Config represents the complete ipcmux configuration.
type Config struct {
	Include []string                `yaml:"include,omitempty"`
	Service ServiceConfig           `yaml:"service"`
	Client  ClientConfig            `yaml:"client"`
	Journal JournalConfig           `yaml:"journal"`
	API     APIConfig               `yaml:"api,omitempty"`
	Workers map[string]WorkerConfig `yaml:"workers"`

	// SourceFiles lists every file that contributed to this config, root first.
	SourceFiles []string `yaml:"-"`
	// Fingerprint is the BLAKE3 digest of SourceFiles' contents.
	Fingerprint string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`
	PIDFile  string `yaml:"pid_file"`
}

// ClientConfig tunes the channel client.
type ClientConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// JournalConfig defines the command journal.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention,omitempty"`
}

// APIConfig defines HTTP status API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Tokens gate every endpoint except /healthz and /openapi.json. With
	// none configured the API is open.
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken is one bearer token and the scopes it grants.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WorkerConfig defines configuration for a single worker.
type WorkerConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxChannels int  `yaml:"max_channels,omitempty"`
}

// Defaults returns a Config with default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "ipcmux",
			LogLevel: "info",
			PIDFile:  "./data/ipcmux.pid",
		},
		Client: ClientConfig{
			Timeout: 5 * time.Second,
		},
		Journal: JournalConfig{
			Enabled:   false,
			Path:      "./data/journal.db",
			Retention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8089",
		},
		Workers: map[string]WorkerConfig{
			"echo":   {Enabled: true},
			"status": {Enabled: true},
		},
	}
}

// EnabledWorkers returns the names of enabled workers, sorted.
func (c *Config) EnabledWorkers() []string {
	var names []string
	for name, w := range c.Workers {
		if w.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
