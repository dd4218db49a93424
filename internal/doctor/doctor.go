// Package doctor validates ipcmux configuration and worker setup.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/ipcmux/internal/config"
	"github.com/mattjoyce/ipcmux/internal/plugin"
	"github.com/mattjoyce/ipcmux/internal/storage"
	"github.com/mattjoyce/ipcmux/internal/workers"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid       bool    `json:"valid"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	Errors      []Issue `json:"errors,omitempty"`
	Warnings    []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// maxReasonableChannels is where a single poll set starts to look like a mistake.
const maxReasonableChannels = 1024

// Doctor validates configuration against the assembled worker registry.
type Doctor struct {
	cfg      *config.Config
	registry *plugin.Registry
}

// New creates a Doctor from a loaded config and worker registry.
func New(cfg *config.Config, registry *plugin.Registry) *Doctor {
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true, Fingerprint: d.cfg.Fingerprint}

	d.validateWorkerRefs(r)
	d.validateDispatchers(r)
	d.validateAPIConfig(r)
	d.validateJournal(r)
	d.warnNoWorkers(r)
	d.warnDisabledWorkers(r)
	d.warnChannelCapacity(r)
	d.warnClientTimeout(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) workerNames() []string {
	names := make([]string, 0, len(d.cfg.Workers))
	for name := range d.cfg.Workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateWorkerRefs checks that every enabled worker was assembled.
func (d *Doctor) validateWorkerRefs(r *Result) {
	for _, name := range d.workerNames() {
		if !d.cfg.Workers[name].Enabled {
			continue
		}
		if _, ok := d.registry.Get(name); !ok {
			d.addError(r, "workers", "workers."+name, fmt.Sprintf("worker %q is enabled but not available (built-in: %s)",
				name, strings.Join(workers.Names(), ", ")))
		}
	}
}

// validateDispatchers surfaces the startup sanity check.
func (d *Doctor) validateDispatchers(r *Result) {
	err := d.registry.Sanity()
	if err == nil {
		return
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			d.addError(r, "dispatch", "", e.Error())
		}
		return
	}
	d.addError(r, "dispatch", "", err.Error())
}

// validateAPIConfig checks the listen address when the API is on.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	ip := net.ParseIP(host)
	if host != "localhost" && (ip == nil || !ip.IsLoopback()) && len(d.cfg.API.Tokens) == 0 {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("API listens on %q without tokens and relays commands to workers", d.cfg.API.Listen))
	}
}

// validateJournal checks the journal location.
func (d *Doctor) validateJournal(r *Result) {
	if !d.cfg.Journal.Enabled {
		return
	}
	if d.cfg.Journal.Path == "" {
		d.addError(r, "journal", "journal.path", "journal.path is required when the journal is enabled")
		return
	}
	dir := filepath.Dir(d.cfg.Journal.Path)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "journal", "journal.path", fmt.Sprintf("directory %s does not exist and will be created", dir))
	case err != nil:
		d.addError(r, "journal", "journal.path", fmt.Sprintf("cannot stat %s: %v", dir, err))
	case !info.IsDir():
		d.addError(r, "journal", "journal.path", fmt.Sprintf("%s is not a directory", dir))
		return
	}
	if err := storage.CheckLocalFilesystem(d.cfg.Journal.Path); err != nil {
		d.addError(r, "journal", "journal.path", err.Error())
	}
}

func (d *Doctor) warnNoWorkers(r *Result) {
	if len(d.cfg.EnabledWorkers()) == 0 {
		d.addWarning(r, "workers", "workers", "no workers are enabled")
	}
}

func (d *Doctor) warnDisabledWorkers(r *Result) {
	for _, name := range d.workerNames() {
		if !d.cfg.Workers[name].Enabled {
			d.addWarning(r, "workers", "workers."+name, fmt.Sprintf("worker %q is configured but disabled", name))
		}
	}
}

func (d *Doctor) warnChannelCapacity(r *Result) {
	for _, name := range d.workerNames() {
		wc := d.cfg.Workers[name]
		if !wc.Enabled {
			continue
		}
		field := fmt.Sprintf("workers.%s.max_channels", name)
		if wc.MaxChannels > maxReasonableChannels {
			d.addWarning(r, "workers", field,
				fmt.Sprintf("%d channels in one poll set; one dispatcher serves them all serially", wc.MaxChannels))
		}
		if d.cfg.API.Enabled && wc.MaxChannels == 1 {
			d.addWarning(r, "workers", field, "the API relay uses the only channel; no other caller can register")
		}
	}
}

func (d *Doctor) warnClientTimeout(r *Result) {
	if d.cfg.Client.Timeout > 0 && d.cfg.Client.Timeout < 100*time.Millisecond {
		d.addWarning(r, "client", "client.timeout",
			fmt.Sprintf("timeout %s is short; a slow reply breaks the channel for good", d.cfg.Client.Timeout))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
