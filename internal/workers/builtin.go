package workers

import (
	"sort"

	"github.com/mattjoyce/ipcmux/internal/plugin"
)

// Builtin returns the handler of the built-in worker called name.
func Builtin(name string, reg *plugin.Registry) (plugin.Handler, bool) {
	switch name {
	case "echo":
		return Echo{}, true
	case "status":
		return NewStatus(reg), true
	}
	return nil, false
}

// Names lists the built-in workers.
func Names() []string {
	names := []string{"echo", "status"}
	sort.Strings(names)
	return names
}
