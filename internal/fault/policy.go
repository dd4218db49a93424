package fault

import (
	"log/slog"
	"os"
	"sync"
)

// ExitCode is used when the default policy aborts the process (EX_SOFTWARE).
const ExitCode = 70

// Policy maps integrity violations to process abort.
type Policy struct {
	Logger *slog.Logger
	// Abort terminates the process. Tests replace it with a recorder.
	Abort func(err error)

	once sync.Once
}

// NewPolicy returns the production policy: log and exit.
func NewPolicy(logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		Logger: logger,
		Abort:  func(error) { os.Exit(ExitCode) },
	}
}

// Handle aborts on integrity violations and returns every other error unchanged.
// Only the first violation reaches Abort.
func (p *Policy) Handle(err error) error {
	if err == nil {
		return nil
	}
	if !IsIntegrity(err) {
		return err
	}
	p.once.Do(func() {
		p.Logger.Error("integrity violation, aborting",
			"kind", KindOf(err).String(),
			"error", err,
		)
		if p.Abort != nil {
			p.Abort(err)
		}
	})
	return err
}
