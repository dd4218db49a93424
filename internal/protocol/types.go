package protocol

import "fmt"

// Status is a CLI result status code.
type Status int

// Status codes follow the Varnish CLI numbering.
const (
	StatusSyntax    Status = 100
	StatusUnknown   Status = 101
	StatusUnimpl    Status = 102
	StatusTooFew    Status = 104
	StatusTooMany   Status = 105
	StatusParam     Status = 106
	StatusAuth      Status = 107
	StatusOK        Status = 200
	StatusTruncated Status = 201
	StatusCant      Status = 300
	StatusComms     Status = 400
	StatusClose     Status = 500
)

// Class is the coarse outcome of a status code.
type Class string

const (
	ClassSuccess Class = "success"
	ClassPartial Class = "partial"
	ClassFailure Class = "failure"
)

// Class classifies s. 2xx codes other than 200 report partial success.
func (s Status) Class() Class {
	switch {
	case s == StatusOK:
		return ClassSuccess
	case s > StatusOK && s < StatusCant:
		return ClassPartial
	default:
		return ClassFailure
	}
}

func (s Status) String() string {
	return fmt.Sprintf("%d", int(s))
}

// Result is the reply to one command.
type Result struct {
	Status Status `json:"status"`
	Text   string `json:"text"`
}

// OK returns a StatusOK result with the given text.
func OK(text string) Result {
	return Result{Status: StatusOK, Text: text}
}

// Errorf returns a result with status s and a formatted text.
func Errorf(s Status, format string, args ...any) Result {
	return Result{Status: s, Text: fmt.Sprintf(format, args...)}
}
