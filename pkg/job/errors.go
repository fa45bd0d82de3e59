package job

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying job operation failures. Wrap them with
// Errorf so callers can test with errors.Is while keeping context.
var (
	// ErrMissingRequirement indicates the corpus lacks a config file or
	// source files.
	ErrMissingRequirement = errors.New("missing requirement")

	// ErrProcessNotRunning indicates an operation needed a running remote
	// process and found none.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrProcessNotFound indicates no process id is recorded for the job.
	ErrProcessNotFound = errors.New("process not found")

	// ErrJob is a generic remote-command failure.
	ErrJob = errors.New("job error")

	// ErrTransfer indicates a file sync between hosts failed.
	ErrTransfer = errors.New("transfer failed")

	// ErrStorage indicates the durable backend failed.
	ErrStorage = errors.New("storage failed")
)

// Error carries the failure class, the corpus it concerns and any remote
// stderr that explains it.
type Error struct {
	// Kind is one of the sentinel errors above.
	Kind error

	// Corpus is the corpus identifier.
	Corpus string

	// Message is the operator-facing summary.
	Message string

	// Stderr is the captured remote stderr, if any.
	Stderr string

	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Corpus, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Info returns the detail string surfaced to API clients.
func (e *Error) Info() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// IsMissingRequirement reports whether err is a missing-requirement failure.
func IsMissingRequirement(err error) bool {
	return errors.Is(err, ErrMissingRequirement)
}

// IsProcessNotRunning reports whether err is a process-not-running failure.
func IsProcessNotRunning(err error) bool {
	return errors.Is(err, ErrProcessNotRunning)
}

// IsProcessNotFound reports whether err is a process-not-found failure.
func IsProcessNotFound(err error) bool {
	return errors.Is(err, ErrProcessNotFound)
}
