// Package remote provides the command-execution capability for the
// annotation host.
//
// Callers describe remote work as structured argument vectors; shell
// composition and quoting happen in exactly one place (the ssh-backed
// implementation). Nothing outside this package builds shell strings.
package remote

import (
	"context"
	"strings"
)

// Command describes one command to run on the annotation host.
type Command struct {
	// Dir is the remote working directory. Empty runs in the login dir.
	Dir string

	// Argv is the command and its arguments. Each element is quoted
	// individually before it reaches a shell.
	Argv []string

	// Env holds KEY=VALUE pairs prepended to the command.
	Env []string

	// Stdin is piped to the remote command. Used to place file content on
	// the host without echo-quoting games.
	Stdin string
}

// Result is the captured outcome of one remote command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs a command on the annotation host and captures its outcome.
//
// A non-zero remote exit code is reported via Result.ExitCode, not via the
// error return. The error return is reserved for failures to reach the host
// at all.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Transferrer copies directory trees between the local staging area and the
// annotation host.
type Transferrer interface {
	// Push uploads localDir to remoteDir. With delete set, remote files
	// missing locally are removed.
	Push(ctx context.Context, localDir, remoteDir string, delete bool) error

	// Pull downloads remoteDir into localDir. A non-empty includes list
	// restricts the transfer to matching files (directories are always
	// traversed).
	Pull(ctx context.Context, remoteDir, localDir string, includes []string) error
}

// Quote returns s wrapped in single quotes with embedded quotes escaped,
// safe for inclusion in a generated shell script.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\!#&*(){}[]<>|;?~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteAll quotes every element of argv and joins them with spaces.
func QuoteAll(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}
