// Package shell runs command lines in a privileged shell on the managed host.
package shell

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// ErrShellUnavailable means no privileged shell could be obtained
var ErrShellUnavailable = errors.New("privileged shell unavailable")

// Result is the outcome of a command that ran to completion
type Result struct {
	ExitCode int
	Out      []string
	Err      []string
}

// IsSuccess reports whether the command exited with status 0
func (r *Result) IsSuccess() bool {
	return r != nil && r.ExitCode == 0
}

// Stdout returns the captured output joined by newlines
func (r *Result) Stdout() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Out, "\n")
}

// Stderr returns the captured error output joined by newlines
func (r *Result) Stderr() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Err, "\n")
}

// Shell executes command lines with elevated privileges.
// A non-zero exit status is reported through Result, never as an error.
type Shell interface {
	Exec(ctx context.Context, command string) (*Result, error)
	Available(ctx context.Context) bool
}

// Streamer is a Shell on a host that cannot read this host's files.
// Payloads reach it through the stdin of ExecInput.
type Streamer interface {
	Shell
	ExecInput(ctx context.Context, command string, r io.Reader) (*Result, error)
}

// Submit runs command in the background. Failures are logged only.
func Submit(sh Shell, log *zerolog.Logger, command string) {
	go func() {
		res, err := sh.Exec(context.Background(), command)
		if err != nil {
			log.Warn().Err(err).Str("command", command).Msg("background shell command failed")
			return
		}
		if !res.IsSuccess() {
			log.Warn().
				Int("exit_code", res.ExitCode).
				Str("command", command).
				Str("stderr", res.Stderr()).
				Msg("background shell command exited with error")
			return
		}
		log.Debug().Str("command", command).Msg("background shell command finished")
	}()
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
