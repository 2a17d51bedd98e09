package shell

import (
	"context"
	"fmt"

	"github.com/kballard/go-shellquote"
	"github.com/quantmind-br/droidctl/internal/helpers"
	"github.com/quantmind-br/droidctl/internal/security"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// DefaultRootCommand elevates through su
const DefaultRootCommand = "su -c"

// LocalShell runs commands on this host, elevating through a root command
// unless the process already runs as root.
type LocalShell struct {
	runner  helpers.CommandRunner
	logger  *zerolog.Logger
	elevate []string
	geteuid func() int
}

// NewLocalShell parses rootCommand (e.g. "su -c" or "sudo -n sh -c") and returns a LocalShell
func NewLocalShell(runner helpers.CommandRunner, rootCommand string, log *zerolog.Logger) (*LocalShell, error) {
	if rootCommand == "" {
		rootCommand = DefaultRootCommand
	}
	words, err := shellquote.Split(rootCommand)
	if err != nil {
		return nil, fmt.Errorf("parse root command %q: %w", rootCommand, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("root command %q is empty", rootCommand)
	}
	for _, w := range words {
		if err := security.ValidateCommandArg(w); err != nil {
			return nil, fmt.Errorf("root command %q: %w", rootCommand, err)
		}
	}

	return &LocalShell{
		runner:  runner,
		logger:  log,
		elevate: words,
		geteuid: unix.Geteuid,
	}, nil
}

func (s *LocalShell) argv(command string) []string {
	if s.geteuid() == 0 {
		return []string{"sh", "-c", command}
	}
	argv := make([]string, 0, len(s.elevate)+1)
	argv = append(argv, s.elevate...)
	return append(argv, command)
}

// Exec runs command synchronously
func (s *LocalShell) Exec(ctx context.Context, command string) (*Result, error) {
	argv := s.argv(command)
	if !s.runner.CommandExists(argv[0]) {
		return nil, fmt.Errorf("%w: %s not found", ErrShellUnavailable, argv[0])
	}

	s.logger.Debug().Str("command", command).Msg("executing privileged command")

	stdout, stderr, err := s.runner.RunCommandWithOutput(ctx, argv[0], argv[1:]...)
	code := s.runner.GetExitCode(err)
	if code < 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrShellUnavailable, err)
	}

	return &Result{
		ExitCode: code,
		Out:      splitLines(stdout),
		Err:      splitLines(stderr),
	}, nil
}

// Available reports whether a trivial command succeeds with elevated privileges
func (s *LocalShell) Available(ctx context.Context) bool {
	res, err := s.Exec(ctx, "true")
	return err == nil && res.IsSuccess()
}
