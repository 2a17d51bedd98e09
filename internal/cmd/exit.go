package cmd

import (
	"context"
	"errors"

	"github.com/quantmind-br/droidctl/internal/cache"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/installer"
	"github.com/quantmind-br/droidctl/internal/ui"
)

// ExitError carries the process exit code for a failed command
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitWith(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return core.ExitSuccess
	}

	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, context.Canceled), errors.Is(err, ui.ErrCancelled):
		return core.ExitInterrupted
	case errors.Is(err, cache.ErrArtifactNotFound):
		return core.ExitArtifactMissing
	case errors.Is(err, installer.ErrStalled):
		return core.ExitStalled
	default:
		return core.ExitGeneral
	}
}
