// Package installer drives package installation through interchangeable privileged backends.
package installer

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantmind-br/droidctl/internal/cache"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/session"
	"github.com/quantmind-br/droidctl/internal/shell"
	"github.com/quantmind-br/droidctl/internal/state"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// ErrUnknownInstaller is returned for an installer type with no backend
var ErrUnknownInstaller = errors.New("unknown installer type")

// Backend installs and removes packages for install items.
//
// Every state change a backend causes is emitted into the item's stream, and
// the first emitted state is always Installing or Uninstalling. Returning does
// not imply a terminal state: asynchronous outcomes arrive through the stream.
type Backend interface {
	// Type returns the installer type this backend implements
	Type() core.InstallerType

	// PerformInstall installs the item's cached artifact
	PerformInstall(ctx context.Context, item core.InstallItem, st *state.Stream) error

	// PerformUninstall requests removal of the item's package
	PerformUninstall(ctx context.Context, item core.InstallItem, st *state.Stream) error

	// Cleanup releases OS resources held by the backend. Idempotent; never fails.
	Cleanup()
}

// ArtifactStore resolves, opens and removes cached release files
type ArtifactStore interface {
	Resolve(ctx context.Context, filename string) (*cache.Artifact, error)
	Open(a *cache.Artifact) (afero.File, error)
	Remove(filename string) error
}

// Deps holds the collaborators shared by all backends
type Deps struct {
	Cache     ArtifactStore
	Installer session.PackageInstaller
	Shell     shell.Shell
	Log       *zerolog.Logger

	// InstallerPackage is recorded as the installing app of new sessions
	InstallerPackage string
}

// New returns the backend for t
func New(t core.InstallerType, deps Deps) (Backend, error) {
	if deps.Cache == nil {
		return nil, errors.New("installer: artifact cache is required")
	}
	if deps.Installer == nil {
		return nil, errors.New("installer: package installer is required")
	}
	if deps.Log == nil {
		nop := zerolog.Nop()
		deps.Log = &nop
	}

	switch t {
	case core.InstallerSession:
		return NewSessionBackend(deps), nil
	case core.InstallerRoot:
		if deps.Shell == nil {
			return nil, errors.New("installer: root backend requires a privileged shell")
		}
		return NewRootBackend(deps), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstaller, t)
	}
}
