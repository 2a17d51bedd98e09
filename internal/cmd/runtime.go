package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantmind-br/droidctl/internal/cache"
	"github.com/quantmind-br/droidctl/internal/config"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/db"
	"github.com/quantmind-br/droidctl/internal/helpers"
	"github.com/quantmind-br/droidctl/internal/installer"
	"github.com/quantmind-br/droidctl/internal/session"
	"github.com/quantmind-br/droidctl/internal/shell"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Env supplies the platform services commands run against.
// Nil fields are built from the configuration.
type Env struct {
	Fs        afero.Fs
	Runner    helpers.CommandRunner
	Shell     shell.Shell
	Installer session.PackageInstaller
}

// runtime is the service graph of one command invocation
type runtime struct {
	cfg       *config.Config
	log       *zerolog.Logger
	fs        afero.Fs
	cache     *cache.ReleaseCache
	db        *db.DB
	shell     shell.Shell
	installer session.PackageInstaller
	manager   *installer.Manager

	closers []func() error
}

func openRuntime(ctx context.Context, cfg *config.Config, log *zerolog.Logger, env *Env) (rt *runtime, err error) {
	if env == nil {
		env = &Env{}
	}

	rt = &runtime{cfg: cfg, log: log, fs: env.Fs}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	if rt.fs == nil {
		rt.fs = afero.NewOsFs()
	}
	runner := env.Runner
	if runner == nil {
		runner = helpers.NewOSCommandRunner()
	}

	if rt.cache, err = cache.New(rt.fs, cfg.Paths.CacheDir, log); err != nil {
		return rt, err
	}

	if rt.db, err = openDB(ctx, cfg); err != nil {
		return rt, exitWith(core.ExitDatabase, err)
	}
	rt.closers = append(rt.closers, rt.db.Close)

	rt.shell = env.Shell
	if rt.shell == nil {
		if rt.shell, err = newShell(rt.fs, runner, cfg, log); err != nil {
			return rt, err
		}
	}

	rt.installer = env.Installer
	if rt.installer == nil {
		pm, err := session.NewPMInstaller(runner, cfg.Session.DeviceShell, log)
		if err != nil {
			return rt, err
		}
		rt.installer = pm
		// registered before the manager so it closes after backend cleanup
		rt.closers = append(rt.closers, pm.Close)
	}

	backend, err := installer.New(cfg.InstallerType(), installer.Deps{
		Cache:            rt.cache,
		Installer:        rt.installer,
		Shell:            rt.shell,
		Log:              log,
		InstallerPackage: cfg.Installer.InstallerPackage,
	})
	if err != nil {
		return rt, err
	}

	rt.manager = installer.NewManager(backend, rt.db, log, installer.Options{
		Concurrency:  cfg.Installer.Concurrency,
		StallTimeout: cfg.Installer.StallTimeout,
	})
	rt.closers = append(rt.closers, func() error {
		rt.manager.Close()
		return nil
	})

	return rt, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.DBFile), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	database, err := db.New(ctx, cfg.Paths.DBFile)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

func newShell(fs afero.Fs, runner helpers.CommandRunner, cfg *config.Config, log *zerolog.Logger) (shell.Shell, error) {
	switch cfg.Shell.Mode {
	case config.ShellSSH:
		return shell.NewSSHShell(fs, shell.SSHConfig{
			Host:       cfg.Shell.SSH.Host,
			Port:       cfg.Shell.SSH.Port,
			User:       cfg.Shell.SSH.User,
			Password:   cfg.Shell.SSH.Password,
			KeyFile:    cfg.Shell.SSH.KeyFile,
			KnownHosts: cfg.Shell.SSH.KnownHosts,
			Sudo:       cfg.Shell.SSH.Sudo,
			Timeout:    cfg.Shell.SSH.Timeout,
		}, log)
	default:
		return shell.NewLocalShell(runner, cfg.Shell.RootCommand, log)
	}
}

// Close tears the graph down in reverse order of construction
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
