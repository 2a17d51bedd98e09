package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/quantmind-br/droidctl/internal/cache"
	"github.com/quantmind-br/droidctl/internal/config"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/installer"
	"github.com/quantmind-br/droidctl/internal/security"
	"github.com/quantmind-br/droidctl/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type target struct {
	pkg  core.PackageName
	path string
}

// NewInstallCmd creates the install command
func NewInstallCmd(cfg *config.Config, log *zerolog.Logger, env *Env) *cobra.Command {
	var (
		packageName string
		timeoutSecs int
		retries     int
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "install [PACKAGE=]FILE...",
		Short: "Install release artifacts",
		Long: `Install one or more APK release artifacts.

Each argument is PACKAGE=FILE, or a single FILE together with --package.
FILE is a local path that is first imported into the release cache, or the
name of an artifact already in the cache.`,
		Example: `  droidctl install --package com.example.app ./app-1.2.apk
  droidctl install com.example.app=app-1.2.apk org.other.music=music.apk`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := parseTargets(args, packageName)
			if err != nil {
				return exitWith(core.ExitInvalidArgs, err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeoutSecs)*time.Second)
			defer cancel()

			rt, err := openRuntime(ctx, cfg, log, env)
			if err != nil {
				return err
			}
			defer rt.Close()

			progress := cmd.ErrOrStderr()
			if quiet {
				progress = nil
			}

			items := make([]core.InstallItem, 0, len(targets))
			for _, t := range targets {
				artifact, err := stageArtifact(ctx, rt, t.path, progress)
				if err != nil {
					ui.PrintError("%s: %v", t.pkg, err)
					return exitWith(ExitCode(err), err)
				}
				items = append(items, core.NewInstallItem(t.pkg, artifact.Name))
			}

			log.Info().
				Int("items", len(items)).
				Str("installer", string(cfg.InstallerType())).
				Msg("starting installation")

			installErr := rt.manager.Install(ctx, items...)
			return settle(ctx, rt, cmd.OutOrStdout(), items, retries, core.ExitInstallFailed, installErr)
		},
	}

	cmd.Flags().StringVarP(&packageName, "package", "p", "", "package name for a single FILE argument")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 600, "installation timeout in seconds")
	cmd.Flags().IntVar(&retries, "wait-retries", 0, "extra stall timeouts to wait before giving up on an item")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not draw import progress")

	return cmd
}

func parseTargets(args []string, packageName string) ([]target, error) {
	if packageName != "" {
		if len(args) != 1 {
			return nil, errors.New("--package takes exactly one FILE argument")
		}
		if strings.Contains(args[0], "=") {
			return nil, fmt.Errorf("%q: use either --package or PACKAGE=FILE", args[0])
		}
		args = []string{packageName + "=" + args[0]}
	}

	targets := make([]target, 0, len(args))
	for _, arg := range args {
		pkg, path, ok := strings.Cut(arg, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("%q: expected PACKAGE=FILE", arg)
		}
		if err := security.ValidatePackageName(pkg); err != nil {
			return nil, err
		}
		targets = append(targets, target{pkg: core.PackageName(pkg), path: path})
	}
	return targets, nil
}

// stageArtifact imports a local file into the cache, or resolves a bare
// artifact name that is already cached.
func stageArtifact(ctx context.Context, rt *runtime, path string, progress io.Writer) (*cache.Artifact, error) {
	info, err := rt.fs.Stat(path)
	if err != nil || info.IsDir() {
		if strings.ContainsRune(path, '/') {
			return nil, fmt.Errorf("%w: %s", cache.ErrArtifactNotFound, path)
		}
		return rt.cache.Resolve(ctx, path)
	}

	if progress == nil {
		return rt.cache.Import(ctx, path, nil)
	}

	bar := ui.NewProgressBarBytes(progress, info.Size(), "importing "+info.Name())
	artifact, err := rt.cache.Import(ctx, path, bar)
	if err != nil {
		_ = bar.Clear()
		return nil, err
	}
	_ = bar.Finish()
	return artifact, nil
}

// settle waits for every item to reach a final state, prints each outcome and
// folds the results into one error carrying the right exit code.
func settle(ctx context.Context, rt *runtime, out io.Writer, items []core.InstallItem, retries, failCode int, opErr error) error {
	var (
		failed  int
		stalled []error
	)

	for _, item := range items {
		st, err := waitItem(ctx, rt, item.ID, retries)
		ui.PrintState(out, item.StatesTo(st))
		switch {
		case err != nil:
			stalled = append(stalled, err)
		case st == core.StateFailed:
			failed++
		}
	}

	switch {
	case len(stalled) > 0:
		err := errors.Join(stalled...)
		if errors.Is(err, context.Canceled) {
			return exitWith(core.ExitInterrupted, err)
		}
		return exitWith(core.ExitStalled, err)
	case errors.Is(opErr, cache.ErrArtifactNotFound):
		return exitWith(core.ExitArtifactMissing, opErr)
	case failed > 0 && opErr != nil:
		return exitWith(failCode, opErr)
	case failed > 0:
		return exitWith(failCode, fmt.Errorf("%d of %d items failed", failed, len(items)))
	}
	return nil
}

func waitItem(ctx context.Context, rt *runtime, itemID string, retries int) (core.InstallState, error) {
	for attempt := 0; ; attempt++ {
		st, err := rt.manager.Wait(ctx, itemID)
		if err == nil || !errors.Is(err, installer.ErrStalled) || attempt >= retries {
			return st, err
		}
		rt.log.Warn().Err(err).Int("attempt", attempt+1).Msg("item stalled, waiting again")
	}
}
