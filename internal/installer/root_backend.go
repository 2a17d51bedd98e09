package installer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/quantmind-br/droidctl/internal/cache"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/security"
	"github.com/quantmind-br/droidctl/internal/session"
	"github.com/quantmind-br/droidctl/internal/shell"
	"github.com/quantmind-br/droidctl/internal/state"
	"github.com/rs/zerolog"
)

const (
	platformVersionCommand = "getprop ro.build.version.release"
	currentUserCommand     = "am get-current-user"
	legacyUserCommand      = `dumpsys activity | grep -E "mUserLru"`
	rootInstallCommand     = "cat %s | pm install --user %s -t -r -S %d"
	streamInstallCommand   = "pm install --user %s -t -r -S %d"
	removeCommand          = "%s rm %s"
)

var (
	// am get-current-user exists from Android 8.0
	currentUserCommandSince = version.Must(version.NewVersion("8.0"))
	userLruRegex            = regexp.MustCompile(`mUserLru:\s*\[([0-9,\s]*)\]`)
)

// RootBackend installs by piping the artifact into pm install in a privileged shell.
// When the shell is a shell.Streamer the artifact bytes travel over its stdin,
// otherwise the shell reads the cached file itself.
type RootBackend struct {
	cache     ArtifactStore
	shell     shell.Shell
	utilBox   *shell.UtilBox
	installer session.PackageInstaller
	logger    *zerolog.Logger
}

// NewRootBackend creates a RootBackend
func NewRootBackend(deps Deps) *RootBackend {
	return &RootBackend{
		cache:     deps.Cache,
		shell:     deps.Shell,
		utilBox:   shell.NewUtilBox(deps.Shell),
		installer: deps.Installer,
		logger:    deps.Log,
	}
}

// Type implements Backend
func (b *RootBackend) Type() core.InstallerType {
	return core.InstallerRoot
}

// PerformInstall implements Backend. It blocks until pm install exits; once the
// shell command has started it runs to completion even if ctx is cancelled.
func (b *RootBackend) PerformInstall(ctx context.Context, item core.InstallItem, st *state.Stream) error {
	if err := st.Emit(item.StatesTo(core.StateInstalling)); err != nil {
		return err
	}

	artifact, err := b.cache.Resolve(ctx, item.InstallFileName)
	if err != nil {
		return fmt.Errorf("resolve artifact for %s: %w", item.PackageName, err)
	}

	log := b.logger.With().
		Str("item_id", item.ID).
		Str("package", item.PackageName.String()).
		Logger()

	user, err := b.currentUser(ctx)
	if err != nil {
		b.fail(item, st, &log, err)
		return fmt.Errorf("determine current user: %w", err)
	}

	streamer, streaming := b.shell.(shell.Streamer)
	var res *shell.Result
	if streaming {
		res, err = b.streamInstall(context.WithoutCancel(ctx), streamer, artifact, user)
	} else {
		cmd := fmt.Sprintf(rootInstallCommand, shell.Quote(artifact.Path), shell.Quote(user), artifact.Size)
		res, err = b.shell.Exec(context.WithoutCancel(ctx), cmd)
	}
	if err != nil {
		b.fail(item, st, &log, err)
		return fmt.Errorf("run pm install: %w", err)
	}
	if !res.IsSuccess() {
		log.Error().
			Int("exit_code", res.ExitCode).
			Str("stdout", res.Stdout()).
			Str("stderr", res.Stderr()).
			Msg("pm install failed")
		st.TryEmit(item.StatesTo(core.StateFailed))
		return nil
	}

	if err := st.Emit(item.StatesTo(core.StateInstalled)); err != nil {
		return err
	}
	log.Info().Str("user", user).Bool("streamed", streaming).Msg("package installed")

	if streaming {
		b.removeCachedArtifact(artifact, &log)
	} else {
		b.removeArtifact(ctx, artifact.Path, &log)
	}
	return nil
}

func (b *RootBackend) streamInstall(ctx context.Context, sh shell.Streamer, artifact *cache.Artifact, user string) (*shell.Result, error) {
	f, err := b.cache.Open(artifact)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return sh.ExecInput(ctx, fmt.Sprintf(streamInstallCommand, shell.Quote(user), artifact.Size), f)
}

func (b *RootBackend) fail(item core.InstallItem, st *state.Stream, log *zerolog.Logger, err error) {
	if errors.Is(err, shell.ErrShellUnavailable) {
		b.utilBox.Invalidate()
	}
	log.Error().Err(err).Msg("privileged install failed")
	st.TryEmit(item.StatesTo(core.StateFailed))
}

// removeArtifact deletes the installed file in the background; the outcome is only logged
func (b *RootBackend) removeArtifact(ctx context.Context, path string, log *zerolog.Logger) {
	box := b.utilBox.Path(context.WithoutCancel(ctx))
	if box == "" {
		log.Debug().Str("path", path).Msg("no toybox or busybox found, leaving artifact in place")
		return
	}
	shell.Submit(b.shell, log, fmt.Sprintf(removeCommand, shell.Quote(box), shell.Quote(path)))
}

// removeCachedArtifact drops the local copy of a streamed artifact; the outcome is only logged
func (b *RootBackend) removeCachedArtifact(artifact *cache.Artifact, log *zerolog.Logger) {
	if err := b.cache.Remove(artifact.Name); err != nil {
		log.Warn().Err(err).Str("artifact", artifact.Name).Msg("failed to remove cached artifact")
		return
	}
	log.Debug().Str("artifact", artifact.Name).Msg("removed cached artifact")
}

// currentUser returns the id of the foreground Android user
func (b *RootBackend) currentUser(ctx context.Context) (string, error) {
	res, err := b.exec(ctx, platformVersionCommand)
	if err != nil {
		return "", err
	}

	release := strings.TrimSpace(res.Stdout())
	modern := true
	if v, perr := version.NewVersion(release); perr == nil {
		modern = v.GreaterThanOrEqual(currentUserCommandSince)
	} else {
		b.logger.Debug().Str("release", release).Msg("unparseable platform version, assuming a current release")
	}

	var user string
	if modern {
		res, err = b.exec(ctx, currentUserCommand)
		if err != nil {
			return "", err
		}
		if len(res.Out) > 0 {
			user = strings.TrimSpace(res.Out[0])
		}
	} else {
		res, err = b.exec(ctx, legacyUserCommand)
		if err != nil {
			return "", err
		}
		user, err = parseUserLru(res.Out)
		if err != nil {
			return "", err
		}
	}

	if err := security.ValidateUserID(user); err != nil {
		return "", err
	}
	return user, nil
}

func (b *RootBackend) exec(ctx context.Context, command string) (*shell.Result, error) {
	res, err := b.shell.Exec(ctx, command)
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("%q exited with code %d: %s", command, res.ExitCode, res.Stderr())
	}
	return res, nil
}

// parseUserLru extracts the most recent user from "mUserLru: [0, 10]"
func parseUserLru(lines []string) (string, error) {
	for _, line := range lines {
		m := userLruRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ids := strings.Split(m[1], ",")
		for i := len(ids) - 1; i >= 0; i-- {
			if id := strings.TrimSpace(ids[i]); id != "" {
				return id, nil
			}
		}
	}
	return "", errors.New("no user list in dumpsys output")
}

// PerformUninstall implements Backend through the standard OS uninstall path
func (b *RootBackend) PerformUninstall(ctx context.Context, item core.InstallItem, st *state.Stream) error {
	return uninstallPackage(ctx, b.installer, b.logger, item, st)
}

// Cleanup implements Backend. The root backend holds no OS handles.
func (b *RootBackend) Cleanup() {}
