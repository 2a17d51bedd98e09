package installer

import (
	"context"
	"fmt"

	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/security"
	"github.com/quantmind-br/droidctl/internal/session"
	"github.com/quantmind-br/droidctl/internal/state"
	"github.com/rs/zerolog"
)

// uninstallPackage emits Uninstalling and hands removal to the OS.
// It returns once the request is accepted; the outcome reaches st later.
func uninstallPackage(
	ctx context.Context,
	pi session.PackageInstaller,
	log *zerolog.Logger,
	item core.InstallItem,
	st *state.Stream,
) error {
	if err := st.Emit(item.StatesTo(core.StateUninstalling)); err != nil {
		return err
	}

	if err := security.ValidatePackageName(item.PackageName.String()); err != nil {
		return fmt.Errorf("uninstall: %w", err)
	}

	target := statusReceiver(log, item, func(success bool) {
		next := core.StateUninstalled
		if !success {
			next = core.StateFailed
		}
		if !st.TryEmit(item.StatesTo(next)) {
			log.Debug().Str("item_id", item.ID).Stringer("state", next).Msg("late uninstall status ignored")
		}
	})

	if err := pi.Uninstall(ctx, item.PackageName.String(), target); err != nil {
		return fmt.Errorf("request uninstall of %s: %w", item.PackageName, err)
	}

	log.Info().
		Str("item_id", item.ID).
		Str("package", item.PackageName.String()).
		Msg("uninstall requested")
	return nil
}
