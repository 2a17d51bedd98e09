package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/quantmind-br/droidctl/internal/config"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/db"
	"github.com/quantmind-br/droidctl/internal/security"
	"github.com/quantmind-br/droidctl/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewUninstallCmd creates the uninstall command
func NewUninstallCmd(cfg *config.Config, log *zerolog.Logger, env *Env) *cobra.Command {
	var (
		yes         bool
		timeoutSecs int
		retries     int
	)

	cmd := &cobra.Command{
		Use:   "uninstall [PACKAGE...]",
		Short: "Uninstall packages",
		Long: `Request removal of one or more packages from the device.

Without arguments an interactive selector lists the packages droidctl has
installed before.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeoutSecs)*time.Second)
			defer cancel()

			rt, err := openRuntime(ctx, cfg, log, env)
			if err != nil {
				return err
			}
			defer rt.Close()

			packages := args
			if len(packages) == 0 {
				pkg, err := selectInstalledPackage(ctx, rt.db)
				if err != nil {
					return err
				}
				packages = []string{pkg}
			}

			items := make([]core.InstallItem, 0, len(packages))
			for _, pkg := range packages {
				if err := security.ValidatePackageName(pkg); err != nil {
					return exitWith(core.ExitInvalidArgs, err)
				}
				items = append(items, core.NewInstallItem(core.PackageName(pkg), ""))
			}

			if !yes {
				ok, err := ui.ConfirmDangerousAction("uninstall", strings.Join(packages, ", "))
				if err != nil {
					return err
				}
				if !ok {
					ui.PrintInfo("Uninstall cancelled")
					return nil
				}
			}

			log.Info().Strs("packages", packages).Msg("starting uninstallation")

			uninstallErr := rt.manager.Uninstall(ctx, items...)
			return settle(ctx, rt, cmd.OutOrStdout(), items, retries, core.ExitUninstallFailed, uninstallErr)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 600, "uninstallation timeout in seconds")
	cmd.Flags().IntVar(&retries, "wait-retries", 0, "extra stall timeouts to wait before giving up on an item")

	return cmd
}

func selectInstalledPackage(ctx context.Context, database *db.DB) (string, error) {
	items, err := database.List(ctx)
	if err != nil {
		return "", exitWith(core.ExitDatabase, fmt.Errorf("list items: %w", err))
	}

	packages := installedPackages(items)
	if len(packages) == 0 {
		return "", exitWith(core.ExitInvalidArgs, errors.New("no installed packages recorded; name the package to uninstall"))
	}

	_, pkg, err := ui.SelectPrompt("Package to uninstall", packages)
	return pkg, err
}

// installedPackages returns the sorted packages whose latest recorded item is installed
func installedPackages(items []db.Item) []string {
	latest := make(map[string]db.Item)
	for _, it := range items {
		if cur, ok := latest[it.PackageName]; !ok || it.UpdatedAt.After(cur.UpdatedAt) {
			latest[it.PackageName] = it
		}
	}

	var out []string
	for pkg, it := range latest {
		if it.State == core.StateInstalled {
			out = append(out, pkg)
		}
	}
	slices.Sort(out)
	return out
}
