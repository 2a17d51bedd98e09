package cmd

import (
	"github.com/quantmind-br/droidctl/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd(cfg *config.Config, log *zerolog.Logger, version string) *cobra.Command {
	return newRootCmd(cfg, log, version, &Env{})
}

func newRootCmd(cfg *config.Config, log *zerolog.Logger, version string, env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "droidctl",
		Short: "Android package installation orchestrator",
		Long: `droidctl installs and removes Android packages from a local release cache,
either through package installer sessions or through a privileged shell.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewInstallCmd(cfg, log, env))
	cmd.AddCommand(NewUninstallCmd(cfg, log, env))
	cmd.AddCommand(NewStatusCmd(cfg, log))
	cmd.AddCommand(NewHistoryCmd(cfg, log))
	cmd.AddCommand(NewCacheCmd(cfg, log, env))
	cmd.AddCommand(NewDoctorCmd(cfg, log, env))
	cmd.AddCommand(NewCompletionCmd(log))
	cmd.AddCommand(NewVersionCmd(version))

	return cmd
}
