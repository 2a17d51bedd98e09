package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/quantmind-br/droidctl/internal/cache"
	"github.com/quantmind-br/droidctl/internal/config"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewCacheCmd creates the cache command group
func NewCacheCmd(cfg *config.Config, log *zerolog.Logger, env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the release artifact cache",
	}

	cmd.AddCommand(newCacheListCmd(cfg, log, env))
	cmd.AddCommand(newCacheCleanCmd(cfg, log, env))

	return cmd
}

func openCache(cfg *config.Config, log *zerolog.Logger, env *Env) (*cache.ReleaseCache, error) {
	var fs afero.Fs = afero.NewOsFs()
	if env != nil && env.Fs != nil {
		fs = env.Fs
	}
	return cache.New(fs, cfg.Paths.CacheDir, log)
}

func newCacheListCmd(cfg *config.Config, log *zerolog.Logger, env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openCache(cfg, log, env)
			if err != nil {
				return err
			}

			artifacts, err := c.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(artifacts) == 0 {
				fmt.Fprintf(out, "Cache %s is empty\n", c.Dir())
				return nil
			}

			table := tablewriter.NewTable(out,
				tablewriter.WithHeader([]string{"Artifact", "Size", "Modified"}),
				tablewriter.WithAlignment(tw.MakeAlign(3, tw.AlignLeft)),
				tablewriter.WithSymbols(tw.NewSymbols(tw.StyleNone)),
			)
			for _, a := range artifacts {
				table.Append(a.Name, humanize.IBytes(uint64(a.Size)), a.ModTime.Local().Format("2006-01-02 15:04"))
			}
			table.Render()
			return nil
		},
	}
}

func newCacheCleanCmd(cfg *config.Config, log *zerolog.Logger, env *Env) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale cached artifacts",
		Long:  `Remove cached artifacts not modified within --older-than (default: cache.cleanup_after).`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.Cache.CleanupAfter
			}
			if olderThan < 0 {
				return exitWith(core.ExitInvalidArgs, fmt.Errorf("--older-than must not be negative"))
			}

			c, err := openCache(cfg, log, env)
			if err != nil {
				return err
			}

			removed, err := c.CleanUp(olderThan)
			log.Info().Int("removed", removed).Dur("older_than", olderThan).Msg("cache cleaned")
			fmt.Fprintln(cmd.OutOrStdout(), ui.SprintSuccess("Removed %d artifact(s) older than %s", removed, olderThan))
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold, e.g. 72h")

	return cmd
}
