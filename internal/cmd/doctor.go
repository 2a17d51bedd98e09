package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/quantmind-br/droidctl/internal/config"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/shell"
	"github.com/quantmind-br/droidctl/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewDoctorCmd creates the doctor command
func NewDoctorCmd(cfg *config.Config, log *zerolog.Logger, env *Env) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and device access",
		Long:  `Check directories, the item database, privileged shell access and the selected installer backend.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			d := &doctor{out: out}

			ui.PrintHeader(out, "Directories")
			for _, dir := range []struct{ name, path string }{
				{"Data directory", cfg.Paths.DataDir},
				{"Database directory", filepath.Dir(cfg.Paths.DBFile)},
				{"Cache directory", cfg.Paths.CacheDir},
			} {
				d.check(dir.name, checkDirectory(dir.path), dir.path)
			}

			ui.PrintHeader(out, "Services")
			rt, err := openRuntime(ctx, cfg, log, env)
			if err != nil {
				d.check("Runtime", err, "")
				return d.result()
			}
			defer rt.Close()

			items, err := rt.db.List(ctx)
			d.check("Database", err, fmt.Sprintf("%s (%d items)", rt.db.Path(), len(items)))

			if rt.shell.Available(ctx) {
				d.check("Privileged shell", nil, cfg.Shell.Mode)
			} else {
				d.check("Privileged shell", shell.ErrShellUnavailable, cfg.Shell.Mode)
			}

			ui.PrintHeader(out, fmt.Sprintf("Installer (%s)", cfg.InstallerType()))
			switch cfg.InstallerType() {
			case core.InstallerRoot:
				if _, ok := rt.shell.(shell.Streamer); ok {
					d.check("Artifact transfer", nil, "streamed over the remote shell's stdin")
					break
				}
				box := shell.NewUtilBox(rt.shell).Path(ctx)
				if box == "" {
					d.warn("Utility box", "neither toybox nor busybox found; cached artifacts are not removed after install")
				} else {
					d.check("Utility box", nil, box)
				}
			default:
				if rt.installer.SupportsUserActionSuppression(ctx) {
					d.check("Silent install", nil, "user action can be suppressed")
				} else {
					d.warn("Silent install", "the device will ask for confirmation on every install")
				}
			}

			log.Debug().Int("issues", d.issues).Int("warnings", d.warnings).Msg("doctor finished")
			return d.result()
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time allowed for device checks")

	return cmd
}

type doctor struct {
	out      io.Writer
	issues   int
	warnings int
}

func (d *doctor) check(name string, err error, detail string) {
	if err != nil {
		d.issues++
		fmt.Fprintln(d.out, ui.SprintError("%s: %v", name, err))
		return
	}
	fmt.Fprintln(d.out, ui.SprintSuccess("%s: %s", name, detail))
}

func (d *doctor) warn(name, detail string) {
	d.warnings++
	fmt.Fprintf(d.out, "%s %s: %s\n", ui.Warning.Sprint("!"), name, detail)
}

func (d *doctor) result() error {
	ui.PrintHeader(d.out, "Summary")
	if d.issues > 0 {
		fmt.Fprintln(d.out, ui.SprintError("%d issue(s), %d warning(s)", d.issues, d.warnings))
		return fmt.Errorf("doctor found %d issue(s)", d.issues)
	}
	fmt.Fprintln(d.out, ui.SprintSuccess("All checks passed (%d warning(s))", d.warnings))
	return nil
}

// checkDirectory creates dir when missing and reports whether it is writable
func checkDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
