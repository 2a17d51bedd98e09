package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantmind-br/droidctl/internal/cmd"
	"github.com/quantmind-br/droidctl/internal/config"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/logging"
	"github.com/quantmind-br/droidctl/internal/ui"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one droidctl invocation and returns the process exit code.
// DROIDCTL_CONFIG names an explicit configuration file.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(os.Getenv("DROIDCTL_CONFIG"))
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return core.ExitGeneral
	}

	ui.InitColors(cfg.Logging.Color)
	log := logging.NewLogger(logging.Config{
		Level:   cfg.Logging.Level,
		LogFile: cfg.Paths.LogFile,
		Color:   cfg.Logging.Color,
		Console: stderr,
	})

	rootCmd := cmd.NewRootCmd(cfg, log, version)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintln(stderr, ui.SprintError("%v", err))
		return cmd.ExitCode(err)
	}
	return core.ExitSuccess
}
