package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewCompletionCmd creates the completion command
func NewCompletionCmd(log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for droidctl.

To load completions:

Bash:
  $ source <(droidctl completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ droidctl completion bash > /etc/bash_completion.d/droidctl
  # macOS:
  $ droidctl completion bash > $(brew --prefix)/etc/bash_completion.d/droidctl

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:

  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ droidctl completion zsh > "${fpath[1]}/_droidctl"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ droidctl completion fish | source

  # To load completions for each session, execute once:
  $ droidctl completion fish > ~/.config/fish/completions/droidctl.fish

PowerShell:
  PS> droidctl completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> droidctl completion powershell > droidctl.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			shell := args[0]
			out := cmd.OutOrStdout()

			var err error
			switch shell {
			case "bash":
				err = cmd.Root().GenBashCompletion(out)
			case "zsh":
				err = cmd.Root().GenZshCompletion(out)
			case "fish":
				err = cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				err = cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			if err != nil {
				return err
			}

			log.Debug().Str("shell", shell).Msg("generated shell completion")
			return nil
		},
	}

	return cmd
}
