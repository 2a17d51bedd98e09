package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/quantmind-br/droidctl/internal/config"
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/db"
	"github.com/quantmind-br/droidctl/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command
func NewHistoryCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history ITEM-ID",
		Short: "Show the state transitions of an install item",
		Long:  `Show every state an install item passed through. ITEM-ID may be the short id printed by status.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			database, err := openDB(ctx, cfg)
			if err != nil {
				return exitWith(core.ExitDatabase, err)
			}
			defer database.Close()

			id, err := resolveItemID(ctx, database, args[0])
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					return exitWith(core.ExitInvalidArgs, err)
				}
				return exitWith(core.ExitDatabase, err)
			}

			item, err := database.Get(ctx, id)
			if err != nil {
				return exitWith(core.ExitDatabase, err)
			}
			transitions, err := database.History(ctx, id)
			if err != nil {
				return exitWith(core.ExitDatabase, err)
			}

			log.Debug().Str("item_id", id).Int("transitions", len(transitions)).Msg("item history")

			out := cmd.OutOrStdout()
			if jsonOutput {
				type jsonTransition struct {
					State string `json:"state"`
					At    string `json:"at"`
				}
				payload := struct {
					Item        jsonItem         `json:"item"`
					Transitions []jsonTransition `json:"transitions"`
				}{Item: toJSONItems([]db.Item{*item})[0]}
				for _, tr := range transitions {
					payload.Transitions = append(payload.Transitions, jsonTransition{
						State: tr.State.String(),
						At:    tr.At.Format(time.RFC3339Nano),
					})
				}

				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			}

			ui.PrintHeader(out, fmt.Sprintf("%s (%s)", item.PackageName, item.ID))
			ui.PrintKeyValue(out, "Installer", string(item.Installer))
			if item.FileName != "" {
				ui.PrintKeyValue(out, "Artifact", item.FileName)
			}
			if item.SessionID != 0 {
				ui.PrintKeyValue(out, "Session", fmt.Sprint(item.SessionID))
			}
			ui.PrintKeyValue(out, "State", ui.ColorizeState(item.State))
			fmt.Fprintln(out)

			table := tablewriter.NewTable(out,
				tablewriter.WithHeader([]string{"State", "At"}),
				tablewriter.WithAlignment(tw.MakeAlign(2, tw.AlignLeft)),
				tablewriter.WithSymbols(tw.NewSymbols(tw.StyleLight)),
			)
			for _, tr := range transitions {
				table.Append(ui.ColorizeState(tr.State), tr.At.Local().Format("2006-01-02 15:04:05.000"))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}
