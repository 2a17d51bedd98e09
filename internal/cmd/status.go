package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
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

// NewStatusCmd creates the status command
func NewStatusCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		jsonOutput  bool
		stateFilter string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "status [QUERY]",
		Short: "Show recorded install items",
		Long:  `List install items recorded by droidctl, newest first. QUERY fuzzy-matches package names.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			database, err := openDB(ctx, cfg)
			if err != nil {
				return exitWith(core.ExitDatabase, err)
			}
			defer database.Close()

			items, err := database.List(ctx)
			if err != nil {
				return exitWith(core.ExitDatabase, fmt.Errorf("list items: %w", err))
			}

			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			items, err = filterItems(items, query, stateFilter)
			if err != nil {
				return exitWith(core.ExitInvalidArgs, err)
			}
			if limit > 0 && len(items) > limit {
				items = items[:limit]
			}

			log.Debug().Int("items", len(items)).Msg("listing install items")

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(toJSONItems(items))
			}

			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No install items recorded")
				return nil
			}

			printItemTable(cmd.OutOrStdout(), items)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().StringVar(&stateFilter, "state", "", "only items in this state (queued, installing, installed, uninstalling, uninstalled, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n items")

	return cmd
}

// filterItems keeps items whose package fuzzy-matches query and whose state is stateName.
// Order follows the input; empty arguments do not filter.
func filterItems(items []db.Item, query, stateName string) ([]db.Item, error) {
	if stateName != "" {
		want, err := core.ParseInstallState(stateName)
		if err != nil {
			return nil, err
		}
		kept := items[:0:0]
		for _, it := range items {
			if it.State == want {
				kept = append(kept, it)
			}
		}
		items = kept
	}

	if query == "" {
		return items, nil
	}

	names := make([]string, 0, len(items))
	seen := make(map[string]bool)
	for _, it := range items {
		if !seen[it.PackageName] {
			seen[it.PackageName] = true
			names = append(names, it.PackageName)
		}
	}

	match := make(map[string]bool)
	for _, name := range ui.FuzzyFilter(query, names) {
		match[name] = true
	}

	kept := items[:0:0]
	for _, it := range items {
		if match[it.PackageName] {
			kept = append(kept, it)
		}
	}
	return kept, nil
}

type jsonItem struct {
	ID          string `json:"id"`
	PackageName string `json:"package_name"`
	FileName    string `json:"file_name,omitempty"`
	Installer   string `json:"installer"`
	State       string `json:"state"`
	SessionID   int    `json:"session_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toJSONItems(items []db.Item) []jsonItem {
	out := make([]jsonItem, 0, len(items))
	for _, it := range items {
		out = append(out, jsonItem{
			ID:          it.ID,
			PackageName: it.PackageName,
			FileName:    it.FileName,
			Installer:   string(it.Installer),
			State:       it.State.String(),
			SessionID:   it.SessionID,
			CreatedAt:   it.CreatedAt.Format(time.RFC3339),
			UpdatedAt:   it.UpdatedAt.Format(time.RFC3339),
		})
	}
	return out
}

func printItemTable(w io.Writer, items []db.Item) {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader([]string{"Package", "State", "Artifact", "Installer", "Updated", "ID"}),
		tablewriter.WithAlignment(tw.MakeAlign(6, tw.AlignLeft)),
		tablewriter.WithSymbols(tw.NewSymbols(tw.StyleNone)),
	)

	for _, it := range items {
		artifact := it.FileName
		if artifact == "" {
			artifact = "-"
		}
		table.Append(
			it.PackageName,
			ui.ColorizeState(it.State),
			artifact,
			string(it.Installer),
			it.UpdatedAt.Local().Format("2006-01-02 15:04"),
			shortID(it.ID),
		)
	}

	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveItemID expands a unique id prefix, as printed by status, to a full id
func resolveItemID(ctx context.Context, database *db.DB, prefix string) (string, error) {
	items, err := database.List(ctx)
	if err != nil {
		return "", err
	}

	var found []string
	for _, it := range items {
		if it.ID == prefix {
			return it.ID, nil
		}
		if len(prefix) >= 4 && strings.HasPrefix(it.ID, prefix) {
			found = append(found, it.ID)
		}
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %s", db.ErrNotFound, prefix)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("item id prefix %q is ambiguous", prefix)
	}
}
