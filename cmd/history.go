package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"ratecheck/internal/report"
	"ratecheck/internal/storage"
	"ratecheck/internal/tui/history"
	"ratecheck/internal/tui/styles"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs or show one of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		browse, _ := cmd.Flags().GetBool("tui")

		store, err := storage.Open(historyPath())
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()

		if len(args) == 1 {
			item, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, item)
			}
			report.Render(out, item.Summary)
			return nil
		}

		items, err := store.List(limit)
		if err != nil {
			return err
		}
		switch {
		case browse:
			return history.Run(items)
		case asJSON:
			return writeJSON(out, items)
		}
		renderHistory(out, items)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to list (0 = all)")
	historyCmd.Flags().Bool("json", false, "print JSON instead of a table")
	historyCmd.Flags().Bool("tui", false, "browse runs interactively")
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderHistory(w io.Writer, items []storage.HistoryItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, styles.Subtle.Render("No runs recorded yet."))
		return
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.ColorBorder)).
		Headers("ID", "STARTED", "URL", "REQS", "200", "429", "UNEXP", "CHECKS ✗", "RESULT")

	for _, it := range items {
		s := it.Summary
		result := styles.Success.Render("pass")
		if !s.Passed {
			result = styles.Error.Render("fail")
		}
		t.Row(
			it.ID,
			it.Timestamp.Local().Format(time.DateTime),
			it.Config.URL,
			fmt.Sprint(s.Requests),
			fmt.Sprint(s.Allowed),
			fmt.Sprint(s.Blocked),
			fmt.Sprint(s.Unexpected),
			fmt.Sprint(s.AssertionFailures),
			result,
		)
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w, styles.Subtle.Render("ratecheck history <id> for the full report"))
}
