package main

import (
	"time"

	"github.com/luinbytes/linkdedup/journal"
	"github.com/luinbytes/linkdedup/tui"
	"github.com/spf13/cobra"
)

func newJournalCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent merge runs",
		Long: `Journal lists the most recent merge runs: which paths were linked to which
kept copy, and which were left alone and why. Merges cannot be undone; the
journal is a record, not a backup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.cfg.JournalPath()
			if err != nil {
				return err
			}
			j := journal.Open(path)
			runs, corrupt, err := j.Recent(limit)
			if err != nil {
				return err
			}
			if corrupt > 0 {
				a.log.Warn().Int("lines", corrupt).Str("journal", j.Path()).Msg("Skipped unreadable journal entries")
			}

			out := newPrinter(cmd.OutOrStdout(), a.noColor)
			if len(runs) == 0 {
				out.printf("No merge runs recorded in %s\n", j.Path())
				return nil
			}
			for _, run := range runs {
				printRun(out, run)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show (0 = all)")
	return cmd
}

func printRun(out *printer, run journal.Run) {
	out.printf("\n%s%s  %s  %s\n", out.emoji("💾"), out.header.Render(run.Started.Local().Format(time.DateTime)), run.ID, run.Strategy)
	out.printf("    Linked %d, failed %d, reclaimed %s\n", run.Linked, run.Failed, tui.FormatBytes(run.Reclaimed))
	for _, m := range run.Merges {
		out.printf("    keep %s\n", m.Master)
		for _, p := range m.Linked {
			out.printf("      %s%s %s\n", out.emoji("🔗"), out.link.Render("LINKED"), p)
		}
		for _, f := range m.Failed {
			out.printf("      %s%s [%s] %s: %s\n", out.emoji("✗"), out.warn.Render("FAILED"), f.Kind, f.Path, f.Message)
		}
	}
}
