package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/luinbytes/linkdedup/dedup"
	"github.com/luinbytes/linkdedup/journal"
	"github.com/luinbytes/linkdedup/logging"
	"github.com/luinbytes/linkdedup/tui"
	"github.com/spf13/cobra"
)

type mergeFlags struct {
	tui bool
	yes bool
}

func addMergeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("keep", "", "Which copy to keep: first, oldest, newest or path:<fragment>")
	f.String("strategy", "", "How a copy is replaced: direct (remove, then link) or backup (rename aside, link, then remove)")
	f.Bool("rehash", true, "Re-hash every file right before replacing it")
	f.Bool("dry-run", false, "Verify and report without changing anything")
}

func newMergeCmd(a *app) *cobra.Command {
	var flags mergeFlags
	cmd := &cobra.Command{
		Use:   "merge [directories...]",
		Short: "Replace identical files with hardlinks to one copy",
		Long: `Merge scans the given directories and replaces every redundant copy with a
hardlink to the copy that is kept. With --tui the groups and the copy to keep
are chosen interactively; otherwise the --keep policy decides and a summary
is confirmed before anything is touched.

A redundant path is removed before the link is created. With the direct
strategy a failure in between leaves that path missing (its content is still
reachable through the kept copy). The backup strategy renames the path aside
first and restores it if linking fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			roots, err := a.roots(args)
			if err != nil {
				return err
			}
			result, err := a.scan(cmd, roots)
			if err != nil {
				return err
			}

			out := newPrinter(cmd.OutOrStdout(), a.noColor)
			pending := result.Groups.Pending()
			if len(pending) == 0 {
				out.printf("%sNothing to merge.\n", out.emoji("✅"))
				return nil
			}

			var reqs []dedup.MergeRequest
			if flags.tui {
				if !interactive(cmd.InOrStdin(), cmd.OutOrStdout()) {
					return errors.New("--tui needs an interactive terminal")
				}
				reqs, err = tui.Run(pending.Sorted(), a.fs, a.cfg.KeepPolicy())
				if err != nil {
					return fmt.Errorf("selection UI failed: %w", err)
				}
			} else {
				reqs = dedup.SelectAll(a.fs, pending, a.cfg.KeepPolicy())
				out.printScanReport(a.fs, result, a.cfg.KeepPolicy())
				out.printPlan(reqs)
				if !flags.yes && !a.cfg.Merge.DryRun {
					ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Proceed?")
					if err != nil {
						return err
					}
					if !ok {
						out.printf("Aborted; nothing was changed.\n")
						return nil
					}
				}
			}
			if len(reqs) == 0 {
				out.printf("Nothing selected; nothing was changed.\n")
				return nil
			}

			return a.merge(contextOf(cmd), out, result.Roots, reqs)
		},
	}
	addScanFlags(cmd)
	addMergeFlags(cmd)
	cmd.Flags().BoolVar(&flags.tui, "tui", false, "Choose what to merge in an interactive terminal UI")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// newConsolidator wires a consolidator from the loaded configuration.
func (a *app) newConsolidator() (*dedup.Consolidator, error) {
	opts := []dedup.ConsolidatorOption{
		dedup.WithStrategy(a.cfg.Strategy()),
		dedup.WithDryRun(a.cfg.Merge.DryRun),
		dedup.WithConsolidatorLogger(logging.GetLogger("consolidator")),
	}
	if a.cfg.Merge.Rehash {
		h, err := dedup.NewHasher(a.fs, a.cfg.HasherOptions()...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dedup.WithRehash(h))
	}
	return dedup.NewConsolidator(a.fs, opts...), nil
}

// merge applies reqs, records the run in the journal and fails when any path
// could not be merged.
func (a *app) merge(ctx context.Context, out *printer, roots []string, reqs []dedup.MergeRequest) error {
	c, err := a.newConsolidator()
	if err != nil {
		return err
	}

	run := journal.NewRun(roots, a.cfg.Strategy(), a.cfg.Merge.DryRun)
	results := c.MergeAll(ctx, reqs)
	run.Record(results)

	_, failed := out.printMergeResults(results)

	if a.cfg.Journal.Enabled && !a.cfg.Merge.DryRun {
		if err := a.appendJournal(run); err != nil {
			a.log.Warn().Err(err).Msg("Failed to record merge run")
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d paths could not be merged", failed)
	}
	return nil
}

func (a *app) appendJournal(run *journal.Run) error {
	path, err := a.cfg.JournalPath()
	if err != nil {
		return err
	}
	j := journal.Open(path)
	if err := j.Append(run); err != nil {
		return err
	}
	a.log.Info().Str("run", run.ID).Str("journal", j.Path()).Msg("Merge run recorded")
	return nil
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
