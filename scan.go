package main

import (
	"context"
	"fmt"

	"github.com/luinbytes/linkdedup/dedup"
	"github.com/luinbytes/linkdedup/logging"
	"github.com/spf13/cobra"
)

type scanFlags struct {
	exportJSON string
	exportCSV  string
}

func addScanFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("workers", 0, "Number of hashing workers (default: number of CPUs)")
	f.String("algorithm", "", "Hash algorithm: sha256, sha512_256 or blake2b")
	f.Int64("min-size", 0, "Ignore files smaller than this many bytes")
	f.Int64("max-size", 0, "Ignore files larger than this many bytes (0 = no limit)")
	f.String("pattern", "", "Only consider file names matching this glob (e.g. '*.iso')")
	f.Bool("recursive", true, "Descend into subdirectories")
	f.Bool("skip-hidden", false, "Skip files and directories starting with a dot")
}

func newScanCmd(a *app) *cobra.Command {
	var flags scanFlags
	cmd := &cobra.Command{
		Use:   "scan [directories...]",
		Short: "Report files with identical content",
		Long: `Scan walks the given directories, hashes every regular file and reports the
groups of paths that share the same content. Nothing is modified.`,
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
			out.printScanReport(a.fs, result, a.cfg.KeepPolicy())

			if flags.exportJSON == "" && flags.exportCSV == "" {
				return nil
			}
			r := buildReport(a.fs, result, dedup.Algorithm(a.cfg.Scan.Algorithm), a.cfg.KeepPolicy())
			if flags.exportJSON != "" {
				if err := exportJSON(flags.exportJSON, r); err != nil {
					return err
				}
				out.printf("%sReport exported to %s\n", out.emoji("📄"), flags.exportJSON)
			}
			if flags.exportCSV != "" {
				if err := exportCSV(flags.exportCSV, r); err != nil {
					return err
				}
				out.printf("%sCSV exported to %s\n", out.emoji("📄"), flags.exportCSV)
			}
			return nil
		},
	}
	addScanFlags(cmd)
	cmd.Flags().StringVar(&flags.exportJSON, "export-json", "", "Write the report as JSON to this file")
	cmd.Flags().StringVar(&flags.exportCSV, "export-csv", "", "Write the report as CSV to this file")
	return cmd
}

// newScanner wires walker, hasher and scanner from the loaded configuration.
func (a *app) newScanner(opts ...dedup.ScannerOption) (*dedup.Scanner, error) {
	walker, err := dedup.NewWalker(a.fs, a.cfg.WalkOptions(), logging.GetLogger("walker"))
	if err != nil {
		return nil, fmt.Errorf("invalid scan settings: %w", err)
	}
	hasher, err := dedup.NewHasher(a.fs, a.cfg.HasherOptions()...)
	if err != nil {
		return nil, fmt.Errorf("invalid scan settings: %w", err)
	}
	opts = append([]dedup.ScannerOption{
		dedup.WithWorkers(a.cfg.Scan.Workers),
		dedup.WithLogger(logging.GetLogger("scanner")),
	}, opts...)
	return dedup.NewScanner(walker, hasher, opts...), nil
}

// scan runs one scan, drawing a progress bar when stderr is a terminal.
func (a *app) scan(cmd *cobra.Command, roots []string) (*dedup.ScanResult, error) {
	var opts []dedup.ScannerOption
	var bar *progressBar
	if !a.noColor && a.verbosity == 0 && isTerminal(cmd.ErrOrStderr()) {
		bar = newProgressBar(cmd.ErrOrStderr())
		opts = append(opts, dedup.WithProgress(bar.update))
	}

	scanner, err := a.newScanner(opts...)
	if err != nil {
		return nil, err
	}

	done := logging.LogOperationStart(a.log, "scan")
	result, err := scanner.Scan(contextOf(cmd), roots)
	if bar != nil {
		bar.finish()
	}
	done()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return result, nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
