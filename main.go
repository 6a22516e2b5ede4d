package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/luinbytes/linkdedup/config"
	"github.com/luinbytes/linkdedup/logging"
	"github.com/luinbytes/linkdedup/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

// flagKeys maps command line flags onto config keys. Only flags the user set
// explicitly override the config file and the environment.
var flagKeys = map[string]string{
	"workers":     "scan.workers",
	"algorithm":   "scan.algorithm",
	"min-size":    "scan.min_size",
	"max-size":    "scan.max_size",
	"pattern":     "scan.pattern",
	"recursive":   "scan.recursive",
	"skip-hidden": "scan.skip_hidden",
	"keep":        "merge.keep",
	"strategy":    "merge.strategy",
	"rehash":      "merge.rehash",
	"dry-run":     "merge.dry_run",
	"debounce":    "watch.debounce",
	"auto-merge":  "watch.auto_merge",
}

// app carries what every command needs once flags are parsed.
type app struct {
	cfgFile   string
	verbosity int
	noColor   bool

	cfg      *config.Config
	log      zerolog.Logger
	fs       storage.FS
	closeLog func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{fs: storage.NewLocal(), closeLog: func() {}}

	rootCmd := &cobra.Command{
		Use:   "linkdedup",
		Short: "Find identical files and merge them into hardlinks",
		Long: `linkdedup scans directory trees for files with byte-identical content and
replaces confirmed duplicates with hardlinks to a single retained copy. Paths
stay where they are; only the storage behind them is shared.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.closeLog()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().CountVarP(&a.verbosity, "verbose", "v", "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")
	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Config file (default ./.linkdedup.toml or $XDG_CONFIG_HOME/linkdedup/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colors and emoji")

	rootCmd.AddCommand(
		newScanCmd(a),
		newMergeCmd(a),
		newWatchCmd(a),
		newJournalCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	overrides := make(map[string]interface{})
	for name, key := range flagKeys {
		if cmd.Flags().Changed(name) {
			overrides[key] = cmd.Flags().Lookup(name).Value.String()
		}
	}

	cfg, err := config.Load(config.LoadOptions{File: a.cfgFile, Overrides: overrides})
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.closeLog = logging.SetupLogger(logging.Options{
		Verbosity: a.verbosity,
		NoColor:   a.noColor,
		File:      cfg.Log.File,
		Console:   cmd.ErrOrStderr(),
	})
	a.log = logging.GetLogger(cmd.Name())
	a.log.Debug().Str("command", cmd.Name()).Str("config", cfg.File).Msg("Command started")
	return nil
}

// roots returns the directories to work on: arguments first, then the
// configured roots.
func (a *app) roots(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(a.cfg.Roots) > 0 {
		return a.cfg.Roots, nil
	}
	return nil, errors.New("no directories given; pass them as arguments or set roots in the config file")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "linkdedup version %s\n", version)
}
