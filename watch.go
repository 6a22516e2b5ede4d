package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/luinbytes/linkdedup/dedup"
	"github.com/luinbytes/linkdedup/logging"
	"github.com/luinbytes/linkdedup/tui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [directories...]",
		Short: "Rescan on file changes and report new duplicates",
		Long: `Watch performs an initial scan, then rescans whenever files under the given
directories change (after a quiet period of --debounce). Duplicate groups that
appear or grow are reported; with --auto-merge they are merged right away
using the --keep policy. Stop with Ctrl+C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			roots, err := a.roots(args)
			if err != nil {
				return err
			}
			w, err := a.newWatcher(newPrinter(cmd.OutOrStdout(), a.noColor))
			if err != nil {
				return err
			}
			return w.run(contextOf(cmd), roots)
		},
	}
	addScanFlags(cmd)
	addMergeFlags(cmd)
	cmd.Flags().Duration("debounce", 0, "Quiet period after the last change before rescanning (default 2s)")
	cmd.Flags().Bool("auto-merge", false, "Merge new duplicates without asking")
	return cmd
}

// watcher keeps the digests seen so far so each rescan only reports what is
// new.
type watcher struct {
	a       *app
	out     *printer
	scanner *dedup.Scanner
	log     zerolog.Logger

	roots []string
	known map[dedup.Digest]int // digest -> distinct files
}

func (a *app) newWatcher(out *printer) (*watcher, error) {
	scanner, err := a.newScanner()
	if err != nil {
		return nil, err
	}
	return &watcher{
		a:       a,
		out:     out,
		scanner: scanner,
		log:     logging.GetLogger("watch"),
		known:   make(map[dedup.Digest]int),
	}, nil
}

func (w *watcher) run(ctx context.Context, roots []string) error {
	resolved, err := w.scanner.Walker().ResolveRoots(roots)
	if err != nil {
		return err
	}
	w.roots = resolved

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	for _, root := range w.roots {
		if err := w.addDirs(fsw, root); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	w.out.printf("%sWatching %s (debounce %s)\n", w.out.emoji("👁️"), strings.Join(w.roots, ", "), w.a.cfg.Watch.Debounce)
	if w.a.cfg.Watch.AutoMerge {
		w.out.printf("%sAuto-merge is on: new duplicates are replaced with hardlinks (keep %s)\n",
			w.out.emoji("⚠️"), w.a.cfg.KeepPolicy())
	}

	initial, err := w.rescan(ctx, false)
	if err != nil {
		return err
	}
	w.out.printf("%sInitial scan: %d files, %d duplicate groups (%s reclaimable)\n",
		w.out.emoji("✅"), initial.Stats.Files, initial.Stats.Groups, tui.FormatBytes(initial.Stats.Reclaimable))
	w.out.printf("%sPress Ctrl+C to stop watching...\n", w.out.emoji("💡"))

	trigger := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.out.printf("\n%sWatch mode stopped.\n", w.out.emoji("👋"))
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := w.a.fs.Lstat(event.Name); err == nil && info.IsDir() && w.a.cfg.Scan.Recursive {
					if err := w.addDirs(fsw, event.Name); err != nil {
						w.log.Warn().Err(err).Str("path", event.Name).Msg("Cannot watch new directory")
					}
				}
			}
			w.log.Trace().Str("event", event.String()).Msg("Change detected")

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.a.cfg.Watch.Debounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case <-trigger:
			if _, err := w.rescan(ctx, true); err != nil {
				if ctx.Err() != nil {
					continue
				}
				w.log.Error().Err(err).Msg("Rescan failed")
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// relevant filters out events the scanner would ignore anyway, including the
// consolidator's own backup files.
func (w *watcher) relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasSuffix(name, dedup.BackupSuffix) {
		return false
	}
	if w.a.cfg.Scan.SkipHidden && strings.HasPrefix(name, ".") {
		return false
	}
	for _, prefix := range w.a.cfg.Scan.ExcludePrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

// addDirs watches dir and, when scanning recursively, every directory below
// it that the walker would enter.
func (w *watcher) addDirs(fsw *fsnotify.Watcher, dir string) error {
	if err := fsw.Add(dir); err != nil {
		return err
	}
	if !w.a.cfg.Scan.Recursive {
		return nil
	}
	entries, err := w.a.fs.ReadDir(dir)
	if err != nil {
		w.log.Debug().Err(err).Str("path", dir).Msg("Cannot list directory")
		return nil
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if w.a.cfg.Scan.SkipHidden && strings.HasPrefix(name, ".") {
			continue
		}
		if err := w.addDirs(fsw, filepath.Join(dir, name)); err != nil {
			w.log.Debug().Err(err).Str("path", filepath.Join(dir, name)).Msg("Cannot watch directory")
		}
	}
	return nil
}

// rescan scans all roots and reports groups that are new or gained a
// distinct file since the previous scan. With report unset the result only
// seeds the known set.
func (w *watcher) rescan(ctx context.Context, report bool) (*dedup.ScanResult, error) {
	result, err := w.scanner.Scan(ctx, w.roots)
	if err != nil {
		return nil, err
	}

	fresh := newDuplicates(w.known, result.Groups)
	w.known = make(map[dedup.Digest]int, len(result.Groups))
	for d, g := range result.Groups {
		w.known[d] = g.Distinct
	}
	if !report || len(fresh) == 0 {
		return result, nil
	}

	w.out.printf("\n%s%s New duplicates:\n", w.out.emoji("🆕"), time.Now().Format(time.TimeOnly))
	for i, group := range fresh.Sorted() {
		w.out.printGroup(i+1, w.a.fs, group, w.a.cfg.KeepPolicy())
	}

	if w.a.cfg.Watch.AutoMerge {
		reqs := dedup.SelectAll(w.a.fs, fresh, w.a.cfg.KeepPolicy())
		if err := w.a.merge(ctx, w.out, w.roots, reqs); err != nil {
			w.log.Warn().Err(err).Msg("Auto-merge incomplete")
		}
	}
	return result, nil
}

// newDuplicates returns the groups of cur that still need merging and are
// either unknown or have more distinct files than before.
func newDuplicates(known map[dedup.Digest]int, cur dedup.Groups) dedup.Groups {
	out := make(dedup.Groups)
	for d, g := range cur {
		if g.Consolidated() {
			continue
		}
		if prev, ok := known[d]; ok && g.Distinct <= prev {
			continue
		}
		out[d] = g
	}
	return out
}
