package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/luinbytes/linkdedup/dedup"
	"github.com/luinbytes/linkdedup/storage"
	"github.com/luinbytes/linkdedup/tui"
)

const progressUpdateInterval = 100 * time.Millisecond

// printer writes human-readable reports. Colors and emoji are only used on a
// terminal and never with --no-color.
type printer struct {
	w     io.Writer
	plain bool

	header lipgloss.Style
	keep   lipgloss.Style
	link   lipgloss.Style
	warn   lipgloss.Style
	info   lipgloss.Style
}

func newPrinter(w io.Writer, noColor bool) *printer {
	p := &printer{w: w, plain: noColor || !isTerminal(w)}
	if p.plain {
		p.header, p.keep, p.link, p.warn, p.info =
			lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle()
		return p
	}
	r := lipgloss.NewRenderer(w)
	p.header = r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	p.keep = r.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	p.link = r.NewStyle().Foreground(lipgloss.Color("#F5A623"))
	p.warn = r.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	p.info = r.NewStyle().Foreground(lipgloss.Color("#888888"))
	return p
}

// emoji returns the emoji followed by a space, or nothing in plain mode
func (p *printer) emoji(e string) string {
	if p.plain {
		return ""
	}
	return e + " "
}

func (p *printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) rule() {
	p.printf("%s\n", strings.Repeat("=", 70))
}

// printScanReport lists every group with the path that would be kept under
// policy.
func (p *printer) printScanReport(fsys storage.FS, result *dedup.ScanResult, policy dedup.KeepPolicy) {
	groups := result.Groups.Sorted()
	if len(groups) == 0 {
		p.printf("%sNo duplicates found!\n", p.emoji("✅"))
	} else {
		p.printf("\n%s%s\n", p.emoji("👯"), p.header.Render("Duplicate Files:"))
		p.rule()
		for i, group := range groups {
			p.printGroup(i+1, fsys, group, policy)
		}
		p.printf("\n")
		p.rule()
	}

	if len(result.Failures) > 0 {
		p.printf("\n%s%s\n", p.emoji("⚠️"), p.warn.Render(fmt.Sprintf("%d paths could not be scanned:", len(result.Failures))))
		for _, f := range result.Failures {
			p.printf("    [%s] %s: %s\n", f.Kind, f.Path, f.Message())
		}
	}

	s := result.Stats
	p.printf("\n%sSummary: %d files scanned (%s) in %s, %d duplicate groups, %d redundant copies, %s can be freed\n",
		p.emoji("📊"), s.Files, tui.FormatBytes(s.Bytes), formatDuration(s.Duration.Seconds()),
		s.Groups, s.Duplicates, tui.FormatBytes(s.Reclaimable))
}

func (p *printer) printGroup(n int, fsys storage.FS, group dedup.DuplicateGroup, policy dedup.KeepPolicy) {
	p.printf("\n[%d] Digest: %s...\n", n, group.Digest.Short())
	p.printf("    Size: %s\n", tui.FormatBytes(group.Size))
	if group.Consolidated() {
		p.printf("    Files: %d (already hardlinked)\n", len(group.Paths))
		for _, path := range group.Paths {
			p.printf("    %s%s %s\n", p.emoji("🔗"), p.info.Render("LINKED"), path)
		}
		return
	}

	p.printf("    Files: %d (%d distinct, %s reclaimable)\n", len(group.Paths), group.Distinct, tui.FormatBytes(group.Reclaimable()))
	master := dedup.ChooseMaster(fsys, group.Paths, policy)
	for _, path := range group.Paths {
		if path == master {
			p.printf("    %s%s %s\n", p.emoji("✓"), p.keep.Render("KEEP"), path)
		} else {
			p.printf("    %s%s %s\n", p.emoji("🔗"), p.link.Render("LINK"), path)
		}
	}
}

// printPlan summarises the requests about to be merged.
func (p *printer) printPlan(reqs []dedup.MergeRequest) {
	links, freed := 0, int64(0)
	for _, req := range reqs {
		links += len(req.Redundant())
		freed += req.Reclaimable()
	}
	p.printf("\n%sAbout to replace %d files in %d groups with hardlinks (%s freed)\n",
		p.emoji("🔗"), links, len(reqs), tui.FormatBytes(freed))
}

// printMergeResults reports every path the consolidator did not link.
func (p *printer) printMergeResults(results []dedup.MergeResult) (linked, failed int) {
	var reclaimed int64
	dryRun := false
	for _, res := range results {
		linked += len(res.Succeeded)
		failed += len(res.Failed)
		reclaimed += res.Reclaimed
		dryRun = dryRun || res.DryRun
		for _, f := range res.Failed {
			p.printf("%s%s [%s] %s: %s\n", p.emoji("✗"), p.warn.Render("FAILED"), f.Kind, f.Path, f.Message())
		}
	}

	verb := "Linked"
	if dryRun {
		verb = "Would link"
	}
	p.printf("\n%s%s %d files, %d failed, %s reclaimed\n",
		p.emoji("📊"), verb, linked, failed, tui.FormatBytes(reclaimed))
	return linked, failed
}

// progressBar renders scan progress on a terminal. Updates are throttled.
type progressBar struct {
	w     io.Writer
	start time.Time

	mu   sync.Mutex
	last time.Time
	done bool
}

func newProgressBar(w io.Writer) *progressBar {
	return &progressBar{w: w, start: time.Now()}
}

func (b *progressBar) update(p dedup.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done || time.Since(b.last) < progressUpdateInterval {
		return
	}
	b.last = time.Now()

	const barWidth = 30
	filled := 0
	if p.Discovered > 0 {
		filled = p.Hashed * barWidth / p.Discovered
	}

	filledStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7D56F4")).
		Background(lipgloss.Color("#7D56F4"))
	emptyStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#3c3c3c")).
		Background(lipgloss.Color("#3c3c3c"))

	bar := filledStyle.Render(strings.Repeat("█", filled)) + emptyStyle.Render(strings.Repeat("░", barWidth-filled))

	elapsed := time.Since(b.start).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(p.Bytes) / elapsed
	}
	fmt.Fprintf(b.w, "\r🔐 %s %d/%d files, %s/s", bar, p.Hashed, p.Discovered, tui.FormatBytes(int64(rate)))
}

func (b *progressBar) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.done && !b.last.IsZero() {
		fmt.Fprint(b.w, "\r\033[K")
	}
	b.done = true
}

// formatDuration converts seconds to a human-readable duration
func formatDuration(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%.0fs", seconds)
	}
	minutes := int(seconds / 60)
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, int(seconds)%60)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

type reportGroup struct {
	dedup.DuplicateGroup
	Master      string `json:"master"`
	Reclaimable int64  `json:"reclaimable"`
}

type reportFailure struct {
	Path    string          `json:"path"`
	Kind    dedup.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

type report struct {
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Roots     []string        `json:"roots"`
	Algorithm string          `json:"algorithm"`
	Keep      string          `json:"keep"`
	Stats     dedup.Stats     `json:"stats"`
	Groups    []reportGroup   `json:"groups"`
	Failures  []reportFailure `json:"failures"`
}

func buildReport(fsys storage.FS, result *dedup.ScanResult, algorithm dedup.Algorithm, policy dedup.KeepPolicy) report {
	r := report{
		Version:   version,
		Timestamp: time.Now(),
		Roots:     result.Roots,
		Algorithm: string(algorithm),
		Keep:      string(policy),
		Stats:     result.Stats,
		Groups:    []reportGroup{},
		Failures:  []reportFailure{},
	}
	for _, g := range result.Groups.Sorted() {
		r.Groups = append(r.Groups, reportGroup{
			DuplicateGroup: g,
			Master:         dedup.ChooseMaster(fsys, g.Paths, policy),
			Reclaimable:    g.Reclaimable(),
		})
	}
	for _, f := range result.Failures {
		r.Failures = append(r.Failures, reportFailure{Path: f.Path, Kind: f.Kind, Message: f.Message()})
	}
	return r
}

// exportJSON writes the scan report as indented JSON.
func exportJSON(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// exportCSV writes one row per path for use in spreadsheets and scripts.
func exportCSV(path string, r report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv report: %w", err)
	}

	w := csv.NewWriter(f)
	_ = w.Write([]string{"digest", "size", "distinct", "path", "action"})
	for _, g := range r.Groups {
		for _, p := range g.Paths {
			action := "link"
			switch {
			case g.Consolidated():
				action = "linked"
			case p == g.Master:
				action = "keep"
			}
			_ = w.Write([]string{
				g.Digest.String(),
				strconv.FormatInt(g.Size, 10),
				strconv.Itoa(g.Distinct),
				p,
				action,
			})
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write csv report: %w", err)
	}
	return f.Close()
}
