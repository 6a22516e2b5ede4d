package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/adrg/xdg"
	"github.com/luinbytes/linkdedup/config"
	"github.com/luinbytes/linkdedup/dedup"
	"github.com/luinbytes/linkdedup/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps config, journal and log files inside a temp directory.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_CONFIG_DIRS", filepath.Join(home, "etc"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(home, "state"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)
}

// fixture creates two directories holding the same "hello" file plus one
// unrelated file, and returns the root and both duplicate paths.
func fixture(t *testing.T) (root, a, b string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	a = filepath.Join(root, "d1", "a.txt")
	b = filepath.Join(root, "d2", "b.txt")
	for path, content := range map[string]string{
		a:                                  "hello",
		b:                                  "hello",
		filepath.Join(root, "d2", "c.txt"): "world",
	} {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root, a, b
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sameFile(t *testing.T, a, b string) bool {
	t.Helper()
	ia, err := os.Stat(a)
	require.NoError(t, err)
	ib, err := os.Stat(b)
	require.NoError(t, err)
	return os.SameFile(ia, ib)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "linkdedup version "+version+"\n", out)
}

func TestScanCommand(t *testing.T) {
	isolate(t)
	root, a, b := fixture(t)
	jsonPath := filepath.Join(t.TempDir(), "report.json")
	csvPath := filepath.Join(t.TempDir(), "report.csv")

	out, err := execute(t, "", "scan", root, "--export-json", jsonPath, "--export-csv", csvPath)
	require.NoError(t, err)

	assert.Contains(t, out, "Duplicate Files:")
	assert.Contains(t, out, "KEEP "+a)
	assert.Contains(t, out, "LINK "+b)
	assert.Contains(t, out, "3 files scanned")
	assert.False(t, sameFile(t, a, b), "scan must not modify anything")

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var r report
	require.NoError(t, json.Unmarshal(data, &r))
	require.Len(t, r.Groups, 1)
	assert.Equal(t, []string{a, b}, r.Groups[0].Paths)
	assert.Equal(t, a, r.Groups[0].Master)
	assert.Equal(t, int64(5), r.Groups[0].Reclaimable)
	assert.Equal(t, "sha256", r.Algorithm)

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"digest", "size", "distinct", "path", "action"}, rows[0])
	assert.Equal(t, []string{a, "keep"}, rows[1][3:])
	assert.Equal(t, []string{b, "link"}, rows[2][3:])
}

func TestScanRootsFromEnvironment(t *testing.T) {
	isolate(t)
	root, a, _ := fixture(t)
	t.Setenv("LINKDEDUP_ROOTS", root)

	out, err := execute(t, "", "scan")
	require.NoError(t, err)
	assert.Contains(t, out, a)
}

func TestScanWithoutRoots(t *testing.T) {
	isolate(t)

	_, err := execute(t, "", "scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no directories given")
}

func TestScanRejectsInvalidFlag(t *testing.T) {
	isolate(t)
	root, _, _ := fixture(t)

	_, err := execute(t, "", "scan", root, "--algorithm", "md5")
	assert.Error(t, err)

	_, err = execute(t, "", "merge", root, "--keep", "largest")
	assert.Error(t, err)
}

func TestMergeCommandLinksAndRecordsJournal(t *testing.T) {
	isolate(t)
	root, a, b := fixture(t)

	out, err := execute(t, "", "merge", root, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Linked 1 files, 0 failed")
	assert.True(t, sameFile(t, a, b))

	data, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	out, err = execute(t, "", "journal")
	require.NoError(t, err)
	assert.Contains(t, out, "keep "+a)
	assert.Contains(t, out, "LINKED "+b)
	assert.Contains(t, out, "Linked 1, failed 0")

	// A second run has nothing left to do.
	out, err = execute(t, "", "merge", root, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to merge.")
}

func TestMergeCommandAsksForConfirmation(t *testing.T) {
	isolate(t)
	root, a, b := fixture(t)

	out, err := execute(t, "n\n", "merge", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Proceed? [y/N]")
	assert.Contains(t, out, "Aborted")
	assert.False(t, sameFile(t, a, b))

	out, err = execute(t, "y\n", "merge", root, "--keep", "path:"+filepath.Dir(b), "--strategy", "backup")
	require.NoError(t, err)
	assert.Contains(t, out, "KEEP "+b)
	assert.True(t, sameFile(t, a, b))
	assert.NoFileExists(t, a+dedup.BackupSuffix)
}

func TestMergeCommandDryRun(t *testing.T) {
	isolate(t)
	root, a, b := fixture(t)

	out, err := execute(t, "", "merge", root, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Would link 1 files")
	assert.False(t, sameFile(t, a, b))

	out, err = execute(t, "", "journal")
	require.NoError(t, err)
	assert.Contains(t, out, "No merge runs recorded")
}

func TestMergeCommandReportsFailures(t *testing.T) {
	isolate(t)
	if os.Geteuid() == 0 || runtime.GOOS == "windows" {
		t.Skip("directory permissions are not enforced here")
	}
	root, _, b := fixture(t)
	require.NoError(t, os.Chmod(filepath.Dir(b), 0o555))
	t.Cleanup(func() { _ = os.Chmod(filepath.Dir(b), 0o755) })

	out, err := execute(t, "", "merge", root, "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 paths could not be merged")
	assert.Contains(t, out, "[PERMISSION_DENIED] "+b)

	data, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func newTestApp(t *testing.T, overrides map[string]interface{}) *app {
	t.Helper()
	isolate(t)
	cfg, err := config.Load(config.LoadOptions{Dir: t.TempDir(), Overrides: overrides})
	require.NoError(t, err)
	return &app{cfg: cfg, fs: storage.NewLocal(), log: zerolog.Nop(), noColor: true, closeLog: func() {}}
}

func TestWatcherReportsOnlyNewDuplicates(t *testing.T) {
	a := newTestApp(t, nil)
	root, first, _ := fixture(t)

	var out bytes.Buffer
	w, err := a.newWatcher(newPrinter(&out, true))
	require.NoError(t, err)
	w.roots = []string{root}

	_, err = w.rescan(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, out.String())

	third := filepath.Join(root, "d3", "copy.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(third), 0o755))
	require.NoError(t, os.WriteFile(third, []byte("hello"), 0o644))

	_, err = w.rescan(context.Background(), true)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "New duplicates")
	assert.Contains(t, out.String(), third)

	out.Reset()
	_, err = w.rescan(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, out.String())
	assert.False(t, sameFile(t, first, third))
}

func TestWatcherAutoMerge(t *testing.T) {
	a := newTestApp(t, map[string]interface{}{"watch.auto_merge": true})
	root, first, second := fixture(t)

	var out bytes.Buffer
	w, err := a.newWatcher(newPrinter(&out, true))
	require.NoError(t, err)
	w.roots = []string{root}

	_, err = w.rescan(context.Background(), true)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Linked 1 files")
	assert.True(t, sameFile(t, first, second))
}

func TestNewDuplicates(t *testing.T) {
	grown, same, linked, fresh := dedup.Digest{1}, dedup.Digest{2}, dedup.Digest{3}, dedup.Digest{4}
	known := map[dedup.Digest]int{grown: 2, same: 2, linked: 2}
	cur := dedup.Groups{
		grown:  {Digest: grown, Paths: []string{"/a", "/b", "/c"}, Distinct: 3},
		same:   {Digest: same, Paths: []string{"/d", "/e"}, Distinct: 2},
		linked: {Digest: linked, Paths: []string{"/f", "/g"}, Distinct: 1},
		fresh:  {Digest: fresh, Paths: []string{"/h", "/i"}, Distinct: 2},
	}

	got := newDuplicates(known, cur)
	assert.Len(t, got, 2)
	assert.Contains(t, got, grown)
	assert.Contains(t, got, fresh)
}

func TestPrintPlanCountsSharedFilesOnce(t *testing.T) {
	var out bytes.Buffer
	group := dedup.DuplicateGroup{Digest: dedup.Digest{9}, Size: 5, Paths: []string{"/a", "/b", "/c"}, Distinct: 2}
	newPrinter(&out, true).printPlan([]dedup.MergeRequest{dedup.NewMergeRequest(group)})
	assert.Contains(t, out.String(), "About to replace 2 files in 1 groups with hardlinks (5 B freed)")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{5, "5s"},
		{59, "59s"},
		{90, "1m 30s"},
		{3661, "1h 1m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.seconds))
	}
}

func TestConfirm(t *testing.T) {
	for input, want := range map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false} {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(input), &out, "Proceed?")
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %q", input)
	}
}
