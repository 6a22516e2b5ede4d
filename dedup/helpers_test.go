package dedup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/luinbytes/linkdedup/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// tempDir returns a fresh directory with symlinks in its path resolved, so
// paths compare equal to the ones produced by ResolveRoots.
func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func newTestScanner(t *testing.T, fsys storage.FS, opts WalkOptions) *Scanner {
	t.Helper()
	walker, err := NewWalker(fsys, opts, zerolog.Nop())
	require.NoError(t, err)
	hasher, err := NewHasher(fsys)
	require.NoError(t, err)
	return NewScanner(walker, hasher, WithWorkers(4))
}

func scan(t *testing.T, fsys storage.FS, roots ...string) *ScanResult {
	t.Helper()
	result, err := newTestScanner(t, fsys, DefaultWalkOptions()).Scan(context.Background(), roots)
	require.NoError(t, err)
	return result
}

// onlyGroup returns the single group of a scan result.
func onlyGroup(t *testing.T, groups Groups) DuplicateGroup {
	t.Helper()
	require.Len(t, groups, 1)
	for _, g := range groups {
		return g
	}
	return DuplicateGroup{}
}
