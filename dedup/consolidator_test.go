//go:build unix

package dedup

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/luinbytes/linkdedup/storage"
	"github.com/luinbytes/linkdedup/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mergeFixture struct {
	root    string
	a, b, c string
	req     MergeRequest
}

// newMergeFixture writes three copies of "hello" and scans them into a
// request that keeps a.
func newMergeFixture(t *testing.T) mergeFixture {
	t.Helper()
	root := tempDir(t)
	f := mergeFixture{
		root: root,
		a:    writeFile(t, filepath.Join(root, "d1", "a.txt"), "hello"),
		b:    writeFile(t, filepath.Join(root, "d2", "b.txt"), "hello"),
		c:    writeFile(t, filepath.Join(root, "d3", "c.txt"), "hello"),
	}
	result := scan(t, storage.NewLocal(), root)
	f.req = NewMergeRequest(onlyGroup(t, result.Groups))
	require.Equal(t, f.a, f.req.Master)
	return f
}

func fileID(t *testing.T, path string) storage.FileID {
	t.Helper()
	id, err := storage.NewLocal().FileID(path)
	require.NoError(t, err)
	return id
}

func failedPaths(res MergeResult) map[string]ErrorKind {
	out := make(map[string]ErrorKind, len(res.Failed))
	for _, f := range res.Failed {
		out[f.Path] = f.Kind
	}
	return out
}

func TestMergeLinksRedundantPaths(t *testing.T) {
	f := newMergeFixture(t)
	masterID := fileID(t, f.a)

	res := NewConsolidator(storage.NewLocal()).Merge(context.Background(), f.req)

	assert.True(t, res.OK(), "failures: %v", res.Failed)
	assert.Equal(t, []string{f.b, f.c}, res.Succeeded)
	assert.Equal(t, int64(10), res.Reclaimed)

	for _, p := range []string{f.a, f.b, f.c} {
		assert.True(t, fileID(t, p).SameFile(masterID), "%s not linked to master", p)
		assert.Equal(t, "hello", readFile(t, p))
	}
	assert.Equal(t, uint64(3), fileID(t, f.a).Links)

	rescan := scan(t, storage.NewLocal(), f.root)
	assert.True(t, onlyGroup(t, rescan.Groups).Consolidated())
}

func TestMergeTwiceIsIdempotent(t *testing.T) {
	f := newMergeFixture(t)
	c := NewConsolidator(storage.NewLocal())

	first := c.Merge(context.Background(), f.req)
	require.True(t, first.OK())

	fsys := storagetest.NewFaulty(nil)
	second := NewConsolidator(fsys).Merge(context.Background(), f.req)
	assert.True(t, second.OK())
	assert.Equal(t, []string{f.b, f.c}, second.Succeeded)
	assert.Zero(t, second.Reclaimed)
	assert.Empty(t, fsys.Calls(), "an already linked path must not be touched")
}

func TestMergeRedundantPathDeletedAfterScan(t *testing.T) {
	f := newMergeFixture(t)
	require.NoError(t, os.Remove(f.b))

	res := NewConsolidator(storage.NewLocal()).Merge(context.Background(), f.req)

	assert.Equal(t, map[string]ErrorKind{f.b: NotFound}, failedPaths(res))
	assert.Equal(t, []string{f.c}, res.Succeeded)
	assert.True(t, fileID(t, f.c).SameFile(fileID(t, f.a)))
	assert.NoFileExists(t, f.b)
}

func TestMergeMasterMissing(t *testing.T) {
	f := newMergeFixture(t)
	require.NoError(t, os.Remove(f.a))

	fsys := storagetest.NewFaulty(nil)
	res := NewConsolidator(fsys).Merge(context.Background(), f.req)

	assert.Equal(t, map[string]ErrorKind{f.b: MasterUnavailable, f.c: MasterUnavailable}, failedPaths(res))
	for _, failed := range res.Failed {
		assert.ErrorIs(t, failed.Err, &Error{Kind: NotFound})
		assert.Contains(t, failed.Message(), f.a)
		assert.NotContains(t, failed.Message(), failed.Path)
	}
	assert.Empty(t, fsys.Calls())
	assert.Equal(t, "hello", readFile(t, f.b))
}

func TestMergeContentChanged(t *testing.T) {
	f := newMergeFixture(t)
	writeFile(t, f.b, "jello") // same size
	writeFile(t, f.c, "hello, world")

	h, err := NewHasher(storage.NewLocal())
	require.NoError(t, err)
	res := NewConsolidator(storage.NewLocal(), WithRehash(h)).Merge(context.Background(), f.req)

	assert.Equal(t, map[string]ErrorKind{f.b: ContentChanged, f.c: ContentChanged}, failedPaths(res))
	assert.Equal(t, "jello", readFile(t, f.b))
	assert.Equal(t, "hello, world", readFile(t, f.c))
}

func TestMergeSizeCheckWithoutRehash(t *testing.T) {
	f := newMergeFixture(t)
	writeFile(t, f.c, "hello, world")

	res := NewConsolidator(storage.NewLocal()).Merge(context.Background(), f.req)

	assert.Equal(t, map[string]ErrorKind{f.c: ContentChanged}, failedPaths(res))
	assert.Equal(t, []string{f.b}, res.Succeeded)
}

func TestMergeCrossDevice(t *testing.T) {
	f := newMergeFixture(t)
	id := fileID(t, f.b)
	id.Device++

	fsys := storagetest.NewFaulty(nil).OverrideID(f.b, id)
	res := NewConsolidator(fsys).Merge(context.Background(), f.req)

	assert.Equal(t, map[string]ErrorKind{f.b: CrossDevice}, failedPaths(res))
	assert.Equal(t, []storagetest.Call{
		{Op: storagetest.OpRemove, Path: f.c},
		{Op: storagetest.OpLink, Path: f.c},
	}, fsys.Calls())
	assert.Equal(t, "hello", readFile(t, f.b))
}

func TestMergeLinkReportsCrossDevice(t *testing.T) {
	f := newMergeFixture(t)

	fsys := storagetest.NewFaulty(nil).Fail(storagetest.OpLink, f.b, syscall.EXDEV)
	res := NewConsolidator(fsys, WithStrategy(StrategyBackup)).Merge(context.Background(), f.req)

	assert.Equal(t, map[string]ErrorKind{f.b: CrossDevice}, failedPaths(res))
	assert.Equal(t, "hello", readFile(t, f.b))
}

func TestMergeDirectLinkFailureLosesRedundantPath(t *testing.T) {
	f := newMergeFixture(t)

	fsys := storagetest.NewFaulty(nil).Fail(storagetest.OpLink, f.b, syscall.EACCES)
	res := NewConsolidator(fsys).Merge(context.Background(), f.req)

	assert.Equal(t, map[string]ErrorKind{f.b: PermissionDenied}, failedPaths(res))
	assert.Equal(t, []string{f.c}, res.Succeeded)
	assert.NoFileExists(t, f.b)
	assert.Equal(t, "hello", readFile(t, f.a))
}

func TestMergeBackupRestoresOnLinkFailure(t *testing.T) {
	f := newMergeFixture(t)
	original := fileID(t, f.b)

	fsys := storagetest.NewFaulty(nil).Fail(storagetest.OpLink, f.b, syscall.EACCES)
	res := NewConsolidator(fsys, WithStrategy(StrategyBackup)).Merge(context.Background(), f.req)

	assert.Equal(t, map[string]ErrorKind{f.b: PermissionDenied}, failedPaths(res))
	assert.Equal(t, []string{f.c}, res.Succeeded)
	assert.True(t, fileID(t, f.b).SameFile(original))
	assert.Equal(t, "hello", readFile(t, f.b))
	assert.NoFileExists(t, f.b+BackupSuffix)
	assert.NoFileExists(t, f.c+BackupSuffix)
}

func TestMergeBackupRefusesExistingBackup(t *testing.T) {
	f := newMergeFixture(t)
	writeFile(t, f.b+BackupSuffix, "unrelated")

	res := NewConsolidator(storage.NewLocal(), WithStrategy(StrategyBackup)).Merge(context.Background(), f.req)

	assert.Equal(t, map[string]ErrorKind{f.b: Other}, failedPaths(res))
	assert.Equal(t, "unrelated", readFile(t, f.b+BackupSuffix))
}

func TestMergeVanishesBetweenVerifyAndRemove(t *testing.T) {
	f := newMergeFixture(t)

	fsys := storagetest.NewFaulty(nil)
	fsys.Before = func(op storagetest.Op, path string) {
		if op == storagetest.OpRemove && path == f.b {
			_ = os.Remove(f.b)
		}
	}
	res := NewConsolidator(fsys).Merge(context.Background(), f.req)

	assert.Equal(t, map[string]ErrorKind{f.b: NotFound}, failedPaths(res))
	assert.Equal(t, []string{f.c}, res.Succeeded)
}

func TestMergeDryRun(t *testing.T) {
	f := newMergeFixture(t)

	fsys := storagetest.NewFaulty(nil)
	res := NewConsolidator(fsys, WithDryRun(true)).Merge(context.Background(), f.req)

	assert.True(t, res.DryRun)
	assert.Equal(t, []string{f.b, f.c}, res.Succeeded)
	assert.Equal(t, int64(10), res.Reclaimed)
	assert.Empty(t, fsys.Calls())
	assert.False(t, fileID(t, f.b).SameFile(fileID(t, f.a)))
}

func TestMergeSkipsNonRegularPath(t *testing.T) {
	f := newMergeFixture(t)
	require.NoError(t, os.Remove(f.b))
	require.NoError(t, os.Symlink(f.a, f.b))

	res := NewConsolidator(storage.NewLocal()).Merge(context.Background(), f.req)

	assert.Equal(t, map[string]ErrorKind{f.b: Other}, failedPaths(res))
	info, err := os.Lstat(f.b)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
}

func TestMergeInvalidRequest(t *testing.T) {
	f := newMergeFixture(t)
	c := NewConsolidator(storagetest.NewFaulty(nil))

	tests := []struct {
		name string
		req  MergeRequest
	}{
		{"single path", MergeRequest{Digest: f.req.Digest, Master: f.a, Paths: []string{f.a}}},
		{"master outside", MergeRequest{Digest: f.req.Digest, Master: f.c, Paths: []string{f.a, f.b}}},
		{"duplicate path", MergeRequest{Digest: f.req.Digest, Master: f.a, Paths: []string{f.a, f.b, f.b}}},
		{"no master", MergeRequest{Digest: f.req.Digest, Paths: []string{f.a, f.b}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Merge(context.Background(), tt.req)
			require.NotEmpty(t, res.Failed)
			for _, fail := range res.Failed {
				assert.Equal(t, InvalidRequest, fail.Kind)
			}
			assert.Empty(t, res.Succeeded)
		})
	}
	assert.Equal(t, "hello", readFile(t, f.b))
}

func TestMergeAllCanceled(t *testing.T) {
	f := newMergeFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fsys := storagetest.NewFaulty(nil)
	results := NewConsolidator(fsys).MergeAll(ctx, []MergeRequest{f.req})

	require.Len(t, results, 1)
	assert.Equal(t, map[string]ErrorKind{f.b: Canceled, f.c: Canceled}, failedPaths(results[0]))
	assert.Empty(t, fsys.Calls())
}

func TestMergeSubsetWithChosenMaster(t *testing.T) {
	f := newMergeFixture(t)
	group := DuplicateGroup{Digest: f.req.Digest, Size: 5, Paths: []string{f.a, f.b, f.c}, Distinct: 3}

	req, err := NewMergeRequest(group, f.c, f.b).WithMaster(f.c)
	require.NoError(t, err)
	res := NewConsolidator(storage.NewLocal()).Merge(context.Background(), req)

	require.True(t, res.OK())
	assert.Equal(t, []string{f.b}, res.Succeeded)
	assert.True(t, fileID(t, f.b).SameFile(fileID(t, f.c)))
	assert.False(t, fileID(t, f.a).SameFile(fileID(t, f.c)))
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": StrategyDirect, "direct": StrategyDirect, "BACKUP": StrategyBackup} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStrategy("copy")
	assert.Error(t, err)
}
