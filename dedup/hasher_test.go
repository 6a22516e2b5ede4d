package dedup

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/luinbytes/linkdedup/storage"
	"github.com/luinbytes/linkdedup/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestHashMatchesAlgorithm(t *testing.T) {
	dir := tempDir(t)
	content := "Hello, World!"
	path := writeFile(t, filepath.Join(dir, "test.txt"), content)

	tests := []struct {
		algorithm Algorithm
		want      [32]byte
	}{
		{SHA256, sha256.Sum256([]byte(content))},
		{SHA512_256, sha512.Sum512_256([]byte(content))},
		{BLAKE2b, blake2b.Sum256([]byte(content))},
	}

	for _, tt := range tests {
		t.Run(string(tt.algorithm), func(t *testing.T) {
			h, err := NewHasher(storage.NewLocal(), WithAlgorithm(tt.algorithm))
			require.NoError(t, err)

			digest, size, err := h.Hash(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, Digest(tt.want), digest)
			assert.Equal(t, int64(len(content)), size)
		})
	}
}

func TestHashChunkSizeDoesNotChangeDigest(t *testing.T) {
	dir := tempDir(t)
	content := strings.Repeat("0123456789abcdef", 1000) + "tail"
	path := writeFile(t, filepath.Join(dir, "big.bin"), content)

	small, err := NewHasher(storage.NewLocal(), WithChunkSize(7))
	require.NoError(t, err)
	large, err := NewHasher(storage.NewLocal())
	require.NoError(t, err)

	d1, n1, err := small.Hash(context.Background(), path)
	require.NoError(t, err)
	d2, n2, err := large.Hash(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, d2, d1)
	assert.Equal(t, n2, n1)
	assert.Equal(t, Digest(sha256.Sum256([]byte(content))), d1)
}

func TestHashEmptyFile(t *testing.T) {
	dir := tempDir(t)
	path := writeFile(t, filepath.Join(dir, "empty"), "")

	h, err := NewHasher(storage.NewLocal())
	require.NoError(t, err)

	digest, size, err := h.Hash(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, Digest(sha256.Sum256(nil)), digest)
	assert.Zero(t, size)
}

func TestHashUnreadable(t *testing.T) {
	dir := tempDir(t)
	path := writeFile(t, filepath.Join(dir, "locked.txt"), "secret")
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(path, link))

	fsys := storagetest.NewFaulty(nil).Fail(storagetest.OpOpen, path, syscall.EACCES)
	h, err := NewHasher(fsys)
	require.NoError(t, err)

	t.Run("open fails", func(t *testing.T) {
		_, _, err := h.Hash(context.Background(), path)
		require.Error(t, err)
		assert.True(t, IsKind(err, Unreadable))
	})

	t.Run("missing", func(t *testing.T) {
		_, _, err := h.Hash(context.Background(), filepath.Join(dir, "nope"))
		require.Error(t, err)
		assert.True(t, IsKind(err, Unreadable))
	})

	t.Run("symlink", func(t *testing.T) {
		_, _, err := h.Hash(context.Background(), link)
		require.Error(t, err)
		assert.True(t, IsKind(err, Unreadable))
	})

	t.Run("directory", func(t *testing.T) {
		_, _, err := h.Hash(context.Background(), dir)
		require.Error(t, err)
		assert.True(t, IsKind(err, Unreadable))
	})
}

func TestHashCanceled(t *testing.T) {
	dir := tempDir(t)
	path := writeFile(t, filepath.Join(dir, "a.txt"), "hello")

	h, err := NewHasher(storage.NewLocal())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = h.Hash(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"", SHA256, false},
		{"sha256", SHA256, false},
		{" SHA512_256 ", SHA512_256, false},
		{"blake2b", BLAKE2b, false},
		{"md5", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NewHasher(storage.NewLocal(), WithAlgorithm("crc32"))
	assert.Error(t, err)
}

func TestDigestText(t *testing.T) {
	d := Digest(sha256.Sum256([]byte("hello")))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", d.String())
	assert.Equal(t, "2cf24dba5fb0a30e", d.Short())
	assert.False(t, d.IsZero())
	assert.True(t, Digest{}.IsZero())

	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = ParseDigest("abcd")
	assert.Error(t, err)
	_, err = ParseDigest("zz")
	assert.Error(t, err)
}
