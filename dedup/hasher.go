package dedup

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"strings"
	"sync"

	"github.com/luinbytes/linkdedup/storage"
	"golang.org/x/crypto/blake2b"
)

// DefaultChunkSize is the read size used when folding a file into its digest.
const DefaultChunkSize = 64 * 1024

// Algorithm names a content hash. Every supported algorithm yields a 32-byte
// digest.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA512_256 Algorithm = "sha512_256"
	BLAKE2b    Algorithm = "blake2b"
)

// Algorithms lists the accepted algorithm names.
var Algorithms = []Algorithm{SHA256, SHA512_256, BLAKE2b}

// ParseAlgorithm normalises an algorithm name; empty means SHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return SHA256, nil
	case SHA256, SHA512_256, BLAKE2b:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q (want one of %v)", s, Algorithms)
	}
}

func (a Algorithm) newHash() hash.Hash {
	switch a {
	case SHA512_256:
		return sha512.New512_256()
	case BLAKE2b:
		// Only fails for keys longer than 64 bytes.
		h, _ := blake2b.New256(nil)
		return h
	default:
		return sha256.New()
	}
}

// Hasher streams files through a hash in fixed-size chunks, so memory use is
// bounded by the chunk size regardless of file size.
type Hasher struct {
	fs        storage.FS
	algorithm Algorithm
	chunkSize int
	buffers   sync.Pool
}

// HasherOption configures a Hasher
type HasherOption func(*Hasher)

// WithAlgorithm selects the hash algorithm
func WithAlgorithm(a Algorithm) HasherOption {
	return func(h *Hasher) { h.algorithm = a }
}

// WithChunkSize sets the read size; values below 1 keep the default
func WithChunkSize(n int) HasherOption {
	return func(h *Hasher) {
		if n > 0 {
			h.chunkSize = n
		}
	}
}

// NewHasher creates a hasher reading through fsys.
func NewHasher(fsys storage.FS, opts ...HasherOption) (*Hasher, error) {
	h := &Hasher{
		fs:        fsys,
		algorithm: SHA256,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	a, err := ParseAlgorithm(string(h.algorithm))
	if err != nil {
		return nil, err
	}
	h.algorithm = a
	size := h.chunkSize
	h.buffers.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return h, nil
}

// Algorithm returns the configured algorithm
func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// Hash returns the digest and byte length of the file at path. Any failure to
// open or read the file is an Unreadable error; only context cancellation is
// returned as is.
func (h *Hasher) Hash(ctx context.Context, path string) (Digest, int64, error) {
	var d Digest

	info, err := h.fs.Lstat(path)
	if err != nil {
		return d, 0, newError(Unreadable, "hash", path, err)
	}
	if !info.Mode().IsRegular() {
		return d, 0, newError(Unreadable, "hash", path, errNotRegular)
	}

	file, err := h.fs.Open(path)
	if err != nil {
		return d, 0, newError(Unreadable, "hash", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	bufp := h.buffers.Get().(*[]byte)
	defer h.buffers.Put(bufp)
	buf := *bufp

	sum := h.algorithm.newHash()
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return d, 0, err
		}
		n, rerr := file.Read(buf)
		if n > 0 {
			_, _ = sum.Write(buf[:n])
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return d, 0, newError(Unreadable, "hash", path, rerr)
		}
	}

	copy(d[:], sum.Sum(nil))
	return d, total, nil
}
