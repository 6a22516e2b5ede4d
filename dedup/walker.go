package dedup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/luinbytes/linkdedup/storage"
	"github.com/rs/zerolog"
)

// DefaultExcludePrefixes are name prefixes of lock and owner files written by
// office suites while a document is open. They change constantly and are
// never authoritative content.
var DefaultExcludePrefixes = []string{"~$", ".~lock."}

// WalkOptions controls which entries the walker yields.
type WalkOptions struct {
	Recursive       bool
	SkipHidden      bool
	ExcludePrefixes []string
	MinSize         int64 // bytes, inclusive
	MaxSize         int64 // bytes, inclusive; 0 = unlimited
	Pattern         string
}

// DefaultWalkOptions returns recursive walking with the default exclusions.
func DefaultWalkOptions() WalkOptions {
	return WalkOptions{
		Recursive:       true,
		ExcludePrefixes: append([]string(nil), DefaultExcludePrefixes...),
	}
}

// Candidate is one entry produced by a walk. A candidate with Err set reports
// an obstruction (a directory or entry that could not be read) rather than a
// file.
type Candidate struct {
	Path string
	Seq  uint64
	Size int64
	ID   storage.FileID
	Err  error
}

// Walker enumerates regular files under a set of roots.
type Walker struct {
	fs   storage.FS
	opts WalkOptions
	log  zerolog.Logger
}

// NewWalker creates a walker over fsys.
func NewWalker(fsys storage.FS, opts WalkOptions, logger zerolog.Logger) (*Walker, error) {
	if opts.MinSize < 0 || opts.MaxSize < 0 {
		return nil, fmt.Errorf("size limits must not be negative")
	}
	if opts.MaxSize > 0 && opts.MaxSize < opts.MinSize {
		return nil, fmt.Errorf("max size %d is below min size %d", opts.MaxSize, opts.MinSize)
	}
	if opts.Pattern != "" {
		if _, err := filepath.Match(opts.Pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", opts.Pattern, err)
		}
	}
	return &Walker{fs: fsys, opts: opts, log: logger}, nil
}

// ResolveRoots makes every root absolute and checks it is a directory that
// can be listed. Symlinked roots are resolved so the walk can descend into
// them. A root that cannot be reached fails the whole scan.
func (w *Walker) ResolveRoots(roots []string) ([]string, error) {
	if len(roots) == 0 {
		return nil, newError(RootInaccessible, "resolve", "", errors.New("no roots given"))
	}
	resolved := make([]string, 0, len(roots))
	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, newError(RootInaccessible, "resolve", root, err)
		}
		if abs, err = w.fs.EvalSymlinks(abs); err != nil {
			return nil, newError(RootInaccessible, "resolve", root, err)
		}
		info, err := w.fs.Stat(abs)
		if err != nil {
			return nil, newError(RootInaccessible, "stat", abs, err)
		}
		if !info.IsDir() {
			return nil, newError(RootInaccessible, "stat", abs, errors.New("not a directory"))
		}
		if _, err := w.fs.ReadDir(abs); err != nil {
			return nil, newError(RootInaccessible, "readdir", abs, err)
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		resolved = append(resolved, abs)
	}
	return resolved, nil
}

// Walk starts a depth-first walk of roots and returns the candidates as they
// are found. The channel is closed once every root is exhausted or ctx is
// done. The sequence is single-pass; call Walk again for a fresh scan.
// Roots are expected to be absolute (see ResolveRoots).
func (w *Walker) Walk(ctx context.Context, roots []string) <-chan Candidate {
	out := make(chan Candidate)
	go func() {
		defer close(out)
		s := &walkState{
			out:   out,
			dirs:  make(map[string]struct{}),
			files: make(map[string]struct{}),
		}
		for _, root := range roots {
			if err := w.walkDir(ctx, filepath.Clean(root), s); err != nil {
				w.log.Debug().Err(err).Msg("Walk stopped")
				return
			}
		}
	}()
	return out
}

type walkState struct {
	out   chan<- Candidate
	seq   uint64
	dirs  map[string]struct{}
	files map[string]struct{}
}

func (s *walkState) emit(ctx context.Context, c Candidate) error {
	select {
	case s.out <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// walkDir only returns an error when the walk must stop (cancellation);
// unreadable entries are emitted as obstructions.
func (w *Walker) walkDir(ctx context.Context, dir string, s *walkState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.dirs[dir]; ok {
		return nil
	}
	s.dirs[dir] = struct{}{}

	entries, err := w.fs.ReadDir(dir)
	if err != nil {
		w.log.Warn().Err(err).Str("path", dir).Msg("Skipping unreadable directory")
		if err := s.emit(ctx, Candidate{Path: dir, Err: newError(WalkObstructed, "readdir", dir, err)}); err != nil {
			return err
		}
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)

		if w.excluded(name) {
			w.log.Trace().Str("path", path).Msg("Skipping excluded entry")
			continue
		}

		typ := entry.Type()
		switch {
		case typ&fs.ModeSymlink != 0:
			w.log.Trace().Str("path", path).Msg("Skipping symlink")
			continue
		case entry.IsDir():
			if !w.opts.Recursive {
				continue
			}
			if err := w.walkDir(ctx, path, s); err != nil {
				return err
			}
			continue
		case !typ.IsRegular():
			continue
		}

		if _, ok := s.files[path]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("Skipping vanished entry")
			if err := s.emit(ctx, Candidate{Path: path, Err: newError(WalkObstructed, "stat", path, err)}); err != nil {
				return err
			}
			continue
		}
		if !w.sizeAllowed(info.Size()) || !w.patternAllowed(name) {
			continue
		}

		id, err := w.fs.FileID(path)
		if err != nil {
			w.log.Debug().Err(err).Str("path", path).Msg("Could not resolve file id")
		}

		s.files[path] = struct{}{}
		s.seq++
		if err := s.emit(ctx, Candidate{Path: path, Seq: s.seq, Size: info.Size(), ID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) excluded(name string) bool {
	if w.opts.SkipHidden && strings.HasPrefix(name, ".") {
		return true
	}
	for _, prefix := range w.opts.ExcludePrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (w *Walker) sizeAllowed(size int64) bool {
	if size < w.opts.MinSize {
		return false
	}
	return w.opts.MaxSize == 0 || size <= w.opts.MaxSize
}

func (w *Walker) patternAllowed(name string) bool {
	if w.opts.Pattern == "" {
		return true
	}
	matched, _ := filepath.Match(w.opts.Pattern, name)
	return matched
}
