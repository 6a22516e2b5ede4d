package dedup

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Stats summarises one scan.
type Stats struct {
	Files       int           `json:"files"`
	Hashed      int           `json:"hashed"`
	Bytes       int64         `json:"bytes"`
	Unreadable  int           `json:"unreadable"`
	Obstructed  int           `json:"obstructed"`
	Groups      int           `json:"groups"`
	Duplicates  int           `json:"duplicates"`
	Reclaimable int64         `json:"reclaimable"`
	Duration    time.Duration `json:"duration"`
}

// ScanResult is handed to the caller once every worker has finished.
type ScanResult struct {
	Roots    []string      `json:"roots"`
	Groups   Groups        `json:"-"`
	Failures []PathFailure `json:"failures"`
	Stats    Stats         `json:"stats"`
}

// Progress is reported while a scan runs.
type Progress struct {
	Discovered int
	Hashed     int
	Bytes      int64
}

// Scanner runs the walk -> hash -> group pipeline.
type Scanner struct {
	walker   *Walker
	hasher   *Hasher
	workers  int
	log      zerolog.Logger
	progress func(Progress)
}

// ScannerOption configures a Scanner
type ScannerOption func(*Scanner)

// WithWorkers bounds the number of concurrent hashing goroutines
func WithWorkers(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the scanner logger
func WithLogger(l zerolog.Logger) ScannerOption {
	return func(s *Scanner) { s.log = l }
}

// WithProgress registers a callback invoked after every candidate. Calls are
// serialised.
func WithProgress(fn func(Progress)) ScannerOption {
	return func(s *Scanner) { s.progress = fn }
}

// NewScanner wires a walker and a hasher into a scanner.
func NewScanner(w *Walker, h *Hasher, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		walker:  w,
		hasher:  h,
		workers: runtime.NumCPU(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Walker returns the scanner's walker
func (s *Scanner) Walker() *Walker {
	return s.walker
}

// Hasher returns the scanner's hasher
func (s *Scanner) Hasher() *Hasher {
	return s.hasher
}

// Scan walks roots, hashes every candidate on a bounded worker pool and groups
// the results. Per-file problems are collected in ScanResult.Failures; the
// returned error is reserved for unreachable roots and cancellation, in which
// case partial results are discarded.
func (s *Scanner) Scan(ctx context.Context, roots []string) (*ScanResult, error) {
	start := time.Now()

	resolved, err := s.walker.ResolveRoots(roots)
	if err != nil {
		return nil, err
	}
	s.log.Info().Strs("roots", resolved).Str("fs", s.walker.fs.Name()).Int("workers", s.workers).
		Str("algorithm", string(s.hasher.Algorithm())).Msg("Scan started")

	g, gctx := errgroup.WithContext(ctx)
	candidates := s.walker.Walk(gctx, resolved)
	grouper := NewGrouper()

	var (
		mu       sync.Mutex
		stats    Stats
		failures []PathFailure
		progress Progress
	)
	record := func(c Candidate, size int64, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case c.Err != nil:
			stats.Obstructed++
			failures = append(failures, failure(c.Path, c.Err))
		case err != nil:
			stats.Files++
			stats.Unreadable++
			failures = append(failures, failure(c.Path, err))
			progress.Discovered++
		default:
			stats.Files++
			stats.Hashed++
			stats.Bytes += size
			progress.Discovered++
			progress.Hashed++
			progress.Bytes += size
		}
		if s.progress != nil {
			s.progress(progress)
		}
	}

	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for c := range candidates {
				if c.Err != nil {
					record(c, 0, nil)
					continue
				}
				digest, size, err := s.hasher.Hash(gctx, c.Path)
				if err != nil {
					if isContextErr(err) {
						return err
					}
					s.log.Warn().Err(err).Str("path", c.Path).Msg("Skipping unreadable file")
					grouper.Add(FileRecord{Path: c.Path, Seq: c.Seq, Err: err})
					record(c, 0, err)
					continue
				}
				s.log.Trace().Str("path", c.Path).Str("digest", digest.Short()).Int64("size", size).Msg("Hashed")
				grouper.Add(FileRecord{Path: c.Path, Seq: c.Seq, Size: size, ID: c.ID, Digest: digest})
				record(c, size, nil)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	groups := grouper.Groups()
	stats.Groups = len(groups)
	for _, group := range groups {
		stats.Duplicates += len(group.Paths) - 1
	}
	stats.Reclaimable = groups.Reclaimable()
	stats.Duration = time.Since(start)

	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })

	s.log.Info().Int("files", stats.Files).Int("groups", stats.Groups).
		Int("unreadable", stats.Unreadable).Int("obstructed", stats.Obstructed).
		Dur("duration", stats.Duration).Msg("Scan completed")

	return &ScanResult{
		Roots:    resolved,
		Groups:   groups,
		Failures: failures,
		Stats:    stats,
	}, nil
}
