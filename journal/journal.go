// Package journal keeps an append-only record of merge runs, one JSON
// object per line. Merges cannot be undone (the redundant copies are gone),
// so the journal is informational: it says which paths were linked to which
// master, and which were left alone and why.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/luinbytes/linkdedup/dedup"
)

// Run is one invocation of the consolidator.
type Run struct {
	ID        string    `json:"id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Roots     []string  `json:"roots"`
	Strategy  string    `json:"strategy"`
	DryRun    bool      `json:"dry_run"`
	Merges    []Merge   `json:"merges"`
	Linked    int       `json:"linked"`
	Failed    int       `json:"failed"`
	Reclaimed int64     `json:"reclaimed"`
}

// Merge is the outcome of one request within a run.
type Merge struct {
	Digest    string    `json:"digest"`
	Master    string    `json:"master"`
	Linked    []string  `json:"linked,omitempty"`
	Failed    []Failure `json:"failed,omitempty"`
	Reclaimed int64     `json:"reclaimed"`
}

// Failure is a path the consolidator left untouched or could not finish.
type Failure struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewRun starts a run record.
func NewRun(roots []string, strategy dedup.Strategy, dryRun bool) *Run {
	return &Run{
		ID:       uuid.NewString(),
		Started:  time.Now().UTC(),
		Roots:    append([]string(nil), roots...),
		Strategy: string(strategy),
		DryRun:   dryRun,
	}
}

// Record folds consolidator results into the run and stamps it finished.
func (r *Run) Record(results []dedup.MergeResult) {
	for _, res := range results {
		m := Merge{
			Digest:    res.Digest.String(),
			Master:    res.Master,
			Linked:    append([]string(nil), res.Succeeded...),
			Reclaimed: res.Reclaimed,
		}
		for _, f := range res.Failed {
			m.Failed = append(m.Failed, Failure{Path: f.Path, Kind: string(f.Kind), Message: f.Message()})
		}
		r.Merges = append(r.Merges, m)
		r.Linked += len(m.Linked)
		r.Failed += len(m.Failed)
		r.Reclaimed += m.Reclaimed
	}
	r.Finished = time.Now().UTC()
}

// Journal is a JSON lines file of runs.
type Journal struct {
	path string
}

// Open returns the journal stored at path. The file is created on the first
// Append.
func Open(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.path
}

// Append writes run as a single line.
func (j *Journal) Append(run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write journal: %w", err)
	}
	return f.Close()
}

// Recent returns up to limit runs, newest first. A limit below 1 returns
// every run. Lines that do not decode are skipped and counted.
func (j *Journal) Recent(limit int) ([]Run, int, error) {
	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var (
		runs    []Run
		corrupt int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var run Run
		if err := json.Unmarshal(line, &run); err != nil {
			corrupt++
			continue
		}
		runs = append(runs, run)
	}
	if err := scanner.Err(); err != nil {
		return nil, corrupt, fmt.Errorf("failed to read journal: %w", err)
	}

	for i, k := 0, len(runs)-1; i < k; i, k = i+1, k-1 {
		runs[i], runs[k] = runs[k], runs[i]
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, corrupt, nil
}
