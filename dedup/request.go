package dedup

import (
	"errors"
	"fmt"
)

// MergeRequest asks the consolidator to turn every path except Master into a
// hardlink of Master. It is built by the caller from a DuplicateGroup.
type MergeRequest struct {
	Digest Digest   `json:"digest"`
	Master string   `json:"master"`
	Paths  []string `json:"paths"`
	Size   int64    `json:"size"`

	// Distinct is the group's count of separate files; 0 when unknown.
	Distinct int `json:"distinct,omitempty"`
}

// NewMergeRequest builds a request for group. With no paths the whole group is
// merged. The master is the first selected path in discovery order; use
// WithMaster to choose another.
func NewMergeRequest(group DuplicateGroup, paths ...string) MergeRequest {
	selected := group.Paths
	if len(paths) > 0 {
		want := make(map[string]struct{}, len(paths))
		for _, p := range paths {
			want[p] = struct{}{}
		}
		selected = make([]string, 0, len(paths))
		for _, p := range group.Paths {
			if _, ok := want[p]; ok {
				selected = append(selected, p)
			}
		}
	}

	req := MergeRequest{
		Digest:   group.Digest,
		Paths:    append([]string(nil), selected...),
		Size:     group.Size,
		Distinct: group.Distinct,
	}
	if len(req.Paths) > 0 {
		req.Master = req.Paths[0]
	}
	return req
}

// WithMaster returns a copy of the request retaining master instead.
func (r MergeRequest) WithMaster(master string) (MergeRequest, error) {
	for _, p := range r.Paths {
		if p == master {
			r.Master = master
			return r, nil
		}
	}
	return r, fmt.Errorf("master %s is not part of the request", master)
}

// Redundant returns the paths that will be replaced by links.
func (r MergeRequest) Redundant() []string {
	out := make([]string, 0, len(r.Paths))
	for _, p := range r.Paths {
		if p != r.Master {
			out = append(out, p)
		}
	}
	return out
}

// Reclaimable estimates the bytes the request frees. Paths of the group that
// already share a file count once, so the estimate never exceeds the group's
// Reclaimable.
func (r MergeRequest) Reclaimable() int64 {
	n := len(r.Redundant())
	if r.Distinct > 0 && r.Distinct-1 < n {
		n = r.Distinct - 1
	}
	return r.Size * int64(n)
}

// Validate checks the request is well formed: at least two distinct paths,
// one of which is the master.
func (r MergeRequest) Validate() error {
	if len(r.Paths) < 2 {
		return errors.New("a merge needs at least two paths")
	}
	if r.Master == "" {
		return errors.New("no master path")
	}
	seen := make(map[string]struct{}, len(r.Paths))
	hasMaster := false
	for _, p := range r.Paths {
		if p == "" {
			return errors.New("empty path")
		}
		if _, ok := seen[p]; ok {
			return fmt.Errorf("path %s listed twice", p)
		}
		seen[p] = struct{}{}
		if p == r.Master {
			hasMaster = true
		}
	}
	if !hasMaster {
		return fmt.Errorf("master %s is not part of the request", r.Master)
	}
	return nil
}

// MergeResult reports the outcome of one request, path by path.
type MergeResult struct {
	Digest    Digest        `json:"digest"`
	Master    string        `json:"master"`
	Succeeded []string      `json:"succeeded"`
	Failed    []PathFailure `json:"failed"`
	Reclaimed int64         `json:"reclaimed"`
	DryRun    bool          `json:"dry_run"`
}

// OK reports whether every redundant path was merged.
func (r MergeResult) OK() bool {
	return len(r.Failed) == 0
}

func (r *MergeResult) fail(path string, err error) {
	r.Failed = append(r.Failed, failure(path, err))
}
