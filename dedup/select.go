package dedup

import (
	"fmt"
	"strings"
	"time"

	"github.com/luinbytes/linkdedup/storage"
)

// KeepPolicy decides which path of a group is retained as the master:
// "first" (discovery order), "oldest", "newest" (modification time) or
// "path:<substring>" (first path containing the substring).
type KeepPolicy string

const (
	KeepFirst  KeepPolicy = "first"
	KeepOldest KeepPolicy = "oldest"
	KeepNewest KeepPolicy = "newest"

	keepPathPrefix = "path:"
)

// ParseKeepPolicy validates a policy string; empty means KeepFirst.
func ParseKeepPolicy(s string) (KeepPolicy, error) {
	p := strings.TrimSpace(s)
	if strings.HasPrefix(p, keepPathPrefix) {
		if strings.TrimPrefix(p, keepPathPrefix) == "" {
			return "", fmt.Errorf("keep policy %q needs a path fragment", s)
		}
		return KeepPolicy(p), nil
	}
	switch kp := KeepPolicy(strings.ToLower(p)); kp {
	case "":
		return KeepFirst, nil
	case KeepFirst, KeepOldest, KeepNewest:
		return kp, nil
	default:
		return "", fmt.Errorf("unknown keep policy %q (want first, oldest, newest or path:<fragment>)", s)
	}
}

// ChooseMaster picks the retained path among paths (given in discovery order).
// Paths that cannot be stat'ed are never chosen by the time based policies;
// when no path qualifies the first one is returned.
func ChooseMaster(fsys storage.FS, paths []string, policy KeepPolicy) string {
	if len(paths) == 0 {
		return ""
	}

	if fragment, ok := strings.CutPrefix(string(policy), keepPathPrefix); ok {
		for _, p := range paths {
			if strings.Contains(p, fragment) {
				return p
			}
		}
		return paths[0]
	}

	switch policy {
	case KeepOldest, KeepNewest:
		best := ""
		var bestTime time.Time
		for _, p := range paths {
			info, err := fsys.Lstat(p)
			if err != nil {
				continue
			}
			mt := info.ModTime()
			if best == "" ||
				(policy == KeepOldest && mt.Before(bestTime)) ||
				(policy == KeepNewest && mt.After(bestTime)) {
				best, bestTime = p, mt
			}
		}
		if best != "" {
			return best
		}
	}
	return paths[0]
}

// SelectAll builds one request per group that still holds more than one
// distinct file, merging every path and choosing the master by policy. This is
// the non-interactive counterpart of a selection UI.
func SelectAll(fsys storage.FS, groups Groups, policy KeepPolicy) []MergeRequest {
	var reqs []MergeRequest
	for _, group := range groups.Sorted() {
		if group.Consolidated() {
			continue
		}
		req := NewMergeRequest(group)
		if master := ChooseMaster(fsys, group.Paths, policy); master != "" {
			req.Master = master
		}
		reqs = append(reqs, req)
	}
	return reqs
}
