// Package dedup finds files with identical content under a set of roots and
// consolidates confirmed duplicates into hardlinks of a single retained file.
//
// A scan runs a Walker, a pool of Hasher workers and a Grouper:
//
//	scanner := dedup.NewScanner(walker, hasher, dedup.WithWorkers(8))
//	result, err := scanner.Scan(ctx, []string{"/srv/a", "/srv/b"})
//
// result.Groups maps each digest shared by two or more paths to those paths.
// The caller picks what to merge, as MergeRequests, and hands them to a
// Consolidator:
//
//	reqs := dedup.SelectAll(fsys, result.Groups, dedup.KeepFirst)
//	results := dedup.NewConsolidator(fsys).MergeAll(ctx, reqs)
//
// Nothing is persisted between scans.
package dedup
