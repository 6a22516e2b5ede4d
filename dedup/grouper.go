package dedup

import (
	"bytes"
	"sort"
	"sync"

	"github.com/luinbytes/linkdedup/storage"
)

// FileRecord is the outcome of hashing one walked file. A record with Err set
// has no digest and never takes part in grouping.
type FileRecord struct {
	Path   string
	Seq    uint64
	Size   int64
	ID     storage.FileID
	Digest Digest
	Err    error
}

// HasDigest reports whether the file was hashed successfully.
func (r FileRecord) HasDigest() bool {
	return r.Err == nil
}

// DuplicateGroup is a set of at least two paths sharing one digest, ordered by
// discovery.
type DuplicateGroup struct {
	Digest Digest   `json:"digest"`
	Size   int64    `json:"size"`
	Paths  []string `json:"paths"`

	// Distinct counts the separate files behind Paths; paths that are already
	// hardlinks of each other count once.
	Distinct int `json:"distinct"`
}

// Reclaimable returns the bytes a full merge of the group would free.
func (g DuplicateGroup) Reclaimable() int64 {
	if g.Distinct < 2 {
		return 0
	}
	return g.Size * int64(g.Distinct-1)
}

// Consolidated reports whether every path already shares one file.
func (g DuplicateGroup) Consolidated() bool {
	return g.Distinct < 2
}

// Groups is a read-only snapshot of the digest -> paths mapping. Map iteration
// order carries no meaning; use Sorted for a stable order.
type Groups map[Digest]DuplicateGroup

// Sorted returns the groups ordered by reclaimable bytes (largest first), then
// by digest.
func (g Groups) Sorted() []DuplicateGroup {
	out := make([]DuplicateGroup, 0, len(g))
	for _, group := range g {
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Reclaimable(), out[j].Reclaimable()
		if ri != rj {
			return ri > rj
		}
		return bytes.Compare(out[i].Digest[:], out[j].Digest[:]) < 0
	})
	return out
}

// Reclaimable sums the reclaimable bytes of every group.
func (g Groups) Reclaimable() int64 {
	var total int64
	for _, group := range g {
		total += group.Reclaimable()
	}
	return total
}

// Pending returns the groups that still hold more than one distinct file.
func (g Groups) Pending() Groups {
	out := make(Groups, len(g))
	for d, group := range g {
		if !group.Consolidated() {
			out[d] = group
		}
	}
	return out
}

type member struct {
	seq  uint64
	path string
	id   storage.FileID
}

// Grouper accumulates records into digest-keyed groups. It is safe for
// concurrent use by multiple producers; Groups should be read once all of
// them have finished.
type Grouper struct {
	mu      sync.Mutex
	members map[Digest][]member
	sizes   map[Digest]int64
	seen    map[string]struct{}
	dropped int
}

// NewGrouper creates an empty grouper.
func NewGrouper() *Grouper {
	return &Grouper{
		members: make(map[Digest][]member),
		sizes:   make(map[Digest]int64),
		seen:    make(map[string]struct{}),
	}
}

// Add folds one record into the mapping. Records without a digest and paths
// already added are dropped; Add reports whether the record was kept.
func (g *Grouper) Add(r FileRecord) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !r.HasDigest() {
		g.dropped++
		return false
	}
	if _, ok := g.seen[r.Path]; ok {
		return false
	}
	g.seen[r.Path] = struct{}{}
	g.members[r.Digest] = append(g.members[r.Digest], member{seq: r.Seq, path: r.Path, id: r.ID})
	g.sizes[r.Digest] = r.Size
	return true
}

// Dropped returns how many records were rejected for lacking a digest.
func (g *Grouper) Dropped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}

// Groups returns a snapshot holding only digests with two or more paths.
// Paths within a group are ordered by discovery sequence.
func (g *Grouper) Groups() Groups {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(Groups)
	for digest, members := range g.members {
		if len(members) < 2 {
			continue
		}
		sorted := append([]member(nil), members...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].seq < sorted[j].seq })

		paths := make([]string, len(sorted))
		for i, m := range sorted {
			paths[i] = m.path
		}
		out[digest] = DuplicateGroup{
			Digest:   digest,
			Size:     g.sizes[digest],
			Paths:    paths,
			Distinct: distinctFiles(sorted),
		}
	}
	return out
}

func distinctFiles(members []member) int {
	ids := make(map[storage.FileID]struct{}, len(members))
	unknown := 0
	for _, m := range members {
		if !m.id.Known() {
			unknown++
			continue
		}
		ids[storage.FileID{Device: m.id.Device, Inode: m.id.Inode}] = struct{}{}
	}
	return len(ids) + unknown
}
