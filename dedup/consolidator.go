package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/luinbytes/linkdedup/storage"
	"github.com/rs/zerolog"
)

// Strategy selects how a redundant path is vacated before linking.
type Strategy string

const (
	// StrategyDirect removes the redundant entry and then links the master in
	// its place.
	StrategyDirect Strategy = "direct"

	// StrategyBackup renames the redundant entry aside, links the master in
	// its place and only then deletes the renamed entry. A failed link puts
	// the original back.
	StrategyBackup Strategy = "backup"
)

// BackupSuffix is appended to a redundant path while StrategyBackup holds it
// aside.
const BackupSuffix = ".linkdedup-backup"

// ParseStrategy normalises a strategy name; empty means StrategyDirect.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyDirect, nil
	case StrategyDirect, StrategyBackup:
		return st, nil
	default:
		return "", fmt.Errorf("unknown merge strategy %q (want direct or backup)", s)
	}
}

// Consolidator replaces redundant copies with hardlinks to a retained master.
//
// Each redundant path goes through verify, remove and link, in that order,
// independently of the other paths in the request. Removal must precede
// linking because a link cannot be created over an existing entry. With
// StrategyDirect this leaves a window: if the process dies, or the link fails,
// after the removal, the redundant path is gone and its content survives only
// through the master. StrategyBackup narrows the window to a process crash,
// after which the content is still on disk under BackupSuffix.
type Consolidator struct {
	fs       storage.FS
	strategy Strategy
	rehash   *Hasher
	dryRun   bool
	log      zerolog.Logger
}

// ConsolidatorOption configures a Consolidator
type ConsolidatorOption func(*Consolidator)

// WithStrategy selects how redundant paths are vacated
func WithStrategy(s Strategy) ConsolidatorOption {
	return func(c *Consolidator) { c.strategy = s }
}

// WithRehash re-hashes master and redundant files before touching them and
// refuses paths whose content no longer matches the request digest.
func WithRehash(h *Hasher) ConsolidatorOption {
	return func(c *Consolidator) { c.rehash = h }
}

// WithDryRun runs verification only
func WithDryRun(dryRun bool) ConsolidatorOption {
	return func(c *Consolidator) { c.dryRun = dryRun }
}

// WithConsolidatorLogger sets the consolidator logger
func WithConsolidatorLogger(l zerolog.Logger) ConsolidatorOption {
	return func(c *Consolidator) { c.log = l }
}

// NewConsolidator creates a consolidator operating on fsys.
func NewConsolidator(fsys storage.FS, opts ...ConsolidatorOption) *Consolidator {
	c := &Consolidator{
		fs:       fsys,
		strategy: StrategyDirect,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MergeAll applies every request in order. Once ctx is done the remaining
// paths are reported as Canceled rather than attempted.
func (c *Consolidator) MergeAll(ctx context.Context, reqs []MergeRequest) []MergeResult {
	results := make([]MergeResult, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, c.Merge(ctx, req))
	}
	return results
}

// Merge applies one request. The master is never removed or relinked. A
// failure on one redundant path does not stop the others; nothing is retried.
func (c *Consolidator) Merge(ctx context.Context, req MergeRequest) MergeResult {
	res := MergeResult{Digest: req.Digest, Master: req.Master, DryRun: c.dryRun}
	logger := c.log.With().Str("digest", req.Digest.Short()).Str("master", req.Master).Logger()

	if err := req.Validate(); err != nil {
		for _, p := range req.Redundant() {
			res.fail(p, newError(InvalidRequest, "validate", p, err))
		}
		if len(res.Failed) == 0 {
			res.fail(req.Master, newError(InvalidRequest, "validate", req.Master, err))
		}
		logger.Warn().Err(err).Msg("Rejected merge request")
		return res
	}

	master, err := c.verifyMaster(ctx, req)
	if err != nil {
		for _, p := range req.Redundant() {
			res.fail(p, newError(MasterUnavailable, "verify master", req.Master, err))
		}
		logger.Warn().Err(err).Msg("Master failed verification")
		return res
	}

	for _, path := range req.Redundant() {
		if err := ctx.Err(); err != nil {
			res.fail(path, newError(Canceled, "merge", path, err))
			continue
		}
		reclaimed, err := c.mergePath(ctx, req, master, path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Merge failed")
			res.fail(path, err)
			continue
		}
		res.Succeeded = append(res.Succeeded, path)
		res.Reclaimed += reclaimed
	}

	logger.Info().Int("linked", len(res.Succeeded)).Int("failed", len(res.Failed)).
		Int64("reclaimed", res.Reclaimed).Bool("dry_run", c.dryRun).Msg("Merge finished")
	return res
}

type masterInfo struct {
	id   storage.FileID
	size int64
}

func (c *Consolidator) verifyMaster(ctx context.Context, req MergeRequest) (masterInfo, error) {
	info, err := c.fs.Lstat(req.Master)
	if err != nil {
		return masterInfo{}, newError(classify(err), "verify master", req.Master, err)
	}
	if !info.Mode().IsRegular() {
		return masterInfo{}, newError(Other, "verify master", req.Master, errNotRegular)
	}
	id, err := c.fs.FileID(req.Master)
	if err != nil {
		return masterInfo{}, newError(classify(err), "verify master", req.Master, err)
	}
	if c.rehash != nil {
		if err := c.checkContent(ctx, req, req.Master); err != nil {
			return masterInfo{}, err
		}
	}
	return masterInfo{id: id, size: info.Size()}, nil
}

func (c *Consolidator) checkContent(ctx context.Context, req MergeRequest, path string) error {
	digest, _, err := c.rehash.Hash(context.WithoutCancel(ctx), path)
	if err != nil {
		var de *Error
		if errors.As(err, &de) && de.Err != nil {
			return newError(classify(de.Err), "verify", path, de.Err)
		}
		return newError(classify(err), "verify", path, err)
	}
	if digest != req.Digest {
		return newError(ContentChanged, "verify", path,
			fmt.Errorf("digest is now %s, expected %s", digest.Short(), req.Digest.Short()))
	}
	return nil
}

// mergePath runs verify, remove and link for one redundant path and returns
// the bytes freed. Once removal has started the step runs to completion
// regardless of ctx.
func (c *Consolidator) mergePath(ctx context.Context, req MergeRequest, master masterInfo, path string) (int64, error) {
	// Verify
	info, err := c.fs.Lstat(path)
	if err != nil {
		return 0, newError(classify(err), "verify", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, newError(Other, "verify", path, errNotRegular)
	}
	id, err := c.fs.FileID(path)
	if err != nil {
		return 0, newError(classify(err), "verify", path, err)
	}
	if id.SameFile(master.id) {
		c.log.Debug().Str("path", path).Msg("Already linked to master")
		return 0, nil
	}
	if id.Known() && master.id.Known() && !id.SameDevice(master.id) {
		return 0, newError(CrossDevice, "verify", path,
			fmt.Errorf("device %d differs from master device %d", id.Device, master.id.Device))
	}
	if info.Size() != master.size {
		return 0, newError(ContentChanged, "verify", path, errSizeMismatch)
	}
	if c.rehash != nil {
		if err := c.checkContent(ctx, req, path); err != nil {
			return 0, err
		}
	}

	if c.dryRun {
		return info.Size(), nil
	}

	switch c.strategy {
	case StrategyBackup:
		if err := c.replaceViaBackup(req.Master, path); err != nil {
			return 0, err
		}
	default:
		if err := c.replaceDirect(req.Master, path); err != nil {
			return 0, err
		}
	}

	c.log.Debug().Str("path", path).Msg("Linked to master")
	return info.Size(), nil
}

func (c *Consolidator) replaceDirect(master, path string) error {
	// Remove
	if err := c.fs.Remove(path); err != nil {
		return newError(classify(err), "remove", path, err)
	}
	// Link
	if err := c.fs.Link(master, path); err != nil {
		c.log.Error().Err(err).Str("path", path).Str("master", master).
			Msg("Path removed but link failed; its content remains only at the master")
		return newError(classify(err), "link", path, err)
	}
	return nil
}

func (c *Consolidator) replaceViaBackup(master, path string) error {
	backup := path + BackupSuffix
	if _, err := c.fs.Lstat(backup); err == nil {
		return newError(Other, "remove", path, fmt.Errorf("backup path %s already exists", backup))
	}

	// Remove (set aside)
	if err := c.fs.Rename(path, backup); err != nil {
		return newError(classify(err), "remove", path, err)
	}

	// Link
	if err := c.fs.Link(master, path); err != nil {
		linkErr := newError(classify(err), "link", path, err)
		if rerr := c.fs.Rename(backup, path); rerr != nil {
			c.log.Error().Err(rerr).Str("path", path).Str("backup", backup).
				Msg("Link failed and the original could not be restored; it is kept at the backup path")
			linkErr.Err = errors.Join(err, fmt.Errorf("restore from %s: %w", backup, rerr))
		}
		return linkErr
	}

	if err := c.fs.Remove(backup); err != nil {
		// The path is already linked; only the space is not yet reclaimed.
		return newError(classify(err), "cleanup", path,
			fmt.Errorf("linked, but backup %s could not be removed: %w", backup, err))
	}
	return nil
}
