package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quietloop/vaultsync/internal/cloudapi"
	"github.com/quietloop/vaultsync/internal/index"
	"github.com/quietloop/vaultsync/internal/reconcile"
)

// pushJob is one dirty path's upload disposition, decided serially
// (deciding needs the index and local filesystem, both cheap) and then
// executed concurrently.
type pushJob struct {
	vaultPath string
	plaintext []byte
	mtime     int64
	isDelete  bool
	fileID    string // known remote ID, for deletes
}

// SmartPush uploads every dirty path, optionally preceded by a full local
// tree walk that treats every discovered path as dirty (a cold-start or
// post-recovery full push). The hidden config directory is always walked
// in addition to the dirty set, since filesystem watch events never fire
// for it.
func (p *Pipeline) SmartPush(ctx context.Context, scanVault bool) (PushResult, error) {
	result := PushResult{}

	dirty := p.dirty.Dirty()
	if scanVault {
		walked, err := p.walkLocalTree(ctx)
		if err != nil {
			return result, err
		}
		dirty = mergeUnique(dirty, walked)
	}
	dirty = mergeUnique(dirty, p.hiddenConfigPaths())

	jobs, dirsNeeded, err := p.buildJobs(ctx, dirty, &result)
	if err != nil {
		return result, err
	}
	if len(jobs) == 0 {
		// A conflict resolution may have uploaded content without leaving
		// a job behind; the remote index still needs to reflect it.
		if result.Conflicts > 0 {
			if err := p.pushIndex(ctx); err != nil {
				return result, fmt.Errorf("pipeline: uploading index: %w", err)
			}
		}
		return result, nil
	}

	if err := p.EnsureFolders(ctx, dirsNeeded); err != nil {
		return result, err
	}

	uploadJobs, deleteJobs := splitJobs(jobs)

	if err := p.runUploads(ctx, uploadJobs, &result); err != nil {
		return result, err
	}
	p.runDeletes(ctx, deleteJobs, &result)

	if err := p.pushIndex(ctx); err != nil {
		return result, fmt.Errorf("pipeline: uploading index: %w", err)
	}

	return result, nil
}

// buildJobs turns each dirty path into a pushJob, reading local content
// under the torn-write guard: the content is hashed once here, and any
// job whose content hash no longer matches by the time it's actually
// uploaded is abandoned and re-marked dirty rather than uploading a
// half-written file.
func (p *Pipeline) buildJobs(ctx context.Context, dirty []string, result *PushResult) ([]pushJob, []string, error) {
	var jobs []pushJob
	dirSet := make(map[string]bool)

	for _, vaultPath := range dirty {
		if vaultPath == IndexPath {
			continue
		}

		localEntry, hasEntry := p.idx.Get(vaultPath)

		exists, err := p.fs.Exists(vaultPath)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: checking existence of %s: %w", vaultPath, err)
		}
		if !exists {
			job := pushJob{vaultPath: vaultPath, isDelete: true}
			if hasEntry {
				job.fileID = localEntry.FileID
			} else {
				result.Skipped++
				continue
			}
			jobs = append(jobs, job)
			continue
		}

		info, err := p.fs.Stat(vaultPath)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: statting %s: %w", vaultPath, err)
		}
		if info.IsDir {
			continue
		}

		plaintext, err := p.fs.Read(vaultPath)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: reading %s: %w", vaultPath, err)
		}

		if p.opts.MaxFileBytes > 0 && int64(len(plaintext)) > p.opts.MaxFileBytes {
			p.logger.Warn("pipeline: file exceeds size limit, skipping",
				"path", vaultPath, "size", len(plaintext), "limit", p.opts.MaxFileBytes)
			p.dirty.ClearDirty(vaultPath)
			result.Skipped++
			continue
		}

		remoteItem, foundRemote, err := p.cloud.StatByPath(ctx, vaultPath)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: statting remote %s: %w", vaultPath, err)
		}

		if hasEntry && foundRemote && !remoteItem.IsDeleted {
			remote := reconcile.RemoteState{
				Present: true,
				Hash:    remoteItem.Hash,
				MTime:   remoteItem.ModifiedAt.UnixMilli(),
				Size:    remoteItem.Size,
			}
			plainHash, err := hashOf(plaintext)
			if err != nil {
				return nil, nil, err
			}
			local := reconcile.LocalState{Present: true}
			if localEntry.PlainHash != "" && plainHash == localEntry.PlainHash {
				local.Hash = localEntry.Hash
				local.Size = localEntry.Size
			} else {
				ciphertext, err := p.wrap(plaintext)
				if err != nil {
					return nil, nil, err
				}
				if local.Hash, err = hashOf(ciphertext); err != nil {
					return nil, nil, err
				}
				local.Size = int64(len(ciphertext))
			}
			res := reconcile.Decide(local, &localEntry, remote)
			if res.Decision == reconcile.DecisionConflict {
				if err := p.resolveDivergence(ctx, vaultPath, localEntry, true, remoteItem, plaintext); err != nil {
					return nil, nil, err
				}
				result.Conflicts++
				continue
			}
			if res.Decision == reconcile.DecisionNone {
				if res.RefreshEntry != nil {
					p.idx.Put(vaultPath, *res.RefreshEntry)
				}
				p.dirty.ClearDirty(vaultPath)
				continue
			}
			if res.Decision == reconcile.DecisionPull {
				// Only remote moved; uploading would clobber it. The path
				// carries no local change, so it isn't dirty after all;
				// the next pull brings the remote content down.
				p.dirty.ClearDirty(vaultPath)
				continue
			}
		}

		jobs = append(jobs, pushJob{
			vaultPath: vaultPath,
			plaintext: plaintext,
			mtime:     info.Mtime.UnixMilli(),
		})
		dirSet[dirOf(vaultPath)] = true
	}

	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	return jobs, dirs, nil
}

func splitJobs(jobs []pushJob) (uploads, deletes []pushJob) {
	for _, j := range jobs {
		if j.isDelete {
			deletes = append(deletes, j)
		} else {
			uploads = append(uploads, j)
		}
	}
	return uploads, deletes
}

// runUploads pushes every upload job with bounded parallelism via
// errgroup.SetLimit. Index and dirty-set mutation happen under a mutex
// since Store and Tracker are already internally synchronized but the
// PushResult counter is not.
func (p *Pipeline) runUploads(ctx context.Context, jobs []pushJob, result *PushResult) error {
	if len(jobs) == 0 {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			reread, err := p.fs.Read(job.vaultPath)
			if err != nil {
				return fmt.Errorf("pipeline: re-reading %s before upload: %w", job.vaultPath, err)
			}
			currentHash, err := hashOf(reread)
			if err != nil {
				return err
			}
			originalHash, err := hashOf(job.plaintext)
			if err != nil {
				return err
			}
			if currentHash != originalHash {
				p.dirty.MarkDirty(job.vaultPath)
				p.logger.Warn("pipeline: torn write detected, deferring", "path", job.vaultPath)
				return nil
			}

			item, ciphertext, err := p.uploadPath(gctx, job.vaultPath, job.plaintext)
			if err != nil {
				return err
			}
			uploadHash, err := hashOf(ciphertext)
			if err != nil {
				return err
			}

			mu.Lock()
			// A push alone never advances the ancestor hash; only a
			// confirmed-shared observation does.
			ancestorHash := ""
			if prev, ok := p.idx.Get(job.vaultPath); ok {
				ancestorHash = prev.AncestorHash
			}
			p.idx.Put(job.vaultPath, index.Entry{
				FileID:       item.ID,
				MTime:        job.mtime,
				Size:         int64(len(ciphertext)),
				Hash:         uploadHash,
				PlainHash:    originalHash,
				AncestorHash: ancestorHash,
				LastAction:   index.ActionPush,
			})
			p.dirty.ClearDirty(job.vaultPath)
			result.Uploaded++
			mu.Unlock()
			return nil
		})
	}

	return g.Wait()
}

// runDeletes removes every deleted path's remote counterpart. Delete
// errors are logged rather than aborting the push, since a remote
// already-deleted item (ErrNotFound/ErrGone) just means the deletion
// already propagated from elsewhere.
func (p *Pipeline) runDeletes(ctx context.Context, jobs []pushJob, result *PushResult) {
	for _, job := range jobs {
		if job.fileID == "" {
			p.idx.Delete(job.vaultPath)
			p.dirty.ClearDirty(job.vaultPath)
			continue
		}
		if err := p.cloud.Delete(ctx, job.fileID); err != nil &&
			!errors.Is(err, cloudapi.ErrNotFound) && !errors.Is(err, cloudapi.ErrGone) {
			p.logger.Warn("pipeline: deleting remote item failed", "path", job.vaultPath, "error", err)
			continue
		}
		p.idx.Delete(job.vaultPath)
		p.dirty.ClearDirty(job.vaultPath)
		result.Deleted++
	}
}

// pushIndex uploads the current in-memory index, recording its own entry
// with the hash of the bytes just uploaded, never a hash recomputed
// from local disk, since the index file's own disk copy and its gzip
// encoding are not byte-identical across runs.
func (p *Pipeline) pushIndex(ctx context.Context) error {
	gzipped, _, err := p.idx.EncodeSelf()
	if err != nil {
		return err
	}
	ciphertext, err := p.wrap(gzipped)
	if err != nil {
		return err
	}
	parentID, err := p.ensureFolderPath(ctx, dirOf(IndexPath))
	if err != nil {
		return err
	}
	item, err := p.cloud.Upload(ctx, parentID, path.Base(IndexPath), int64(len(ciphertext)), bytes.NewReader(ciphertext))
	if err != nil {
		return err
	}

	uploadHash, err := hashOf(ciphertext)
	if err != nil {
		return err
	}
	p.idx.Put(IndexPath, index.Entry{
		FileID:       item.ID,
		Size:         int64(len(ciphertext)),
		Hash:         uploadHash,
		AncestorHash: uploadHash,
		LastAction:   index.ActionPush,
	})
	return nil
}

// walkLocalTree lists every non-directory path under the vault root, for
// a full-scan push that treats the whole tree as a dirty-set candidate.
func (p *Pipeline) walkLocalTree(ctx context.Context) ([]string, error) {
	var out []string
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := p.fs.List(dir)
		if err != nil {
			return fmt.Errorf("pipeline: listing %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir {
				if e.Path == trashDirName() {
					continue
				}
				if err := walk(e.Path); err != nil {
					return err
				}
				continue
			}
			if e.Path == IndexPath {
				continue
			}
			out = append(out, e.Path)
		}
		return nil
	}
	if err := walk("."); err != nil {
		return nil, err
	}
	return out, nil
}

func trashDirName() string {
	return ".vaultsync-trash"
}

// hiddenConfigPaths lists every file under the hidden config directory,
// walked explicitly on every push since no filesystem watch event ever
// fires for it.
func (p *Pipeline) hiddenConfigPaths() []string {
	var out []string
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := p.fs.List(dir)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			if e.IsDir {
				_ = walk(e.Path)
				continue
			}
			if e.Path == IndexPath {
				continue
			}
			out = append(out, e.Path)
		}
		return nil
	}
	_ = walk(hiddenConfigDir)
	return out
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, p := range a {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range b {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
