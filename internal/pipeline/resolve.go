package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"

	"github.com/quietloop/vaultsync/internal/cloudapi"
	"github.com/quietloop/vaultsync/internal/conflict"
	"github.com/quietloop/vaultsync/internal/index"
)

// divergence carries every byte sequence and piece of metadata the
// conflict resolution funnel needs, assembled once by the caller (either
// the push-time or pull-time entry point) and consumed by applyMerge/
// applyRemoteWins/applyLocalWins.
type divergence struct {
	vaultPath       string
	localEntry      index.Entry
	hasLocalEntry   bool
	remoteItem      cloudapi.Item
	localPlaintext  []byte
	remotePlaintext []byte
	remoteCipher    []byte
	basePlaintext   []byte
	ancestorCipher  []byte
	hasAncestor     bool
}

// resolveDivergence drives the conflict resolution funnel for a path
// whose local and remote content have diverged: ancestor discovery, the configured strategy, and applying whichever outcome
// comes back. Used by both the push-time entry point (uploading would
// silently clobber a remote change we never saw) and the pull-time entry
// point (local disk and remote have each moved since the last confirmed
// sync).
func (p *Pipeline) resolveDivergence(ctx context.Context, vaultPath string, localEntry index.Entry, hasLocalEntry bool, remoteItem cloudapi.Item, localPlaintext []byte) error {
	if p.comm != nil {
		now := p.nowFunc()
		if lease, held, err := conflict.ActiveLease(p.comm, vaultPath, now); err == nil && held && lease.Device != p.opts.DeviceID {
			// Another device announced it is merging this path; leave it
			// dirty and let a later cycle retry after the lease expires.
			p.logger.Info("pipeline: merge lease held elsewhere, deferring",
				"path", vaultPath, "device", lease.Device)
			p.dirty.MarkDirty(vaultPath)
			return nil
		}
		acquired, err := conflict.AcquireLease(p.comm, p.opts.DeviceID, vaultPath, uuid.NewString(), now)
		if err != nil {
			return fmt.Errorf("pipeline: acquiring merge lease for %s: %w", vaultPath, err)
		}
		if !acquired {
			p.dirty.MarkDirty(vaultPath)
			return nil
		}
		defer func() {
			if err := conflict.ReleaseLease(p.comm, vaultPath); err != nil {
				p.logger.Warn("pipeline: releasing merge lease failed", "path", vaultPath, "error", err)
			}
		}()
	}

	candidateHashes := map[string]bool{}
	if hasLocalEntry && localEntry.Hash != "" {
		candidateHashes[localEntry.Hash] = true
	}
	if h, err := hashOf(localPlaintext); err == nil {
		candidateHashes[h] = true
	}

	knownAncestor := ""
	if hasLocalEntry {
		knownAncestor = localEntry.AncestorHash
	}

	_, ancestorCipher, found, err := p.resolver.FindCommonAncestorHash(vaultPath, knownAncestor, candidateHashes)
	if err != nil {
		return fmt.Errorf("pipeline: finding common ancestor for %s: %w", vaultPath, err)
	}

	d := &divergence{
		vaultPath:      vaultPath,
		localEntry:     localEntry,
		hasLocalEntry:  hasLocalEntry,
		remoteItem:     remoteItem,
		localPlaintext: localPlaintext,
		hasAncestor:    found,
		ancestorCipher: ancestorCipher,
	}

	if found {
		basePlaintext, err := p.unwrap(ancestorCipher)
		if err != nil {
			return fmt.Errorf("pipeline: unwrapping ancestor revision of %s: %w", vaultPath, err)
		}
		d.basePlaintext = basePlaintext
	}

	remoteCipher, err := p.downloadItem(ctx, remoteItem.ID)
	if err != nil {
		return err
	}
	remotePlaintext, err := p.unwrap(remoteCipher)
	if err != nil {
		return fmt.Errorf("pipeline: unwrapping remote content of %s: %w", vaultPath, err)
	}
	d.remoteCipher = remoteCipher
	d.remotePlaintext = remotePlaintext

	var base []byte
	if found {
		base = d.basePlaintext
	}
	outcome := p.resolver.Resolve(vaultPath, base, localPlaintext, remotePlaintext)

	switch {
	case outcome.MergedContent != nil:
		return p.applyMerge(ctx, d, outcome)
	case outcome.CanonicalIsRemote:
		return p.applyRemoteWins(ctx, d, outcome)
	default:
		return p.applyLocalWins(ctx, d, outcome)
	}
}

// applyMerge writes the clean 3-way merge result locally, pushes it, and
// records the post-merge index state: the ancestor hash advances to
// the base revision's (ciphertext-space) hash, and lastAction is set to push once the upload that follows the merge
// succeeds (the merge's own "lastAction=merge" intermediate state is
// folded into this single atomic write-then-push, since the pipeline
// never persists a merge that it hasn't also immediately propagated).
func (p *Pipeline) applyMerge(ctx context.Context, d *divergence, outcome conflict.Outcome) error {
	merged := outcome.MergedContent
	now := p.nowFunc()
	if err := p.fs.Write(d.vaultPath, merged, now); err != nil {
		return fmt.Errorf("pipeline: writing merged content for %s: %w", d.vaultPath, err)
	}

	item, ciphertext, err := p.uploadPath(ctx, d.vaultPath, merged)
	if err != nil {
		return err
	}
	uploadHash, err := hashOf(ciphertext)
	if err != nil {
		return err
	}

	ancestorHash := ""
	if d.hasAncestor {
		ancestorHash, err = hashOf(d.ancestorCipher)
		if err != nil {
			return err
		}
	}

	fileID := d.remoteItem.ID
	if item.ID != "" {
		fileID = item.ID
	}
	plainHash, err := hashOf(merged)
	if err != nil {
		return err
	}
	p.idx.Put(d.vaultPath, index.Entry{
		FileID:       fileID,
		MTime:        now.UnixMilli(),
		Size:         int64(len(ciphertext)),
		Hash:         uploadHash,
		PlainHash:    plainHash,
		AncestorHash: ancestorHash,
		LastAction:   index.ActionPush,
	})
	p.dirty.ClearDirty(d.vaultPath)
	p.logger.Info("pipeline: resolved conflict by merge", "path", d.vaultPath)
	return nil
}

// applyRemoteWins handles always-fork and force-remote: the remote
// content becomes canonical locally; if the strategy calls for a fork,
// the local (losing) content is preserved as a renamed sibling and
// marked dirty so the next push propagates it. Neither side's content
// is ever lost without the user having chosen a force strategy.
func (p *Pipeline) applyRemoteWins(ctx context.Context, d *divergence, outcome conflict.Outcome) error {
	now := p.nowFunc()
	if err := p.fs.Write(d.vaultPath, d.remotePlaintext, now); err != nil {
		return fmt.Errorf("pipeline: writing remote-wins content for %s: %w", d.vaultPath, err)
	}

	canonicalHash := d.remoteItem.Hash
	if canonicalHash == "" {
		var err error
		canonicalHash, err = hashOf(d.remoteCipher)
		if err != nil {
			return err
		}
	}

	plainHash, err := hashOf(d.remotePlaintext)
	if err != nil {
		return err
	}
	p.idx.Put(d.vaultPath, index.Entry{
		FileID:       d.remoteItem.ID,
		MTime:        now.UnixMilli(),
		Size:         int64(len(d.remoteCipher)),
		Hash:         canonicalHash,
		PlainHash:    plainHash,
		AncestorHash: canonicalHash,
		LastAction:   index.ActionPull,
	})
	p.dirty.ClearDirty(d.vaultPath)

	if outcome.ForkPath != "" {
		forkContent := d.localPlaintext
		if outcome.ForkIsRemote {
			forkContent = d.remotePlaintext
		}
		if err := p.fs.Write(outcome.ForkPath, forkContent, now); err != nil {
			return fmt.Errorf("pipeline: writing fork sibling %s: %w", outcome.ForkPath, err)
		}
		p.dirty.MarkDirty(outcome.ForkPath)
		p.logger.Info("pipeline: resolved conflict by fork", "path", d.vaultPath, "fork", outcome.ForkPath)
	} else {
		p.logger.Info("pipeline: resolved conflict, remote wins", "path", d.vaultPath)
	}
	return nil
}

// applyLocalWins handles force-local: the local content overwrites
// remote outright. Ancestor hash is left untouched: a forced push is
// not a confirmed-shared sync per P3.
func (p *Pipeline) applyLocalWins(ctx context.Context, d *divergence, outcome conflict.Outcome) error {
	item, ciphertext, err := p.uploadPath(ctx, d.vaultPath, d.localPlaintext)
	if err != nil {
		return err
	}
	uploadHash, err := hashOf(ciphertext)
	if err != nil {
		return err
	}

	ancestorHash := ""
	if d.hasLocalEntry {
		ancestorHash = d.localEntry.AncestorHash
	}

	fileID := d.remoteItem.ID
	if item.ID != "" {
		fileID = item.ID
	}
	info, statErr := p.fs.Stat(d.vaultPath)
	mtime := p.nowFunc().UnixMilli()
	if statErr == nil {
		mtime = info.Mtime.UnixMilli()
	}

	plainHash, err := hashOf(d.localPlaintext)
	if err != nil {
		return err
	}
	p.idx.Put(d.vaultPath, index.Entry{
		FileID:       fileID,
		MTime:        mtime,
		Size:         int64(len(ciphertext)),
		Hash:         uploadHash,
		PlainHash:    plainHash,
		AncestorHash: ancestorHash,
		LastAction:   index.ActionPush,
	})
	p.dirty.ClearDirty(d.vaultPath)
	p.logger.Info("pipeline: resolved conflict, local wins", "path", d.vaultPath)
	return nil
}

// uploadPath wraps plaintext for the wire, ensures the remote parent
// folder exists, and uploads, returning the resulting remote item and
// the exact ciphertext bytes that were sent, so the caller can hash
// what remote actually stores.
func (p *Pipeline) uploadPath(ctx context.Context, vaultPath string, plaintext []byte) (cloudapi.Item, []byte, error) {
	ciphertext, err := p.wrap(plaintext)
	if err != nil {
		return cloudapi.Item{}, nil, err
	}

	parentID, err := p.ensureFolderPath(ctx, dirOf(vaultPath))
	if err != nil {
		return cloudapi.Item{}, nil, err
	}

	item, err := p.cloud.Upload(ctx, parentID, path.Base(vaultPath), int64(len(ciphertext)), bytes.NewReader(ciphertext))
	if err != nil {
		return cloudapi.Item{}, nil, fmt.Errorf("pipeline: uploading %s: %w", vaultPath, err)
	}
	return item, ciphertext, nil
}
