package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quietloop/vaultsync/internal/cloudapi"
	"github.com/quietloop/vaultsync/internal/index"
	"github.com/quietloop/vaultsync/internal/reconcile"
)

// SmartPull brings local disk up to date with whatever changed remotely
// since the last pull, choosing the cheapest viable enumeration strategy:
// the change-cursor feed if the remote backend supports it and the index
// already holds a cursor, else a direct comparison against the remote
// index file's hash (skipping entirely if unchanged), else a full
// listing diffed against the local index. Every candidate path this
// discovers is still funneled through reconcile.Decide and, for
// divergent content, resolveDivergence; the enumeration strategy only
// changes which paths get examined, never how a path's disposition is
// decided.
func (p *Pipeline) SmartPull(ctx context.Context) (PullResult, error) {
	caps := p.cloud.Capabilities()

	if caps.SupportsChanges && p.idx.StartPageToken() != nil {
		return p.pullViaChanges(ctx)
	}

	remoteItem, ok, err := p.cloud.StatByPath(ctx, IndexPath)
	if err != nil {
		return PullResult{}, fmt.Errorf("pipeline: statting remote index: %w", err)
	}
	// Index-of-index discriminator: compare the remote index's hash
	// against the hash recorded at upload time, never one recomputed
	// from the current in-memory document (which already contains the
	// index's own entry and so never re-encodes to the uploaded bytes).
	if ok {
		if caps.SupportsHash && remoteItem.Hash != "" {
			if selfEntry, has := p.idx.Get(IndexPath); has && selfEntry.Hash == remoteItem.Hash {
				return PullResult{}, nil
			}
		}
		if result, err := p.pullViaRemoteIndex(ctx, remoteItem); err == nil {
			return result, err
		} else if !errors.Is(err, errRemoteIndexUnusable) {
			return result, err
		}
		// Unusable remote index document: fall through to a full listing.
	}

	return p.pullViaFullDiff(ctx)
}

// errRemoteIndexUnusable marks a remote index file that could not be
// decoded; the pull degrades to a full tree listing rather than failing.
var errRemoteIndexUnusable = errors.New("pipeline: remote index not decodable")

// pullViaRemoteIndex downloads the remote index document and diffs it
// against the local index: paths present remotely with a differing hash
// are downloaded, paths tracked locally but absent remotely are deleted,
// with the usual safety guards applied before any deletion.
func (p *Pipeline) pullViaRemoteIndex(ctx context.Context, indexItem cloudapi.Item) (PullResult, error) {
	result := PullResult{}

	raw, err := p.downloadItem(ctx, indexItem.ID)
	if err != nil {
		return result, err
	}
	plain, err := p.unwrap(raw)
	if err != nil {
		return result, fmt.Errorf("%w: %v", errRemoteIndexUnusable, err)
	}
	doc, err := index.DecodeRemoteDocument(plain)
	if err != nil {
		return result, fmt.Errorf("%w: %v", errRemoteIndexUnusable, err)
	}

	seen := make(map[string]bool, len(doc.Entries))
	var remoteBytes int64
	for vaultPath, rentry := range doc.Entries {
		if vaultPath == "" || vaultPath == IndexPath || isWithinHiddenConfig(vaultPath) {
			continue
		}
		seen[vaultPath] = true
		remoteBytes += rentry.Size
	}

	if err := p.checkPullSafety(seen, remoteBytes); err != nil {
		return result, err
	}

	for vaultPath, rentry := range doc.Entries {
		if !seen[vaultPath] {
			continue
		}
		item := cloudapi.Item{
			ID:         rentry.FileID,
			Path:       vaultPath,
			Size:       rentry.Size,
			Hash:       rentry.Hash,
			ModifiedAt: time.UnixMilli(rentry.MTime),
		}
		if err := p.reconcilePulledItem(ctx, item, &result); err != nil {
			return result, err
		}
	}

	for _, vaultPath := range p.idx.Paths() {
		if seen[vaultPath] || isWithinHiddenConfig(vaultPath) {
			continue
		}
		if err := p.reconcileRemoteAbsence(ctx, vaultPath, &result); err != nil {
			return result, err
		}
	}

	if doc.StartPageToken != nil && p.idx.StartPageToken() == nil {
		p.idx.SetStartPageToken(*doc.StartPageToken)
	}
	return result, nil
}

// pullViaChanges drains the change-cursor feed, treating every reported
// item as a candidate path and advancing the stored cursor only once the
// whole page has been reconciled (so a crash mid-page re-processes the
// page rather than skipping it).
func (p *Pipeline) pullViaChanges(ctx context.Context) (PullResult, error) {
	result := PullResult{UsedDeltas: true}
	cursor := ""
	if tok := p.idx.StartPageToken(); tok != nil {
		cursor = *tok
	}

	for {
		changes, err := p.cloud.GetChanges(ctx, cursor)
		if err != nil {
			return result, fmt.Errorf("pipeline: fetching change-cursor page: %w", err)
		}

		for _, item := range changes.Items {
			if item.Path == "" || item.Path == IndexPath || isWithinHiddenConfig(item.Path) {
				continue
			}
			if err := p.reconcilePulledItem(ctx, item, &result); err != nil {
				return result, err
			}
		}

		cursor = changes.NextCursor
		if cursor != "" {
			p.idx.SetStartPageToken(cursor)
		}
		if !changes.MoreResults {
			break
		}
	}
	return result, nil
}

// pullViaFullDiff lists the entire remote tree and diffs it against the
// local index, the fallback path for a backend with no change-cursor
// feed or on first run before any cursor has been established.
func (p *Pipeline) pullViaFullDiff(ctx context.Context) (PullResult, error) {
	result := PullResult{}

	remoteItems, err := p.listRemoteTree(ctx)
	if err != nil {
		return result, err
	}

	seen := make(map[string]bool, len(remoteItems))
	var remoteBytes int64
	for _, item := range remoteItems {
		if item.Path == "" || item.Path == IndexPath || isWithinHiddenConfig(item.Path) {
			continue
		}
		seen[item.Path] = true
		remoteBytes += item.Size
	}

	// The §4.C safety halts apply before any deletion: a listing that
	// would wipe out most of the tracked tree means remote corruption,
	// not a legitimate mass delete.
	if err := p.checkPullSafety(seen, remoteBytes); err != nil {
		return result, err
	}

	for _, item := range remoteItems {
		if !seen[item.Path] {
			continue
		}
		if err := p.reconcilePulledItem(ctx, item, &result); err != nil {
			return result, err
		}
	}

	for _, vaultPath := range p.idx.Paths() {
		if seen[vaultPath] || isWithinHiddenConfig(vaultPath) {
			continue
		}
		if err := p.reconcileRemoteAbsence(ctx, vaultPath, &result); err != nil {
			return result, err
		}
	}

	// Establish the change cursor so subsequent pulls can take the delta
	// fast path; an empty cursor asks the backend for its current head
	// (getStartPageToken semantics) without replaying history.
	if p.cloud.Capabilities().SupportsChanges && p.idx.StartPageToken() == nil {
		if cs, err := p.cloud.GetChanges(ctx, ""); err == nil && cs.NextCursor != "" {
			p.idx.SetStartPageToken(cs.NextCursor)
		}
	}

	return result, nil
}

// checkPullSafety applies the §4.C guards to a full-diff pull before any
// local deletion happens: seen is the set of vault paths the remote
// listing reported, remoteBytes the total content size it claimed.
func (p *Pipeline) checkPullSafety(seen map[string]bool, remoteBytes int64) error {
	survivors := make(map[string]index.Entry)
	for _, vaultPath := range p.idx.Paths() {
		if vaultPath == IndexPath || isWithinHiddenConfig(vaultPath) {
			continue
		}
		if seen[vaultPath] {
			entry, _ := p.idx.Get(vaultPath)
			survivors[vaultPath] = entry
		}
	}
	return p.idx.ReplaceAllCheck(survivors, remoteBytes, len(seen))
}

// listRemoteTree walks every remote folder starting from the root,
// returning a flat list of non-folder items. Folders with no local
// counterpart yet are created on disk as they're discovered so nested
// files have somewhere to land.
func (p *Pipeline) listRemoteTree(ctx context.Context) ([]cloudapi.Item, error) {
	var out []cloudapi.Item
	var walk func(parentID string) error
	walk = func(parentID string) error {
		children, err := p.cloud.ListChildren(ctx, parentID)
		if err != nil {
			return fmt.Errorf("pipeline: listing remote children: %w", err)
		}
		for _, child := range children {
			if child.IsDeleted {
				continue
			}
			if child.IsFolder {
				if err := walk(child.ID); err != nil {
					return err
				}
				continue
			}
			out = append(out, child)
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return out, nil
}

// reconcilePulledItem decides and applies the disposition for one
// remotely-reported item.
func (p *Pipeline) reconcilePulledItem(ctx context.Context, item cloudapi.Item, result *PullResult) error {
	vaultPath := item.Path

	localEntry, hasEntry := p.idx.Get(vaultPath)
	var localEntryPtr *index.Entry
	if hasEntry {
		localEntryPtr = &localEntry
	}

	local, err := p.localState(vaultPath, localEntryPtr)
	if err != nil {
		return err
	}
	remote := reconcile.RemoteState{
		Present: !item.IsDeleted,
		Hash:    item.Hash,
		MTime:   item.ModifiedAt.UnixMilli(),
		Size:    item.Size,
	}

	res := reconcile.Decide(local, localEntryPtr, remote)
	switch res.Decision {
	case reconcile.DecisionNone:
		if !local.Present {
			// Rule 1: gone on both sides; prune the stale entry.
			p.idx.Delete(vaultPath)
			p.dirty.ClearDirty(vaultPath)
			return nil
		}
		if res.RefreshEntry != nil {
			p.idx.Put(vaultPath, *res.RefreshEntry)
		}
		return nil

	case reconcile.DecisionAdopt:
		if res.RefreshEntry != nil {
			entry := *res.RefreshEntry
			entry.FileID = item.ID
			p.idx.Put(vaultPath, entry)
			result.Adopted++
		}
		return nil

	case reconcile.DecisionPush:
		// Local changed while remote stayed put: the push side owns it.
		// Marking dirty covers modifications whose events were missed
		// (this is how the full scan repopulates the dirty set).
		p.dirty.MarkDirty(vaultPath)
		return nil

	case reconcile.DecisionPull:
		if hasEntry && item.Hash != "" && item.Hash == localEntry.Hash {
			// Remote still holds exactly what was last synced, so the file
			// was deleted locally: the push side propagates the deletion.
			p.dirty.MarkDeleted(vaultPath)
			return nil
		}
		return p.pullOne(ctx, vaultPath, item, result)

	case reconcile.DecisionDelete:
		p.dirty.MarkSyncing(vaultPath)
		defer p.dirty.UnmarkSyncing(vaultPath)
		if err := p.fs.Trash(vaultPath); err != nil {
			return fmt.Errorf("pipeline: trashing %s: %w", vaultPath, err)
		}
		p.idx.Delete(vaultPath)
		p.dirty.ClearDirty(vaultPath)
		result.Deleted++
		return nil

	case reconcile.DecisionConflict:
		localBytes, err := p.fs.Read(vaultPath)
		if err != nil {
			return fmt.Errorf("pipeline: reading local content for conflict at %s: %w", vaultPath, err)
		}
		if err := p.resolveDivergence(ctx, vaultPath, localEntry, hasEntry, item, localBytes); err != nil {
			return err
		}
		result.Conflicts++
		return nil

	default:
		return nil
	}
}

// pullOne downloads item's content and writes it locally, used both for
// a brand-new remote file and for an update to one the pull side already
// knows is safe to overwrite (local content matches the last pulled/pushed
// hash).
func (p *Pipeline) pullOne(ctx context.Context, vaultPath string, item cloudapi.Item, result *PullResult) error {
	p.dirty.MarkSyncing(vaultPath)
	defer p.dirty.UnmarkSyncing(vaultPath)

	ciphertext, err := p.downloadItem(ctx, item.ID)
	if err != nil {
		return err
	}
	plaintext, err := p.unwrap(ciphertext)
	if err != nil {
		return fmt.Errorf("pipeline: unwrapping %s: %w", vaultPath, err)
	}

	if err := p.fs.Write(vaultPath, plaintext, item.ModifiedAt); err != nil {
		return fmt.Errorf("pipeline: writing pulled content for %s: %w", vaultPath, err)
	}

	canonicalHash := item.Hash
	if canonicalHash == "" {
		canonicalHash, err = hashOf(ciphertext)
		if err != nil {
			return err
		}
	}

	plainHash, err := hashOf(plaintext)
	if err != nil {
		return err
	}
	p.idx.Put(vaultPath, index.Entry{
		FileID:       item.ID,
		MTime:        item.ModifiedAt.UnixMilli(),
		Size:         int64(len(ciphertext)),
		Hash:         canonicalHash,
		PlainHash:    plainHash,
		AncestorHash: canonicalHash,
		LastAction:   index.ActionPull,
	})
	p.dirty.ClearDirty(vaultPath)
	result.Downloaded++
	return nil
}

// reconcileRemoteAbsence handles an indexed local path the full listing
// never reported: per reconcile's rule 3, an indexed file with no remote
// counterpart is trashed locally (a remote deletion), never pushed back.
func (p *Pipeline) reconcileRemoteAbsence(ctx context.Context, vaultPath string, result *PullResult) error {
	localEntry, hasEntry := p.idx.Get(vaultPath)
	var localEntryPtr *index.Entry
	if hasEntry {
		localEntryPtr = &localEntry
	}

	local, err := p.localState(vaultPath, localEntryPtr)
	if err != nil {
		return err
	}

	res := reconcile.Decide(local, localEntryPtr, reconcile.RemoteState{Present: false})
	if !local.Present {
		// Rule 1: gone on both sides; prune the stale entry.
		p.idx.Delete(vaultPath)
		p.dirty.ClearDirty(vaultPath)
		return nil
	}
	if res.Decision != reconcile.DecisionDelete {
		return nil
	}

	p.dirty.MarkSyncing(vaultPath)
	defer p.dirty.UnmarkSyncing(vaultPath)
	if err := p.fs.Trash(vaultPath); err != nil {
		return fmt.Errorf("pipeline: trashing %s: %w", vaultPath, err)
	}
	p.idx.Delete(vaultPath)
	p.dirty.ClearDirty(vaultPath)
	result.Deleted++
	return nil
}

// localState reads the minimum local filesystem facts reconcile.Decide
// needs for vaultPath, hashing content only when the file exists. The
// reported hash lives in the same space as the entry's Hash (remote
// bytes): when the plaintext is unchanged since the entry was written,
// the entry's stored hash is reported directly, since re-encrypting
// under a fresh IV would never reproduce the stored ciphertext.
func (p *Pipeline) localState(vaultPath string, entry *index.Entry) (reconcile.LocalState, error) {
	exists, err := p.fs.Exists(vaultPath)
	if err != nil {
		return reconcile.LocalState{}, fmt.Errorf("pipeline: checking existence of %s: %w", vaultPath, err)
	}
	if !exists {
		return reconcile.LocalState{Present: false}, nil
	}

	info, err := p.fs.Stat(vaultPath)
	if err != nil {
		return reconcile.LocalState{}, fmt.Errorf("pipeline: statting %s: %w", vaultPath, err)
	}
	if info.IsDir {
		return reconcile.LocalState{Present: false}, nil
	}

	plaintext, err := p.fs.Read(vaultPath)
	if err != nil {
		return reconcile.LocalState{}, fmt.Errorf("pipeline: reading %s: %w", vaultPath, err)
	}

	plainHash, err := hashOf(plaintext)
	if err != nil {
		return reconcile.LocalState{}, err
	}
	if entry != nil && entry.PlainHash != "" && plainHash == entry.PlainHash {
		return reconcile.LocalState{Present: true, Hash: entry.Hash, Size: entry.Size}, nil
	}

	ciphertext, err := p.wrap(plaintext)
	if err != nil {
		return reconcile.LocalState{}, err
	}
	h, err := hashOf(ciphertext)
	if err != nil {
		return reconcile.LocalState{}, err
	}
	return reconcile.LocalState{Present: true, Hash: h, Size: int64(len(ciphertext))}, nil
}
