package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/quietloop/vaultsync/internal/cloudapi"
)

// scanPlan caches the listings an in-progress full scan works through:
// the union of local and remote paths, sorted, plus the remote metadata
// keyed by path. Kept between chunk calls so a preempted scan can resume
// without re-listing.
type scanPlan struct {
	paths     []string
	remote    map[string]cloudapi.Item
	startedAt time.Time
}

// PlanScan lists the full local and remote trees and caches their union
// as the scan's work list, returning the total file count. A previous
// plan, if any, is discarded.
func (p *Pipeline) PlanScan(ctx context.Context) (int, error) {
	remoteItems, err := p.listRemoteTree(ctx)
	if err != nil {
		return 0, err
	}
	localPaths, err := p.walkLocalTree(ctx)
	if err != nil {
		return 0, err
	}

	remote := make(map[string]cloudapi.Item, len(remoteItems))
	union := make(map[string]bool, len(remoteItems)+len(localPaths))
	for _, item := range remoteItems {
		if item.Path == "" || item.Path == IndexPath || isWithinHiddenConfig(item.Path) {
			continue
		}
		remote[item.Path] = item
		union[item.Path] = true
	}
	for _, vaultPath := range localPaths {
		if vaultPath == IndexPath || isWithinHiddenConfig(vaultPath) {
			continue
		}
		union[vaultPath] = true
	}
	// Indexed paths absent on both sides still need a visit so their
	// stale entries get pruned.
	for _, vaultPath := range p.idx.Paths() {
		if vaultPath == IndexPath || isWithinHiddenConfig(vaultPath) {
			continue
		}
		union[vaultPath] = true
	}

	paths := make([]string, 0, len(union))
	for vaultPath := range union {
		paths = append(paths, vaultPath)
	}
	sort.Strings(paths)

	p.scan = &scanPlan{paths: paths, remote: remote, startedAt: p.nowFunc()}
	return len(paths), nil
}

// ScanPlanned reports whether a cached scan plan is available to resume.
func (p *Pipeline) ScanPlanned() bool {
	return p.scan != nil
}

// ScanStartedAt returns when the cached plan was built; zero if none.
func (p *Pipeline) ScanStartedAt() time.Time {
	if p.scan == nil {
		return time.Time{}
	}
	return p.scan.startedAt
}

// DiscardScan drops the cached plan, forcing the next scan to re-list.
func (p *Pipeline) DiscardScan() {
	p.scan = nil
}

// ScanChunk reconciles one chunk of the cached plan: paths
// [chunkIndex*chunkSize, (chunkIndex+1)*chunkSize). Returns the last
// path processed and whether the plan is exhausted. The scheduler calls
// this between interrupt checks, so a chunk is also the preemption
// granularity.
func (p *Pipeline) ScanChunk(ctx context.Context, chunkIndex, chunkSize int) (string, bool, error) {
	if p.scan == nil {
		return "", true, fmt.Errorf("pipeline: no scan planned")
	}

	from := chunkIndex * chunkSize
	if from >= len(p.scan.paths) {
		return "", true, nil
	}
	to := from + chunkSize
	if to > len(p.scan.paths) {
		to = len(p.scan.paths)
	}

	var result PullResult
	for _, vaultPath := range p.scan.paths[from:to] {
		if err := ctx.Err(); err != nil {
			return vaultPath, false, err
		}
		if err := p.scanOne(ctx, vaultPath, &result); err != nil {
			return vaultPath, false, err
		}
	}

	last := p.scan.paths[to-1]
	return last, to == len(p.scan.paths), nil
}

// scanOne reconciles a single path against whatever side(s) report it:
// remote metadata drives the normal pull-side reconciliation; a
// local-only path is either a remote deletion to propagate downward (if
// indexed) or a missed local creation to mark dirty for the next push.
func (p *Pipeline) scanOne(ctx context.Context, vaultPath string, result *PullResult) error {
	if item, ok := p.scan.remote[vaultPath]; ok {
		return p.reconcilePulledItem(ctx, item, result)
	}

	if p.idx.Has(vaultPath) {
		return p.reconcileRemoteAbsence(ctx, vaultPath, result)
	}

	exists, err := p.fs.Exists(vaultPath)
	if err != nil {
		return fmt.Errorf("pipeline: checking existence of %s: %w", vaultPath, err)
	}
	if exists {
		p.dirty.MarkDirty(vaultPath)
	}
	return nil
}
