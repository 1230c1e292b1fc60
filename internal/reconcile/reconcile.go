// Package reconcile implements the per-file reconciliation decider: given
// what the local disk shows, what the index last recorded, and what the
// remote side reports, decide whether to push, pull, delete, adopt, skip,
// or hand the path off to conflict resolution.
package reconcile

import "github.com/quietloop/vaultsync/internal/index"

// Decision is the action the caller should take for one path.
type Decision string

const (
	DecisionNone     Decision = "none"     // both sides absent, or already in sync
	DecisionPull     Decision = "pull"
	DecisionPush     Decision = "push"
	DecisionDelete   Decision = "delete"   // remote deleted; remove local (to trash)
	DecisionAdopt    Decision = "adopt"    // write entry only, no transfer
	DecisionConflict Decision = "conflict" // both sides diverged, needs §4.H
)

// LocalState describes what the local disk shows for a path. Present
// false means there is no file at that path.
type LocalState struct {
	Present bool
	Hash    string // lazily computed; only read when a decision needs it
	Size    int64
}

// RemoteState describes what the cloud adapter reports for a path.
// Present false means the remote has no object at that path.
type RemoteState struct {
	Present bool
	Hash    string
	MTime   int64
	Size    int64
}

// Result is the outcome of reconciling one path.
type Result struct {
	Decision Decision
	// RefreshEntry is set when Decision is DecisionNone or DecisionAdopt and
	// the index entry should be updated in place without any transfer
	// (e.g. remote mtime/size changed but content hash is unchanged).
	RefreshEntry *index.Entry
}

// Decide evaluates the 5-rule reconciliation table, in order, first match wins.
// localEntry is nil when the index has no record for this path.
func Decide(local LocalState, localEntry *index.Entry, remote RemoteState) Result {
	switch {
	case !local.Present && !remote.Present:
		// Rule 1: both absent. Caller prunes any stale local entry; no I/O.
		return Result{Decision: DecisionNone}

	case !local.Present && remote.Present:
		// Rule 2.
		return Result{Decision: DecisionPull}

	case local.Present && !remote.Present:
		// Rule 3.
		if localEntry != nil {
			return Result{Decision: DecisionDelete}
		}
		return Result{Decision: DecisionPush}

	case local.Present && remote.Present && localEntry == nil:
		// Rule 4: adoption probe.
		if sizeAwareEqual(local.Size, remote.Size) && local.Hash == remote.Hash {
			entry := &index.Entry{
				FileID:     "",
				Hash:       remote.Hash,
				Size:       remote.Size,
				MTime:      remote.MTime,
				LastAction: index.ActionPull,
			}
			return Result{Decision: DecisionAdopt, RefreshEntry: entry}
		}
		return Result{Decision: DecisionPull}

	default:
		// Rule 5: both present with a localEntry.
		return decideWithEntry(local, *localEntry, remote)
	}
}

func decideWithEntry(local LocalState, localEntry index.Entry, remote RemoteState) Result {
	if remote.Hash == localEntry.Hash {
		// Remote is exactly what we last recorded; if local moved, only
		// local changed and the path belongs to the push side.
		if local.Hash != "" && local.Hash != localEntry.Hash {
			return Result{Decision: DecisionPush}
		}
		// Sync confirmation: local entry and remote agree, which licenses
		// advancing the ancestor hash to the newly-confirmed shared hash.
		// A push alone never advances it; this observation does.
		confirmAncestor := localEntry.AncestorHash != localEntry.Hash
		if confirmAncestor || remote.MTime != localEntry.MTime || !sizeAwareEqual(remote.Size, localEntry.Size) {
			refreshed := localEntry
			refreshed.MTime = remote.MTime
			refreshed.Size = remote.Size
			refreshed.AncestorHash = localEntry.Hash
			return Result{Decision: DecisionNone, RefreshEntry: &refreshed}
		}
		return Result{Decision: DecisionNone}
	}

	if local.Hash == localEntry.Hash {
		// Stale-pull guard: if our last action was a push that was never
		// confirmed shared, a remote hash that moved past it means a
		// concurrent writer raced our push. Overwriting local here would
		// silently drop our pushed edits, so merge instead.
		if localEntry.LastAction == index.ActionPush && localEntry.Hash != localEntry.AncestorHash {
			return Result{Decision: DecisionConflict}
		}
		return Result{Decision: DecisionPull}
	}

	return Result{Decision: DecisionConflict}
}

// sizeAwareEqual compares two sizes, skipping the check (treating them as
// equal) when either side reports size 0, since some platforms report
// unreliable stat sizes for certain file types.
func sizeAwareEqual(a, b int64) bool {
	if a == 0 || b == 0 {
		return true
	}
	return a == b
}
