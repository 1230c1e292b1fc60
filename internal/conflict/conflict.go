// Package conflict drives reconciliation and merge for paths whose local
// and remote content have diverged: ancestor discovery via remote revision
// history, the four user-selectable resolution strategies, and fork-file
// naming when a clean merge isn't possible.
package conflict

import (
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quietloop/vaultsync/internal/config"
	"github.com/quietloop/vaultsync/internal/merge"
)

// Revision is the remote-provided revision shape the resolver walks.
type Revision struct {
	ID           string
	ModifiedTime time.Time
	Size         int64
	Hash         string
}

// History is the narrow revision-listing capability conflict needs from
// the cloud adapter.
type History interface {
	ListRevisions(path string) ([]Revision, error)
	GetRevisionContent(path, revisionID string) ([]byte, error)
}

// Record is the persisted outcome of one conflict resolution, written to
// the conflicts log for later display/undo.
type Record struct {
	ID           string
	Path         string
	Strategy     config.ConflictStrategy
	ResolvedAt   time.Time
	ForkPath     string // set when the loser side was preserved as a fork
	AncestorHash string
}

// Outcome is what the caller (the smart-sync pipeline) should do with the
// resolution.
type Outcome struct {
	// MergedContent is set on a successful smart-merge: the bytes to write
	// locally and push.
	MergedContent []byte
	// CanonicalIsRemote is set when the winner side is remote (pull the
	// remote bytes to the canonical path) as opposed to local (push as-is).
	CanonicalIsRemote bool
	// ForkPath is set when the loser side must be preserved as a fork
	// sibling; empty means no fork was created (force-local/force-remote
	// discard the loser, per user selection).
	ForkPath string
	// ForkIsRemote indicates whether ForkPath should be filled with the
	// remote bytes (true) or the local bytes (false).
	ForkIsRemote bool
	Record       Record
}

// DefaultMaxAncestorWalk bounds how far back the revision walk looks
// for a usable merge base.
const DefaultMaxAncestorWalk = 32

// Resolver funnels both push-time and pull-time conflicts through ancestor
// discovery and the configured strategy.
type Resolver struct {
	history        History
	strategy       config.ConflictStrategy
	mergeMaxBytes  int
	maxAncestorWalk int
	logger         *slog.Logger
}

// New constructs a Resolver. A nil logger defaults to slog.Default().
func New(history History, cfg config.ConflictConfig, maxAncestorWalk int, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAncestorWalk <= 0 {
		maxAncestorWalk = DefaultMaxAncestorWalk
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = config.StrategySmartMerge
	}
	return &Resolver{
		history:         history,
		strategy:        strategy,
		mergeMaxBytes:   int(cfg.MergeMaxBytes),
		maxAncestorWalk: maxAncestorWalk,
		logger:          logger,
	}
}

// FindCommonAncestorHash locates a merge base in the remote revision
// history.
// knownAncestorHash is the path's localEntry.ancestorHash, if any, and
// candidateHashes are every hash this side has ever observed for the path
// (used for step 2's "≤ our entry's known hashes" walk). Returns the
// ancestor revision and its content, or ok=false if none is found within
// the walk bound.
func (r *Resolver) FindCommonAncestorHash(vaultPath, knownAncestorHash string, candidateHashes map[string]bool) (Revision, []byte, bool, error) {
	revisions, err := r.history.ListRevisions(vaultPath)
	if err != nil {
		return Revision{}, nil, false, fmt.Errorf("conflict: listing revisions for %s: %w", vaultPath, err)
	}

	if knownAncestorHash != "" {
		for _, rev := range revisions {
			if rev.Hash == knownAncestorHash {
				content, err := r.history.GetRevisionContent(vaultPath, rev.ID)
				if err != nil {
					return Revision{}, nil, false, err
				}
				return rev, content, true, nil
			}
		}
	}

	// Newest→oldest walk, bounded, seeking a revision whose hash we've seen
	// before (findCommonAncestorHash).
	walked := 0
	sorted := append([]Revision(nil), revisions...)
	sortNewestFirst(sorted)

	for _, rev := range sorted {
		if walked >= r.maxAncestorWalk {
			break
		}
		walked++
		if candidateHashes[rev.Hash] {
			content, err := r.history.GetRevisionContent(vaultPath, rev.ID)
			if err != nil {
				return Revision{}, nil, false, err
			}
			return rev, content, true, nil
		}
	}

	return Revision{}, nil, false, nil
}

func sortNewestFirst(revs []Revision) {
	for i := 1; i < len(revs); i++ {
		for j := i; j > 0 && revs[j-1].ModifiedTime.Before(revs[j].ModifiedTime); j-- {
			revs[j-1], revs[j] = revs[j], revs[j-1]
		}
	}
}

// Resolve drives the configured strategy for one divergent path. base may
// be nil when no ancestor could be found; smart-merge then falls back to
// always-fork, since a merge has nothing to diff against. The force-local
// and force-remote strategies apply unchanged.
func (r *Resolver) Resolve(vaultPath string, base, local, remote []byte) Outcome {
	strategy := r.strategy
	if base == nil && strategy == config.StrategySmartMerge {
		strategy = config.StrategyAlwaysFork
	}

	switch strategy {
	case config.StrategyForceLocal:
		return Outcome{
			CanonicalIsRemote: false,
			Record:            r.newRecord(vaultPath, strategy, ""),
		}
	case config.StrategyForceRemote:
		return Outcome{
			CanonicalIsRemote: true,
			Record:            r.newRecord(vaultPath, strategy, ""),
		}
	case config.StrategyAlwaysFork:
		forkPath := ForkPath(vaultPath, time.Now())
		return Outcome{
			CanonicalIsRemote: true,
			ForkPath:          forkPath,
			ForkIsRemote:      false,
			Record:            r.newRecord(vaultPath, strategy, forkPath),
		}
	default: // smart-merge
		merged, err := merge.Merge3(base, local, remote, r.mergeMaxBytes)
		if err != nil {
			r.logger.Info("conflict: smart-merge refused, forking", "path", vaultPath, "error", err)
			forkPath := ForkPath(vaultPath, time.Now())
			return Outcome{
				CanonicalIsRemote: true,
				ForkPath:          forkPath,
				ForkIsRemote:      false,
				Record:            r.newRecord(vaultPath, strategy, forkPath),
			}
		}
		return Outcome{
			MergedContent: merged,
			Record:        r.newRecord(vaultPath, strategy, ""),
		}
	}
}

func (r *Resolver) newRecord(vaultPath string, strategy config.ConflictStrategy, forkPath string) Record {
	return Record{
		ID:         uuid.NewString(),
		Path:       vaultPath,
		Strategy:   strategy,
		ResolvedAt: time.Now(),
		ForkPath:   forkPath,
	}
}

// ForkPath builds the loser-side sibling name,
// "<basename> (Conflict YYYY-MM-DDTHH-mm-ss).<ext>". A leading-dot
// filename has no extension split out.
func ForkPath(vaultPath string, at time.Time) string {
	dir := path.Dir(vaultPath)
	base := path.Base(vaultPath)
	stem, ext := stemExt(base)

	ts := at.Format("2006-01-02T15-04-05")
	forked := fmt.Sprintf("%s (Conflict %s)%s", stem, ts, ext)

	if dir == "." {
		return forked
	}
	return path.Join(dir, forked)
}

// stemExt splits base into stem and extension, treating a leading dot as
// part of the stem (dotfiles have no extension).
func stemExt(base string) (string, string) {
	trimmed := strings.TrimPrefix(base, ".")
	leadingDots := len(base) - len(trimmed)

	idx := strings.LastIndex(trimmed, ".")
	if idx <= 0 {
		return base, ""
	}
	return base[:leadingDots+idx], base[leadingDots+idx:]
}
