package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/quietloop/vaultsync/internal/cloudapi"
)

// normalizeDir collapses "" and "/" to "." (the vault root).
func normalizeDir(dir string) string {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return "."
	}
	return dir
}

func parentOfDir(dir string) string {
	idx := strings.LastIndex(dir, "/")
	if idx < 0 {
		return "."
	}
	return dir[:idx]
}

func baseOfDir(dir string) string {
	idx := strings.LastIndex(dir, "/")
	if idx < 0 {
		return dir
	}
	return dir[idx+1:]
}

// depthOf returns a directory's nesting depth; the vault root is depth 0.
func depthOf(dir string) int {
	dir = normalizeDir(dir)
	if dir == "." {
		return 0
	}
	return strings.Count(dir, "/") + 1
}

// EnsureFolders creates every remote folder needed to hold dirs, grouped
// by depth and created in parallel within each depth so a child folder
// is never attempted before its parent exists.
func (p *Pipeline) EnsureFolders(ctx context.Context, dirs []string) error {
	seen := make(map[string]bool)
	var unique []string
	for _, d := range dirs {
		d = normalizeDir(d)
		if d == "." || seen[d] {
			continue
		}
		seen[d] = true
		unique = append(unique, d)
	}
	sort.Slice(unique, func(i, j int) bool { return depthOf(unique[i]) < depthOf(unique[j]) })

	i := 0
	for i < len(unique) {
		depth := depthOf(unique[i])
		j := i
		for j < len(unique) && depthOf(unique[j]) == depth {
			j++
		}
		batch := unique[i:j]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Concurrency)
		for _, dir := range batch {
			dir := dir
			g.Go(func() error {
				_, err := p.ensureFolderPath(gctx, dir)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("pipeline: ensuring folders at depth %d: %w", depth, err)
		}
		i = j
	}
	return nil
}

// ensureFolderPath returns the remote folder ID for dir, walking and
// creating every missing ancestor first. Resolved IDs are cached in
// p.folderIDs so a deep tree's ancestors are only ever resolved once per
// pipeline lifetime.
func (p *Pipeline) ensureFolderPath(ctx context.Context, dir string) (string, error) {
	dir = normalizeDir(dir)

	p.foldersMu.Lock()
	if id, ok := p.folderIDs[dir]; ok {
		p.foldersMu.Unlock()
		return id, nil
	}
	p.foldersMu.Unlock()

	if dir == "." {
		return "", nil
	}

	parentID, err := p.ensureFolderPath(ctx, parentOfDir(dir))
	if err != nil {
		return "", err
	}
	name := baseOfDir(dir)

	item, ok, err := p.cloud.StatByPath(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("pipeline: statting folder %s: %w", dir, err)
	}
	if ok && item.IsFolder {
		p.cacheFolderID(dir, item.ID)
		return item.ID, nil
	}

	created, err := p.cloud.CreateFolder(ctx, parentID, name)
	if err != nil {
		if errors.Is(err, cloudapi.ErrConflict) {
			// Another device (or another branch of this same batch)
			// created it first; re-stat rather than fail.
			if existing, existsNow, statErr := p.cloud.StatByPath(ctx, dir); statErr == nil && existsNow {
				p.cacheFolderID(dir, existing.ID)
				return existing.ID, nil
			}
		}
		return "", fmt.Errorf("pipeline: creating folder %s: %w", dir, err)
	}
	p.cacheFolderID(dir, created.ID)
	return created.ID, nil
}

func (p *Pipeline) cacheFolderID(dir, id string) {
	p.foldersMu.Lock()
	p.folderIDs[dir] = id
	p.foldersMu.Unlock()
}
