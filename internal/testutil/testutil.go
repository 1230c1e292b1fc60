// Package testutil provides the in-memory fakes the pipeline, scheduler,
// and end-to-end tests drive the engine against: a fake remote vault
// backend implementing the full cloud adapter surface (items, transfer,
// change cursor, revision history), an in-memory filesystem, and an
// in-memory cross-device communication file.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quietloop/vaultsync/internal/cloudapi"
	"github.com/quietloop/vaultsync/internal/conflict"
	"github.com/quietloop/vaultsync/internal/content"
	"github.com/quietloop/vaultsync/internal/localfs"
)

// --- fake remote vault ---

type remoteNode struct {
	id       string
	name     string
	parentID string
	isFolder bool
	data     []byte
	hash     string
	mtime    time.Time
	deleted  bool
}

type fakeRevision struct {
	id          string
	modified    time.Time
	hash        string
	content     []byte
	keepForever bool
	deleted     bool
}

// FakeCloud is an in-memory remote vault backend. It implements
// cloudapi.Adapter (and therefore conflict.History) plus
// history.Backend's pin/delete surface. Every upload appends a revision,
// and every mutation is recorded in a change log the change-cursor feed
// replays.
type FakeCloud struct {
	mu      sync.Mutex
	caps    cloudapi.Capabilities
	nodes   map[string]*remoteNode
	revs    map[string][]*fakeRevision // vault path -> revisions, oldest first
	changes []string                   // node IDs in mutation order
	nextID  int
	clock   time.Time

	// UploadErr, when set, fails the next Upload with this error and
	// then clears itself; used to exercise per-file failure retention.
	UploadErr error
}

// NewFakeCloud returns a backend with every capability enabled.
func NewFakeCloud() *FakeCloud {
	return &FakeCloud{
		caps:  cloudapi.Capabilities{SupportsChanges: true, SupportsHash: true, SupportsHistory: true},
		nodes: make(map[string]*remoteNode),
		revs:  make(map[string][]*fakeRevision),
		clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// SetCapabilities overrides the reported capability set, for tests that
// exercise the fallback enumeration paths.
func (f *FakeCloud) SetCapabilities(caps cloudapi.Capabilities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps = caps
}

func (f *FakeCloud) Capabilities() cloudapi.Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps
}

func (f *FakeCloud) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *FakeCloud) newID() string {
	f.nextID++
	return fmt.Sprintf("item-%04d", f.nextID)
}

// pathOf reconstructs a node's vault-relative path by walking parents.
func (f *FakeCloud) pathOf(n *remoteNode) string {
	segments := []string{n.name}
	for parent := n.parentID; parent != ""; {
		p, ok := f.nodes[parent]
		if !ok {
			break
		}
		segments = append([]string{p.name}, segments...)
		parent = p.parentID
	}
	return strings.Join(segments, "/")
}

func (f *FakeCloud) toItem(n *remoteNode) cloudapi.Item {
	return cloudapi.Item{
		ID:         n.id,
		Name:       n.name,
		Path:       f.pathOf(n),
		ParentID:   n.parentID,
		Size:       int64(len(n.data)),
		Hash:       n.hash,
		IsFolder:   n.isFolder,
		IsDeleted:  n.deleted,
		ModifiedAt: n.mtime,
	}
}

func (f *FakeCloud) findByPath(remotePath string) *remoteNode {
	for _, n := range f.nodes {
		if !n.deleted && f.pathOf(n) == remotePath {
			return n
		}
	}
	return nil
}

func (f *FakeCloud) findChild(parentID, name string) *remoteNode {
	for _, n := range f.nodes {
		if !n.deleted && n.parentID == parentID && n.name == name {
			return n
		}
	}
	return nil
}

func (f *FakeCloud) StatByPath(_ context.Context, remotePath string) (cloudapi.Item, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.findByPath(remotePath)
	if n == nil {
		return cloudapi.Item{}, false, nil
	}
	return f.toItem(n), true, nil
}

func (f *FakeCloud) ListChildren(_ context.Context, parentID string) ([]cloudapi.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []cloudapi.Item
	for _, n := range f.nodes {
		if !n.deleted && n.parentID == parentID {
			out = append(out, f.toItem(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FakeCloud) CreateFolder(_ context.Context, parentID, name string) (cloudapi.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing := f.findChild(parentID, name); existing != nil {
		return cloudapi.Item{}, cloudapi.ErrConflict
	}
	n := &remoteNode{id: f.newID(), name: name, parentID: parentID, isFolder: true, mtime: f.tick()}
	f.nodes[n.id] = n
	return f.toItem(n), nil
}

func (f *FakeCloud) Move(_ context.Context, itemID, newParentID, newName string) (cloudapi.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[itemID]
	if !ok || n.deleted {
		return cloudapi.Item{}, cloudapi.ErrNotFound
	}
	oldPath := f.pathOf(n)
	if newParentID != "" {
		n.parentID = newParentID
	}
	if newName != "" {
		n.name = newName
	}
	n.mtime = f.tick()
	// Revision history follows the item across a move.
	if newPath := f.pathOf(n); newPath != oldPath {
		f.revs[newPath] = f.revs[oldPath]
		delete(f.revs, oldPath)
	}
	f.changes = append(f.changes, n.id)
	return f.toItem(n), nil
}

func (f *FakeCloud) Delete(_ context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[itemID]
	if !ok || n.deleted {
		return cloudapi.ErrNotFound
	}
	n.deleted = true
	n.mtime = f.tick()
	f.changes = append(f.changes, n.id)
	return nil
}

func (f *FakeCloud) Download(_ context.Context, itemID string, w io.Writer) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[itemID]
	if !ok || n.deleted {
		return 0, cloudapi.ErrNotFound
	}
	written, err := w.Write(n.data)
	return int64(written), err
}

func (f *FakeCloud) Upload(_ context.Context, parentID, name string, _ int64, r io.Reader) (cloudapi.Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return cloudapi.Item{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.UploadErr != nil {
		err := f.UploadErr
		f.UploadErr = nil
		return cloudapi.Item{}, err
	}

	hash, err := content.HashReader(bytes.NewReader(data))
	if err != nil {
		return cloudapi.Item{}, err
	}

	n := f.findChild(parentID, name)
	if n == nil {
		n = &remoteNode{id: f.newID(), name: name, parentID: parentID}
		f.nodes[n.id] = n
	}
	n.data = append([]byte(nil), data...)
	n.hash = hash
	n.deleted = false
	n.mtime = f.tick()

	vaultPath := f.pathOf(n)
	f.revs[vaultPath] = append(f.revs[vaultPath], &fakeRevision{
		id:       fmt.Sprintf("rev-%s-%d", n.id, len(f.revs[vaultPath])+1),
		modified: n.mtime,
		hash:     hash,
		content:  append([]byte(nil), data...),
	})
	f.changes = append(f.changes, n.id)
	return f.toItem(n), nil
}

// GetChanges replays the mutation log from cursor (a decimal offset).
// An empty cursor acts as getStartPageToken: no items, just the current
// head position for the caller to persist.
func (f *FakeCloud) GetChanges(_ context.Context, cursor string) (cloudapi.ChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	head := strconv.Itoa(len(f.changes))
	if cursor == "" {
		return cloudapi.ChangeSet{NextCursor: head}, nil
	}

	from, err := strconv.Atoi(cursor)
	if err != nil || from < 0 || from > len(f.changes) {
		return cloudapi.ChangeSet{}, cloudapi.ErrGone
	}

	seen := make(map[string]bool)
	var items []cloudapi.Item
	for _, id := range f.changes[from:] {
		if seen[id] {
			continue
		}
		seen[id] = true
		if n, ok := f.nodes[id]; ok {
			items = append(items, f.toItem(n))
		}
	}
	return cloudapi.ChangeSet{Items: items, NextCursor: head}, nil
}

func (f *FakeCloud) ListRevisions(path string) ([]conflict.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []conflict.Revision
	for _, rev := range f.revs[path] {
		if rev.deleted {
			continue
		}
		out = append(out, conflict.Revision{
			ID:           rev.id,
			ModifiedTime: rev.modified,
			Size:         int64(len(rev.content)),
			Hash:         rev.hash,
		})
	}
	return out, nil
}

func (f *FakeCloud) GetRevisionContent(path, revisionID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rev := range f.revs[path] {
		if rev.id == revisionID && !rev.deleted {
			return append([]byte(nil), rev.content...), nil
		}
	}
	return nil, cloudapi.ErrNotFound
}

func (f *FakeCloud) PinRevision(_ context.Context, path, revisionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rev := range f.revs[path] {
		if rev.id == revisionID {
			rev.keepForever = true
			return nil
		}
	}
	return cloudapi.ErrNotFound
}

func (f *FakeCloud) DeleteRevision(_ context.Context, path, revisionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rev := range f.revs[path] {
		if rev.id == revisionID {
			rev.deleted = true
			return nil
		}
	}
	return cloudapi.ErrNotFound
}

// --- seeding and inspection helpers ---

// Seed uploads data at vaultPath, creating parent folders as needed.
func (f *FakeCloud) Seed(vaultPath string, data []byte) cloudapi.Item {
	parentID := ""
	segments := strings.Split(vaultPath, "/")
	for _, dir := range segments[:len(segments)-1] {
		f.mu.Lock()
		existing := f.findChild(parentID, dir)
		f.mu.Unlock()
		if existing != nil {
			parentID = existing.id
			continue
		}
		created, err := f.CreateFolder(context.Background(), parentID, dir)
		if err != nil {
			panic(err)
		}
		parentID = created.ID
	}
	item, err := f.Upload(context.Background(), parentID, segments[len(segments)-1], int64(len(data)), bytes.NewReader(data))
	if err != nil {
		panic(err)
	}
	return item
}

// ContentOf returns the current bytes at vaultPath, or nil if absent.
func (f *FakeCloud) ContentOf(vaultPath string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.findByPath(vaultPath)
	if n == nil {
		return nil
	}
	return append([]byte(nil), n.data...)
}

// RemoteExists reports whether a non-deleted item exists at vaultPath.
func (f *FakeCloud) RemoteExists(vaultPath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findByPath(vaultPath) != nil
}

// RemovePath marks the item at vaultPath deleted, as another device's
// push would.
func (f *FakeCloud) RemovePath(vaultPath string) {
	f.mu.Lock()
	n := f.findByPath(vaultPath)
	f.mu.Unlock()
	if n == nil {
		return
	}
	_ = f.Delete(context.Background(), n.id)
}

// --- in-memory filesystem ---

type memFile struct {
	data  []byte
	mtime time.Time
}

// MemFS is an in-memory localfs.FS. Paths are vault-relative and
// forward-slash-delimited, as everywhere in the engine.
type MemFS struct {
	mu      sync.Mutex
	files   map[string]*memFile
	dirs    map[string]bool
	Trashed map[string][]byte // trashed path -> content at trashing time
}

// NewMemFS returns an empty filesystem with the vault root present.
func NewMemFS() *MemFS {
	return &MemFS{
		files:   make(map[string]*memFile),
		dirs:    map[string]bool{".": true},
		Trashed: make(map[string][]byte),
	}
}

func (m *MemFS) Exists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; ok {
		return true, nil
	}
	return m.dirs[path], nil
}

func (m *MemFS) Stat(path string) (localfs.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if file, ok := m.files[path]; ok {
		return localfs.Info{Path: path, Size: int64(len(file.data)), Mtime: file.mtime}, nil
	}
	if m.dirs[path] {
		return localfs.Info{Path: path, IsDir: true}, nil
	}
	return localfs.Info{}, fmt.Errorf("testutil: stat %s: file does not exist", path)
}

func (m *MemFS) Read(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("testutil: read %s: file does not exist", path)
	}
	return append([]byte(nil), file.data...), nil
}

func (m *MemFS) Write(path string, data []byte, mtime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureParents(path)
	m.files[path] = &memFile{data: append([]byte(nil), data...), mtime: mtime}
	return nil
}

func (m *MemFS) ensureParents(path string) {
	for dir := parentDir(path); dir != "."; dir = parentDir(dir) {
		m.dirs[dir] = true
	}
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func (m *MemFS) Mkdir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureParents(path)
	m.dirs[path] = true
	return nil
}

func (m *MemFS) List(path string) ([]localfs.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirs[path] {
		return nil, fmt.Errorf("testutil: list %s: directory does not exist", path)
	}

	var out []localfs.Info
	for filePath, file := range m.files {
		if parentDir(filePath) == path {
			out = append(out, localfs.Info{Path: filePath, Size: int64(len(file.data)), Mtime: file.mtime})
		}
	}
	for dir := range m.dirs {
		if dir != "." && parentDir(dir) == path {
			out = append(out, localfs.Info{Path: dir, IsDir: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *MemFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *MemFS) Trash(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if file, ok := m.files[path]; ok {
		m.Trashed[path] = file.data
		delete(m.files, path)
	}
	return nil
}

func (m *MemFS) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if file, ok := m.files[oldPath]; ok {
		m.ensureParents(newPath)
		m.files[newPath] = file
		delete(m.files, oldPath)
		return nil
	}
	if m.dirs[oldPath] {
		prefix := oldPath + "/"
		for filePath, file := range m.files {
			if strings.HasPrefix(filePath, prefix) {
				m.files[newPath+"/"+strings.TrimPrefix(filePath, prefix)] = file
				delete(m.files, filePath)
			}
		}
		delete(m.dirs, oldPath)
		m.ensureParents(newPath)
		m.dirs[newPath] = true
		return nil
	}
	return fmt.Errorf("testutil: rename %s: file does not exist", oldPath)
}

// --- in-memory communication file ---

// MemComm is an in-memory conflict.CommunicationFile, shared by handle
// between fake "devices" in multi-device tests.
type MemComm struct {
	mu   sync.Mutex
	data []byte
}

// NewMemComm returns an empty communication file.
func NewMemComm() *MemComm {
	return &MemComm{}
}

func (c *MemComm) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.data...), nil
}

func (c *MemComm) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append([]byte(nil), data...)
	return nil
}
