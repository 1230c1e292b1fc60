package dirtyset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeIndex struct {
	paths map[string]bool
}

func (f *fakeIndex) Has(path string) bool { return f.paths[path] }

type fakeFilter struct {
	ignore map[string]bool
}

func (f *fakeFilter) Ignored(path string) bool { return f.ignore[path] }

func TestMarkDirtySkipsSyncingAndIgnored(t *testing.T) {
	idx := &fakeIndex{paths: map[string]bool{}}
	filter := &fakeFilter{ignore: map[string]bool{"skip.tmp": true}}
	tr := New(idx, filter, nil)

	tr.MarkSyncing("a.txt")
	tr.MarkDirty("a.txt")
	tr.MarkDirty("skip.tmp")
	tr.MarkDirty("b.txt")

	assert.ElementsMatch(t, []string{"b.txt"}, tr.Dirty())
}

func TestMarkDeletedNoopWhenUnindexed(t *testing.T) {
	idx := &fakeIndex{paths: map[string]bool{}}
	tr := New(idx, nil, nil)

	tr.MarkDirty("new.txt")
	tr.MarkDeleted("new.txt")
	assert.ElementsMatch(t, []string{"new.txt"}, tr.Dirty())
}

func TestMarkDeletedWhenIndexed(t *testing.T) {
	idx := &fakeIndex{paths: map[string]bool{"old.txt": true}}
	tr := New(idx, nil, nil)

	tr.MarkDeleted("old.txt")
	assert.ElementsMatch(t, []string{"old.txt"}, tr.Dirty())
}

func TestMarkRenamedCreatedThenRenamedBeforeFirstSync(t *testing.T) {
	idx := &fakeIndex{paths: map[string]bool{}}
	tr := New(idx, nil, nil)

	tr.MarkDirty("a.txt")
	tr.MarkRenamed("a.txt", "b.txt")

	assert.ElementsMatch(t, []string{"b.txt"}, tr.Dirty())
}

func TestMarkRenamedIndexedOldTreatedAsDeleted(t *testing.T) {
	idx := &fakeIndex{paths: map[string]bool{"a.txt": true}}
	tr := New(idx, nil, nil)

	tr.MarkRenamed("a.txt", "b.txt")

	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, tr.Dirty())
}

func TestMarkFolderDeleted(t *testing.T) {
	idx := &fakeIndex{paths: map[string]bool{"dir/a.txt": true, "dir/b.txt": true, "other/c.txt": true}}
	tr := New(idx, nil, nil)

	tr.MarkFolderDeleted("dir", []string{"dir/a.txt", "dir/b.txt", "other/c.txt"})

	assert.ElementsMatch(t, []string{"dir/a.txt", "dir/b.txt"}, tr.Dirty())
}

func TestMarkFolderRenamed(t *testing.T) {
	idx := &fakeIndex{paths: map[string]bool{"dir/a.txt": true}}
	tr := New(idx, nil, nil)

	tr.MarkFolderRenamed("dir", "dir2", []string{"dir/a.txt"})

	assert.ElementsMatch(t, []string{"dir/a.txt", "dir2/a.txt"}, tr.Dirty())
}

func TestClearDirty(t *testing.T) {
	tr := New(&fakeIndex{paths: map[string]bool{}}, nil, nil)
	tr.MarkDirty("a.txt")
	tr.ClearDirty("a.txt")
	assert.Equal(t, 0, tr.Len())
}

func TestSyncingSuppressesThenAllowsAfterUnmark(t *testing.T) {
	tr := New(&fakeIndex{paths: map[string]bool{}}, nil, nil)
	tr.MarkSyncing("a.txt")
	tr.MarkDirty("a.txt")
	assert.Equal(t, 0, tr.Len())

	tr.UnmarkSyncing("a.txt")
	tr.MarkDirty("a.txt")
	assert.Equal(t, 1, tr.Len())
}
