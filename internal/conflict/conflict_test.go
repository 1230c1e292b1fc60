package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/vaultsync/internal/config"
)

type fakeHistory struct {
	revisions map[string][]Revision
	content   map[string][]byte
}

func (f *fakeHistory) ListRevisions(path string) ([]Revision, error) {
	return f.revisions[path], nil
}

func (f *fakeHistory) GetRevisionContent(path, revisionID string) ([]byte, error) {
	return f.content[path+"/"+revisionID], nil
}

func TestForkPathBasenameWithExtension(t *testing.T) {
	at := time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC)
	got := ForkPath("docs/report.txt", at)
	assert.Equal(t, "docs/report (Conflict 2026-03-05T10-30-00).txt", got)
}

func TestForkPathDotfileHasNoExtSplit(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := ForkPath(".bashrc", at)
	assert.Equal(t, ".bashrc (Conflict 2026-01-01T00-00-00)", got)
}

func TestForkPathRootLevel(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := ForkPath("report.txt", at)
	assert.Equal(t, "report (Conflict 2026-01-01T00-00-00).txt", got)
}

func TestFindCommonAncestorHashUsesKnownAncestor(t *testing.T) {
	h := &fakeHistory{
		revisions: map[string][]Revision{
			"a.txt": {{ID: "r1", Hash: "base-hash", ModifiedTime: time.Now()}},
		},
		content: map[string][]byte{"a.txt/r1": []byte("base content")},
	}
	r := New(h, config.ConflictConfig{Strategy: config.StrategySmartMerge}, 0, nil)

	rev, content, ok, err := r.FindCommonAncestorHash("a.txt", "base-hash", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", rev.ID)
	assert.Equal(t, "base content", string(content))
}

func TestFindCommonAncestorHashWalksRevisionsNewestFirst(t *testing.T) {
	now := time.Now()
	h := &fakeHistory{
		revisions: map[string][]Revision{
			"a.txt": {
				{ID: "r1", Hash: "old-hash", ModifiedTime: now.Add(-2 * time.Hour)},
				{ID: "r2", Hash: "mid-hash", ModifiedTime: now.Add(-1 * time.Hour)},
			},
		},
		content: map[string][]byte{"a.txt/r2": []byte("mid content")},
	}
	r := New(h, config.ConflictConfig{}, 0, nil)

	rev, content, ok, err := r.FindCommonAncestorHash("a.txt", "", map[string]bool{"mid-hash": true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r2", rev.ID)
	assert.Equal(t, "mid content", string(content))
}

func TestFindCommonAncestorHashNotFound(t *testing.T) {
	h := &fakeHistory{revisions: map[string][]Revision{"a.txt": {}}}
	r := New(h, config.ConflictConfig{}, 0, nil)

	_, _, ok, err := r.FindCommonAncestorHash("a.txt", "", map[string]bool{"nope": true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveSmartMergeSucceeds(t *testing.T) {
	r := New(&fakeHistory{}, config.ConflictConfig{Strategy: config.StrategySmartMerge}, 0, nil)

	base := []byte("line one\nline two\n")
	local := []byte("line one LOCAL\nline two\n")
	remote := []byte("line one\nline two REMOTE\n")

	out := r.Resolve("a.txt", base, local, remote)
	require.NotNil(t, out.MergedContent)
	assert.Equal(t, "line one LOCAL\nline two REMOTE\n", string(out.MergedContent))
	assert.Empty(t, out.ForkPath)
}

func TestResolveSmartMergeFallsBackToForkOnConflict(t *testing.T) {
	r := New(&fakeHistory{}, config.ConflictConfig{Strategy: config.StrategySmartMerge}, 0, nil)

	base := []byte("line one\n")
	local := []byte("line one LOCAL\n")
	remote := []byte("line one REMOTE\n")

	out := r.Resolve("a.txt", base, local, remote)
	assert.Nil(t, out.MergedContent)
	assert.NotEmpty(t, out.ForkPath)
	assert.True(t, out.CanonicalIsRemote)
}

func TestResolveAlwaysForkNeverMerges(t *testing.T) {
	r := New(&fakeHistory{}, config.ConflictConfig{Strategy: config.StrategyAlwaysFork}, 0, nil)

	base := []byte("line one\nline two\n")
	local := []byte("line one LOCAL\nline two\n")
	remote := []byte("line one\nline two REMOTE\n")

	out := r.Resolve("a.txt", base, local, remote)
	assert.Nil(t, out.MergedContent)
	assert.NotEmpty(t, out.ForkPath)
}

func TestResolveForceLocalAndForceRemote(t *testing.T) {
	r := New(&fakeHistory{}, config.ConflictConfig{Strategy: config.StrategyForceLocal}, 0, nil)
	out := r.Resolve("a.txt", nil, []byte("local"), []byte("remote"))
	assert.False(t, out.CanonicalIsRemote)
	assert.Empty(t, out.ForkPath)

	r2 := New(&fakeHistory{}, config.ConflictConfig{Strategy: config.StrategyForceRemote}, 0, nil)
	out2 := r2.Resolve("a.txt", nil, []byte("local"), []byte("remote"))
	assert.True(t, out2.CanonicalIsRemote)
}

func TestResolveWithNilBaseForcesForkEvenUnderSmartMerge(t *testing.T) {
	r := New(&fakeHistory{}, config.ConflictConfig{Strategy: config.StrategySmartMerge}, 0, nil)
	out := r.Resolve("a.txt", nil, []byte("local"), []byte("remote"))
	assert.Nil(t, out.MergedContent)
	assert.NotEmpty(t, out.ForkPath)
}
