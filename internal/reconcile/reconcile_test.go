package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quietloop/vaultsync/internal/index"
)

func TestBothAbsent(t *testing.T) {
	r := Decide(LocalState{}, nil, RemoteState{})
	assert.Equal(t, DecisionNone, r.Decision)
}

func TestLocalAbsentRemotePresentPulls(t *testing.T) {
	r := Decide(LocalState{}, nil, RemoteState{Present: true})
	assert.Equal(t, DecisionPull, r.Decision)
}

func TestLocalPresentRemoteAbsentWithEntryDeletes(t *testing.T) {
	entry := &index.Entry{Hash: "h"}
	r := Decide(LocalState{Present: true}, entry, RemoteState{})
	assert.Equal(t, DecisionDelete, r.Decision)
}

func TestLocalPresentRemoteAbsentWithoutEntryPushes(t *testing.T) {
	r := Decide(LocalState{Present: true}, nil, RemoteState{})
	assert.Equal(t, DecisionPush, r.Decision)
}

func TestAdoptionProbeMatchingHashAdopts(t *testing.T) {
	r := Decide(
		LocalState{Present: true, Hash: "abc", Size: 10},
		nil,
		RemoteState{Present: true, Hash: "abc", Size: 10},
	)
	assert.Equal(t, DecisionAdopt, r.Decision)
	assert.NotNil(t, r.RefreshEntry)
	assert.Equal(t, "abc", r.RefreshEntry.Hash)
}

func TestAdoptionProbeDivergingHashPulls(t *testing.T) {
	r := Decide(
		LocalState{Present: true, Hash: "abc", Size: 10},
		nil,
		RemoteState{Present: true, Hash: "xyz", Size: 10},
	)
	assert.Equal(t, DecisionPull, r.Decision)
}

func TestSharedHashRefreshesMetadataOnly(t *testing.T) {
	entry := &index.Entry{Hash: "abc", MTime: 100, Size: 10}
	r := Decide(
		LocalState{Present: true, Hash: "abc", Size: 10},
		entry,
		RemoteState{Present: true, Hash: "abc", MTime: 200, Size: 10},
	)
	assert.Equal(t, DecisionNone, r.Decision)
	if assert.NotNil(t, r.RefreshEntry) {
		assert.Equal(t, int64(200), r.RefreshEntry.MTime)
	}
}

func TestSharedHashNoMetadataChangeNoRefresh(t *testing.T) {
	entry := &index.Entry{Hash: "abc", AncestorHash: "abc", MTime: 100, Size: 10}
	r := Decide(
		LocalState{Present: true, Hash: "abc", Size: 10},
		entry,
		RemoteState{Present: true, Hash: "abc", MTime: 100, Size: 10},
	)
	assert.Equal(t, DecisionNone, r.Decision)
	assert.Nil(t, r.RefreshEntry)
}

func TestOnlyLocalChangedPushes(t *testing.T) {
	entry := &index.Entry{Hash: "base", AncestorHash: "base", MTime: 100, Size: 10}
	r := Decide(
		LocalState{Present: true, Hash: "edited", Size: 12},
		entry,
		RemoteState{Present: true, Hash: "base", MTime: 100, Size: 10},
	)
	assert.Equal(t, DecisionPush, r.Decision)
}

func TestUnconfirmedPushWithRemoteDivergenceMerges(t *testing.T) {
	// Our last push was never observed shared; remote moving past it means
	// a concurrent writer overwrote us, so overwriting local would lose
	// the pushed edits.
	entry := &index.Entry{Hash: "v1", AncestorHash: "v0", LastAction: index.ActionPush}
	r := Decide(
		LocalState{Present: true, Hash: "v1"},
		entry,
		RemoteState{Present: true, Hash: "v2"},
	)
	assert.Equal(t, DecisionConflict, r.Decision)
}

func TestConfirmedEntryWithRemoteChangePulls(t *testing.T) {
	entry := &index.Entry{Hash: "v1", AncestorHash: "v1", LastAction: index.ActionPush}
	r := Decide(
		LocalState{Present: true, Hash: "v1"},
		entry,
		RemoteState{Present: true, Hash: "v2"},
	)
	assert.Equal(t, DecisionPull, r.Decision)
}

func TestSharedHashConfirmationAdvancesAncestor(t *testing.T) {
	// A push alone left the ancestor behind; observing remote agreement is
	// the sync confirmation that licenses advancing it.
	entry := &index.Entry{Hash: "merged", AncestorHash: "stale-base", MTime: 100, Size: 10}
	r := Decide(
		LocalState{Present: true, Hash: "merged", Size: 10},
		entry,
		RemoteState{Present: true, Hash: "merged", MTime: 100, Size: 10},
	)
	assert.Equal(t, DecisionNone, r.Decision)
	if assert.NotNil(t, r.RefreshEntry) {
		assert.Equal(t, "merged", r.RefreshEntry.AncestorHash)
	}
}

func TestOnlyRemoteChangedPulls(t *testing.T) {
	entry := &index.Entry{Hash: "base", MTime: 100, Size: 10}
	r := Decide(
		LocalState{Present: true, Hash: "base", Size: 10},
		entry,
		RemoteState{Present: true, Hash: "newremote", Size: 12},
	)
	assert.Equal(t, DecisionPull, r.Decision)
}

func TestBothDivergedIsConflict(t *testing.T) {
	entry := &index.Entry{Hash: "base", MTime: 100, Size: 10}
	r := Decide(
		LocalState{Present: true, Hash: "newlocal", Size: 11},
		entry,
		RemoteState{Present: true, Hash: "newremote", Size: 12},
	)
	assert.Equal(t, DecisionConflict, r.Decision)
}

func TestZeroSizeSkipsEqualityCheck(t *testing.T) {
	r := Decide(
		LocalState{Present: true, Hash: "abc", Size: 0},
		nil,
		RemoteState{Present: true, Hash: "abc", Size: 500},
	)
	assert.Equal(t, DecisionAdopt, r.Decision)
}
