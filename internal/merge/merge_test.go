package merge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge3NonOverlappingEditsMergeCleanly(t *testing.T) {
	base := []byte("alpha\nbeta\ngamma\ndelta\n")
	local := []byte("ALPHA\nbeta\ngamma\ndelta\n")
	remote := []byte("alpha\nbeta\ngamma\nDELTA\n")

	merged, err := Merge3(base, local, remote, 0)
	require.NoError(t, err)
	assert.Equal(t, "ALPHA\nbeta\ngamma\nDELTA\n", string(merged))
}

func TestMerge3IdenticalInputsNoop(t *testing.T) {
	base := []byte("one\ntwo\nthree\n")
	merged, err := Merge3(base, base, base, 0)
	require.NoError(t, err)
	assert.Equal(t, string(base), string(merged))
}

func TestMerge3BothSidesChangeSameLineDifferentlyConflicts(t *testing.T) {
	base := []byte("line one\nline two\n")
	local := []byte("line one LOCAL\nline two\n")
	remote := []byte("line one REMOTE\nline two\n")

	_, err := Merge3(base, local, remote, 0)
	require.Error(t, err)

	var conflict *ErrConflict
	require.True(t, errors.As(err, &conflict))
	require.Len(t, conflict.Spans, 1)
	assert.Equal(t, []string{"line one LOCAL\n"}, conflict.Spans[0].LocalLines)
	assert.Equal(t, []string{"line one REMOTE\n"}, conflict.Spans[0].RemoteLines)
}

func TestMerge3BothSidesMakeSameChangeMergesWithoutConflict(t *testing.T) {
	base := []byte("line one\nline two\n")
	local := []byte("line one EDIT\nline two\n")
	remote := []byte("line one EDIT\nline two\n")

	merged, err := Merge3(base, local, remote, 0)
	require.NoError(t, err)
	assert.Equal(t, "line one EDIT\nline two\n", string(merged))
}

func TestMerge3OnlyLocalChanged(t *testing.T) {
	base := []byte("a\nb\nc\n")
	local := []byte("a\nB\nc\n")

	merged, err := Merge3(base, local, base, 0)
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\n", string(merged))
}

func TestMerge3RefusesNonUTF8(t *testing.T) {
	base := []byte("a\n")
	bad := []byte{0xff, 0xfe, 0x00}

	_, err := Merge3(base, bad, base, 0)
	assert.ErrorIs(t, err, ErrNotUTF8)
}

func TestMerge3RefusesOversizedInput(t *testing.T) {
	base := make([]byte, 10)
	_, err := Merge3(base, base, base, 5)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestMerge3BothInsertSamePositionEqualContentMerges(t *testing.T) {
	base := []byte("a\nb\n")
	local := []byte("a\nNEW\nb\n")
	remote := []byte("a\nNEW\nb\n")

	merged, err := Merge3(base, local, remote, 0)
	require.NoError(t, err)
	assert.Equal(t, "a\nNEW\nb\n", string(merged))
}

func TestMerge3BothInsertSamePositionDifferentContentConflicts(t *testing.T) {
	base := []byte("a\nb\n")
	local := []byte("a\nLOCAL\nb\n")
	remote := []byte("a\nREMOTE\nb\n")

	_, err := Merge3(base, local, remote, 0)
	var conflict *ErrConflict
	require.True(t, errors.As(err, &conflict))
}
