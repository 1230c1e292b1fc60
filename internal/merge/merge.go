// Package merge implements the 3-way line merge engine: given a common
// ancestor ("base") and two divergent byte sequences ("local" and
// "remote"), it either produces a merged byte sequence or reports the
// conflicting line spans so the caller can fall back to forking. Built
// on github.com/pmezard/go-difflib's SequenceMatcher, which computes
// the two base-anchored diffs the merge works from.
package merge

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// MaxMergeBytes is the default size ceiling beyond which merge refuses
// and the caller must fork.
const MaxMergeBytes = 2 << 20

// ErrNotUTF8 is returned when any of the three inputs fails UTF-8 decoding.
var ErrNotUTF8 = errors.New("merge: input is not valid UTF-8")

// ErrTooLarge is returned when an input exceeds the configured size limit.
var ErrTooLarge = errors.New("merge: input exceeds merge size limit")

// ErrConflict carries the line spans where both sides changed the same
// base region to non-equal results.
type ErrConflict struct {
	Spans []ConflictSpan
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("merge: %d conflicting span(s)", len(e.Spans))
}

// ConflictSpan identifies one base line range both sides modified
// differently, along with each side's replacement lines.
type ConflictSpan struct {
	BaseStart, BaseEnd int
	LocalLines         []string
	RemoteLines        []string
}

// Merge3 attempts a line-level 3-way merge. maxBytes <= 0 uses
// MaxMergeBytes. On success it returns the merged bytes. On a genuine
// conflict it returns *ErrConflict (use errors.As to inspect). Any other
// error (non-UTF-8 input, oversized input) means the caller must fork
// without a conflict to attribute lines to.
func Merge3(base, local, remote []byte, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = MaxMergeBytes
	}

	for _, b := range [][]byte{base, local, remote} {
		if len(b) > maxBytes {
			return nil, ErrTooLarge
		}
		if !utf8.Valid(b) {
			return nil, ErrNotUTF8
		}
	}

	baseLines := splitLines(base)
	localLines := splitLines(local)
	remoteLines := splitLines(remote)

	localOps := difflib.NewMatcher(baseLines, localLines).GetOpCodes()
	remoteOps := difflib.NewMatcher(baseLines, remoteLines).GetOpCodes()

	merged, conflicts := merge3Lines(baseLines, localLines, remoteLines, localOps, remoteOps)
	if len(conflicts) > 0 {
		return nil, &ErrConflict{Spans: conflicts}
	}

	var out bytes.Buffer
	for _, l := range merged {
		out.WriteString(l)
	}
	return out.Bytes(), nil
}

// splitLines breaks data into lines, keeping line terminators attached so
// that whitespace and line-ending style are preserved verbatim in output.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			lines = append(lines, string(data[start:i+1]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}

// change is one side's non-equal opcode, normalized to a base range plus
// the lines it contributes in place of that range. Pure insertions carry
// a zero-width base range (I1 == I2).
type change struct {
	baseStart, baseEnd int
	lines              []string
}

func changesFrom(ops []difflib.OpCode, side []string) []change {
	var out []change
	for _, op := range ops {
		if op.Tag == 'e' {
			continue
		}
		out = append(out, change{baseStart: op.I1, baseEnd: op.I2, lines: side[op.J1:op.J2]})
	}
	return out
}

// cluster groups together every change (from either side) whose base
// range touches another's, so a local edit and an overlapping remote edit
// are always compared as one unit rather than split by unrelated
// breakpoints. buildClusters treats adjacent zero-width insertions at the same
// point as part of the same cluster, but does not merge a pure insertion
// at position p with an unrelated edit ending exactly at p on the other
// side unless their ranges actually intersect.
type cluster struct {
	start, end int
	local      []change
	remote     []change
}

func buildClusters(localChanges, remoteChanges []change) []cluster {
	type tagged struct {
		change
		isLocal bool
	}
	var all []tagged
	for _, c := range localChanges {
		all = append(all, tagged{c, true})
	}
	for _, c := range remoteChanges {
		all = append(all, tagged{c, false})
	}
	if len(all) == 0 {
		return nil
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].baseStart != all[j].baseStart {
			return all[i].baseStart < all[j].baseStart
		}
		return all[i].baseEnd < all[j].baseEnd
	})

	var clusters []cluster
	cur := cluster{start: all[0].baseStart, end: all[0].baseEnd}
	appendTo := func(c cluster, t tagged) cluster {
		if t.isLocal {
			c.local = append(c.local, t.change)
		} else {
			c.remote = append(c.remote, t.change)
		}
		if t.baseEnd > c.end {
			c.end = t.baseEnd
		}
		return c
	}
	cur = appendTo(cluster{start: all[0].baseStart, end: all[0].baseStart}, all[0])

	for _, t := range all[1:] {
		sameInsertionPoint := t.baseStart == t.baseEnd && t.baseStart == cur.end && cur.start == cur.end
		if t.baseStart < cur.end || sameInsertionPoint {
			cur = appendTo(cur, t)
			continue
		}
		clusters = append(clusters, cur)
		cur = appendTo(cluster{start: t.baseStart, end: t.baseStart}, t)
	}
	clusters = append(clusters, cur)
	return clusters
}

func merge3Lines(base, localLines, remoteLines []string, localOps, remoteOps []difflib.OpCode) ([]string, []ConflictSpan) {
	localChanges := changesFrom(localOps, localLines)
	remoteChanges := changesFrom(remoteOps, remoteLines)
	clusters := buildClusters(localChanges, remoteChanges)

	var merged []string
	var conflicts []ConflictSpan
	pos := 0

	for _, c := range clusters {
		if c.start > pos {
			merged = append(merged, base[pos:c.start]...)
		}

		switch {
		case len(c.local) == 0:
			merged = append(merged, concatLines(c.remote)...)
		case len(c.remote) == 0:
			merged = append(merged, concatLines(c.local)...)
		default:
			lLines := concatLines(c.local)
			rLines := concatLines(c.remote)
			if linesEqual(lLines, rLines) {
				merged = append(merged, lLines...)
			} else {
				conflicts = append(conflicts, ConflictSpan{
					BaseStart:   c.start,
					BaseEnd:     c.end,
					LocalLines:  lLines,
					RemoteLines: rLines,
				})
			}
		}

		pos = c.end
	}

	if pos < len(base) {
		merged = append(merged, base[pos:]...)
	}

	return merged, conflicts
}

// concatLines joins every change's contributed lines in base order. A
// cluster normally holds a single change per side; multiple only occurs
// when unrelated nearby edits on the same side got merged into one
// cluster by an overlapping edit on the other side, in which case base
// order of the underlying opcodes (already sorted by buildClusters) is
// preserved.
func concatLines(changes []change) []string {
	var out []string
	for _, c := range changes {
		out = append(out, c.lines...)
	}
	return out
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
