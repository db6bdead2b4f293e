package revision

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Op classifies a diff segment.
type Op int

const (
	OpEqual Op = iota
	OpInsert
	OpDelete
)

// Segment is a run of text that is unchanged, added or removed between two revisions.
type Segment struct {
	Op   Op
	Text string
}

// Diff compares two texts and returns semantically cleaned segments.
func Diff(oldText, newText string) []Segment {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	segments := make([]Segment, 0, len(diffs))
	for _, d := range diffs {
		var op Op
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = OpInsert
		case diffmatchpatch.DiffDelete:
			op = OpDelete
		default:
			op = OpEqual
		}
		segments = append(segments, Segment{Op: op, Text: d.Text})
	}

	return segments
}
