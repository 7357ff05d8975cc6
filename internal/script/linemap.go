// Package script assembles session scripts and tracks the mapping from
// generated-script lines back to document positions.
package script

import "tangle/internal/diag"

// Range maps a contiguous run of generated-script lines to the document
// lines of the fragment that contributed them.
type Range struct {
	// Start and End are 1-based generated-script lines, End inclusive.
	Start, End int
	DocFile    string
	// DocLine is the document line corresponding to Start.
	DocLine  int
	Instance int
}

func (r Range) contains(line int) bool {
	return line >= r.Start && line <= r.End
}

func (r Range) width() int {
	return r.End - r.Start
}

// LineMap is the per-assembly mapping from script lines to document
// positions. Built fresh on every assembly; never persisted.
type LineMap struct {
	ranges []Range
}

func (m *LineMap) add(r Range) {
	m.ranges = append(m.ranges, r)
}

// Len returns the number of mapped ranges.
func (m *LineMap) Len() int {
	return len(m.ranges)
}

// Resolve maps a generated-script line to a document position and the owning
// fragment instance. Ambiguity is resolved by choosing the tightest
// enclosing range. ok is false for lines owned by script glue or custom
// code, which are attributed to the session as a whole.
func (m *LineMap) Resolve(line int) (pos diag.Position, instance int, ok bool) {
	best := -1
	for i, r := range m.ranges {
		if !r.contains(line) {
			continue
		}
		if best < 0 || r.width() < m.ranges[best].width() {
			best = i
		}
	}
	if best < 0 {
		return diag.Position{}, 0, false
	}
	r := m.ranges[best]
	return diag.Position{File: r.DocFile, Line: r.DocLine + (line - r.Start)}, r.Instance, true
}

// FragmentStart returns the document position of the given fragment's first
// line, used for whole-fragment attribution of line-less messages.
func (m *LineMap) FragmentStart(instance int) (diag.Position, bool) {
	for _, r := range m.ranges {
		if r.Instance == instance {
			return diag.Position{File: r.DocFile, Line: r.DocLine}, true
		}
	}
	return diag.Position{}, false
}
