// Package stderrsync parses a session's captured error stream with the
// family's diagnostic grammar and resolves generated-script line references
// back to document positions through the session's line map.
package stderrsync

import (
	"strconv"
	"strings"

	"tangle/internal/diag"
	"tangle/internal/family"
	"tangle/internal/script"
)

// Input is everything needed to synchronize one session's stderr.
type Input struct {
	Session string
	Family  *family.Family
	Map     *script.LineMap
	// ScriptBase is the generated script's basename; stderr lines referencing
	// the script contain it, which separates interpreter tracebacks from
	// ordinary program output on stderr.
	ScriptBase string
	Stderr     []byte
	ExitCode   int
}

// Parse appends the ordered diagnostics extracted from the error stream to
// the bag. It never mutates the document.
func Parse(in Input, bag *diag.Bag) {
	if len(in.Stderr) == 0 {
		return
	}
	lines := strings.Split(strings.TrimRight(string(in.Stderr), "\n"), "\n")
	// Console interpreters glue their prompts onto whatever they write next,
	// including our markers. Strip them up front so the grammar below sees
	// the same stream a batch run would produce.
	if len(in.Family.Prompts) > 0 {
		for i := range lines {
			lines[i] = in.Family.StripPrompts(lines[i])
		}
	}

	// Scope of the fragment currently executing, tracked via the markers the
	// assembled script emits around each fragment. -1 means outside any
	// marker pair (session glue or custom code).
	scope := -1
	var orphan []string
	orphanScope := -1

	flushOrphan := func() {
		if len(orphan) == 0 {
			return
		}
		sev, found := classifyBlock(in.Family, orphan)
		if !found {
			// Unclassified content falls back to the exit status.
			if in.ExitCode != 0 {
				sev = diag.SevError
			} else {
				sev = diag.SevWarning
			}
		}
		d := diag.Diagnostic{
			Severity: sev,
			Session:  in.Session,
			Message:  strings.Join(orphan, "\n"),
		}
		if orphanScope >= 0 {
			if pos, ok := in.Map.FragmentStart(orphanScope); ok {
				d.Pos = pos
				d.WholeFragment = true
			}
		}
		bag.Add(d)
		orphan = nil
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if inst, ok := markerInstance(trimmed, family.StderrMarker); ok {
			flushOrphan()
			scope = inst
			orphanScope = scope
			continue
		}
		if _, ok := markerInstance(trimmed, family.EndMarker); ok {
			flushOrphan()
			scope = -1
			orphanScope = -1
			continue
		}
		if in.ScriptBase != "" && strings.Contains(line, in.ScriptBase) {
			if n, ok := in.Family.ScriptLine(line); ok {
				flushOrphan()
				sev, found := classifyContext(in.Family, lines, i, in.ScriptBase)
				if !found {
					sev = diag.SevUnrecognized
				}
				d := diag.Diagnostic{
					Severity:   sev,
					Session:    in.Session,
					ScriptLine: n,
					Message:    trimmed,
				}
				if pos, _, ok := in.Map.Resolve(n); ok {
					d.Pos = pos
				}
				bag.Add(d)
				continue
			}
		}
		if trimmed == "" && len(orphan) == 0 {
			continue
		}
		orphan = append(orphan, line)
		orphanScope = scope
	}
	flushOrphan()
}

// markerInstance decodes "<prefix><instance>#" marker lines.
func markerInstance(line, prefix string) (int, bool) {
	if !strings.HasPrefix(line, prefix) {
		return 0, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(line, prefix), "#")
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// classifyBlock scans a whole orphan block for signatures. A line matching
// both error and warning patterns counts as error.
func classifyBlock(fam *family.Family, block []string) (diag.Severity, bool) {
	foundWarning := false
	for _, line := range block {
		if fam.IsError(line) {
			return diag.SevError, true
		}
		if fam.IsWarning(line) {
			foundWarning = true
		}
	}
	if foundWarning {
		return diag.SevWarning, true
	}
	return diag.SevUnrecognized, false
}

// classifyContext searches neighboring stderr lines for an error/warning
// signature, stopping at the next line that references the script (a new
// message). Direction follows the family's lookbehind setting.
func classifyContext(fam *family.Family, lines []string, idx int, scriptBase string) (diag.Severity, bool) {
	step := 1
	if fam.Lookbehind {
		step = -1
	}
	for i := idx; i >= 0 && i < len(lines); i += step {
		line := lines[i]
		if i != idx && strings.Contains(line, scriptBase) {
			break
		}
		if fam.IsError(line) {
			return diag.SevError, true
		}
		if fam.IsWarning(line) {
			return diag.SevWarning, true
		}
	}
	return diag.SevUnrecognized, false
}
