package script

import (
	"fmt"
	"strconv"
	"strings"

	"tangle/internal/family"
	"tangle/internal/fragment"
)

// Options carry the per-run paths substituted into the script glue.
type Options struct {
	WorkingDir   string
	ManifestPath string
}

// OpenMarker returns the stdout marker emitted before a fragment executes.
func OpenMarker(instance int) string {
	return family.StdoutMarker + strconv.Itoa(instance) + "#"
}

// StderrOpenMarker returns the stderr marker opening a fragment's scope.
func StderrOpenMarker(instance int) string {
	return family.StderrMarker + strconv.Itoa(instance) + "#"
}

// StderrEndMarker returns the stderr marker closing a fragment's scope.
func StderrEndMarker(instance int) string {
	return family.EndMarker + strconv.Itoa(instance) + "#"
}

// Assemble concatenates a session's fragments, interleaved with the family's
// script glue and custom code, into one executable script. It records the
// exact generated-script line range contributed by each fragment. Assembly
// is pure: it builds strings and the line map, nothing else.
func Assemble(fam *family.Family, frags []*fragment.Fragment, opts Options) (string, *LineMap, error) {
	if len(frags) == 0 {
		return "", nil, fmt.Errorf("session has no executable fragments")
	}
	for i := 1; i < len(frags); i++ {
		if frags[i].Instance <= frags[i-1].Instance {
			return "", nil, fmt.Errorf(
				"malformed fragment ordering: instance %d follows %d",
				frags[i].Instance, frags[i-1].Instance)
		}
	}

	var b strings.Builder
	lm := &LineMap{}
	line := 1

	emit := func(chunk string) {
		if chunk == "" {
			return
		}
		if !strings.HasSuffix(chunk, "\n") {
			chunk += "\n"
		}
		b.WriteString(chunk)
		line += strings.Count(chunk, "\n")
	}

	glue := strings.NewReplacer(
		"{workingdir}", opts.WorkingDir,
		"{manifest}", opts.ManifestPath,
	)
	emit(glue.Replace(fam.Prologue))
	emit(glue.Replace(fam.CustomBegin))

	for _, f := range frags {
		emit(expandWrapper(fam.WrapperBegin, f.Instance))
		start := line
		emit(f.Source)
		lm.add(Range{
			Start:    start,
			End:      line - 1,
			DocFile:  f.DocFile,
			DocLine:  f.DocLine,
			Instance: f.Instance,
		})
		emit(expandWrapper(fam.WrapperEnd, f.Instance))
	}

	emit(glue.Replace(fam.CustomEnd))
	emit(glue.Replace(fam.Epilogue))
	return b.String(), lm, nil
}

func expandWrapper(tmpl string, instance int) string {
	return strings.NewReplacer(
		"{stdoutmarker}", OpenMarker(instance),
		"{stderrmarker}", StderrOpenMarker(instance),
		"{endmarker}", StderrEndMarker(instance),
	).Replace(tmpl)
}
