package stderrsync

import (
	"strings"
	"testing"

	"tangle/internal/diag"
	"tangle/internal/family"
	"tangle/internal/fragment"
	"tangle/internal/script"
)

func testFamily(t *testing.T, lookbehind bool) *family.Family {
	t.Helper()
	fam := &family.Family{
		Name:            "fake",
		Extension:       "txt",
		Command:         []string{"true"},
		WrapperBegin:    "w\n",
		ErrorPatterns:   []string{"Error"},
		WarningPatterns: []string{"Warning"},
		LinePatterns:    []string{"line {number}"},
		Lookbehind:      lookbehind,
	}
	table := family.NewTable()
	if err := table.Register(fam); err != nil {
		t.Fatalf("register family: %v", err)
	}
	return fam
}

// testMap assembles a two-fragment script: fragment 0 at script lines 2-3
// (doc.tex:10), fragment 1 at script lines 5-7 (doc.tex:42).
func testMap(t *testing.T, fam *family.Family) *script.LineMap {
	t.Helper()
	frags := []*fragment.Fragment{
		{Family: "fake", Session: "main", Restart: "default", Instance: 0, DocFile: "doc.tex", DocLine: 10, Source: "a1\na2"},
		{Family: "fake", Session: "main", Restart: "default", Instance: 1, DocFile: "doc.tex", DocLine: 42, Source: "b1\nb2\nb3"},
	}
	_, lm, err := script.Assemble(fam, frags, script.Options{})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return lm
}

func TestParseLineReferencedMessage(t *testing.T) {
	fam := testFamily(t, false)
	lm := testMap(t, fam)

	stderr := strings.Join([]string{
		`Traceback (most recent call last):`,
		`  File "fake_main_default.txt", line 6, in <module>`,
		`NameError: name 'x' is not defined. Error`,
	}, "\n")

	bag := diag.NewBag(10)
	Parse(Input{
		Session:    "fake:main:default",
		Family:     fam,
		Map:        lm,
		ScriptBase: "fake_main_default.txt",
		Stderr:     []byte(stderr),
		ExitCode:   1,
	}, bag)

	var found bool
	for _, d := range bag.Items() {
		if d.ScriptLine == 6 {
			found = true
			if d.Severity != diag.SevError {
				t.Fatalf("severity = %v, want error", d.Severity)
			}
			if d.Pos.File != "doc.tex" || d.Pos.Line != 43 {
				t.Fatalf("pos = %s, want doc.tex:43", d.Pos)
			}
		}
	}
	if !found {
		t.Fatalf("no line-referenced diagnostic extracted; items: %v", bag.Items())
	}
}

func TestParseLookbehindClassification(t *testing.T) {
	fam := testFamily(t, true)
	lm := testMap(t, fam)

	stderr := strings.Join([]string{
		`Warning issued by tool`,
		`  at fake_main_default.txt line 2`,
	}, "\n")

	bag := diag.NewBag(10)
	Parse(Input{
		Session:    "fake:main:default",
		Family:     fam,
		Map:        lm,
		ScriptBase: "fake_main_default.txt",
		Stderr:     []byte(stderr),
		ExitCode:   0,
	}, bag)

	items := bag.Items()
	if len(items) == 0 {
		t.Fatalf("expected a diagnostic")
	}
	last := items[len(items)-1]
	if last.ScriptLine != 2 {
		t.Fatalf("ScriptLine = %d, want 2", last.ScriptLine)
	}
	if last.Severity != diag.SevWarning {
		t.Fatalf("lookbehind should classify via the preceding line, got %v", last.Severity)
	}
	if last.Pos.File != "doc.tex" || last.Pos.Line != 10 {
		t.Fatalf("pos = %s, want doc.tex:10", last.Pos)
	}
}

func TestParseOrphanInScopeGetsFragmentStart(t *testing.T) {
	fam := testFamily(t, false)
	lm := testMap(t, fam)

	stderr := strings.Join([]string{
		script.StderrOpenMarker(1),
		"something failed without a line reference Error",
		script.StderrEndMarker(1),
	}, "\n")

	bag := diag.NewBag(10)
	Parse(Input{
		Session:    "fake:main:default",
		Family:     fam,
		Map:        lm,
		ScriptBase: "fake_main_default.txt",
		Stderr:     []byte(stderr),
		ExitCode:   1,
	}, bag)

	if bag.Len() != 1 {
		t.Fatalf("got %d diagnostics, want 1: %v", bag.Len(), bag.Items())
	}
	d := bag.Items()[0]
	if !d.WholeFragment {
		t.Fatalf("orphan in scope must be whole-fragment attributed")
	}
	if d.Pos.File != "doc.tex" || d.Pos.Line != 42 {
		t.Fatalf("pos = %s, want fragment start doc.tex:42", d.Pos)
	}
	if d.Severity != diag.SevError {
		t.Fatalf("severity = %v, want error", d.Severity)
	}
}

func TestParsePromptGluedMarkers(t *testing.T) {
	fam := testFamily(t, false)
	fam.Prompts = []string{">>> ", "... "}
	lm := testMap(t, fam)

	// A piped interpreter writes prompts to stderr without newlines, so
	// markers arrive with prompt runs glued to the front. A clean session
	// must still resolve its markers and produce nothing.
	stderr := strings.Join([]string{
		">>> >>> " + script.StderrOpenMarker(0),
		">>> ... " + script.StderrEndMarker(0),
		">>> >>> " + script.StderrOpenMarker(1),
		">>> " + script.StderrEndMarker(1),
		">>> ",
	}, "\n")

	bag := diag.NewBag(10)
	Parse(Input{
		Session:    "fake:main:default",
		Family:     fam,
		Map:        lm,
		ScriptBase: "fake_main_default.txt",
		Stderr:     []byte(stderr),
		ExitCode:   0,
	}, bag)

	if bag.Len() != 0 {
		t.Fatalf("clean console run produced diagnostics: %v", bag.Items())
	}
}

func TestParsePromptGluedOrphanAttribution(t *testing.T) {
	fam := testFamily(t, false)
	fam.Prompts = []string{">>> ", "... "}
	lm := testMap(t, fam)

	stderr := strings.Join([]string{
		">>> >>> " + script.StderrOpenMarker(1),
		"NameError: name 'x' is not defined. Error",
		">>> " + script.StderrEndMarker(1),
		">>> ",
	}, "\n")

	bag := diag.NewBag(10)
	Parse(Input{
		Session:    "fake:main:default",
		Family:     fam,
		Map:        lm,
		ScriptBase: "fake_main_default.txt",
		Stderr:     []byte(stderr),
		ExitCode:   0,
	}, bag)

	if bag.Len() != 1 {
		t.Fatalf("got %d diagnostics, want 1: %v", bag.Len(), bag.Items())
	}
	d := bag.Items()[0]
	if !d.WholeFragment || d.Pos.File != "doc.tex" || d.Pos.Line != 42 {
		t.Fatalf("diagnostic = %+v, want whole-fragment at doc.tex:42", d)
	}
	if d.Severity != diag.SevError {
		t.Fatalf("severity = %v, want error", d.Severity)
	}
}

func TestParseOrphanOutsideScopeIsSessionLevel(t *testing.T) {
	fam := testFamily(t, false)
	bag := diag.NewBag(10)
	Parse(Input{
		Session:    "fake:main:default",
		Family:     fam,
		Map:        testMap(t, fam),
		ScriptBase: "fake_main_default.txt",
		Stderr:     []byte("glue blew up\n"),
		ExitCode:   2,
	}, bag)

	if bag.Len() != 1 {
		t.Fatalf("got %d diagnostics, want 1", bag.Len())
	}
	d := bag.Items()[0]
	if !d.Pos.IsZero() {
		t.Fatalf("orphan outside markers must be session-level, got %s", d.Pos)
	}
	if d.Severity != diag.SevError {
		t.Fatalf("nonzero exit must classify unmatched content as error, got %v", d.Severity)
	}
}

func TestParseExitStatusFallbackZeroExit(t *testing.T) {
	fam := testFamily(t, false)
	bag := diag.NewBag(10)
	Parse(Input{
		Session:    "fake:main:default",
		Family:     fam,
		Map:        testMap(t, fam),
		ScriptBase: "fake_main_default.txt",
		Stderr:     []byte("progress note on stderr\n"),
		ExitCode:   0,
	}, bag)

	if bag.Len() != 1 || bag.Items()[0].Severity != diag.SevWarning {
		t.Fatalf("zero exit must classify unmatched content as warning, got %v", bag.Items())
	}
}

func TestParseEmptyStderr(t *testing.T) {
	fam := testFamily(t, false)
	bag := diag.NewBag(10)
	Parse(Input{Session: "s", Family: fam, Map: testMap(t, fam), Stderr: nil, ExitCode: 0}, bag)
	if bag.Len() != 0 {
		t.Fatalf("empty stderr must produce no diagnostics")
	}
}
