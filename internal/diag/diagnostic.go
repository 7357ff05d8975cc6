package diag

import "fmt"

// Position is a resolved location in the original document.
// A zero Position means the diagnostic could not be tied to a document line
// and is attributed to the session as a whole.
type Position struct {
	File string
	Line int
}

func (p Position) IsZero() bool {
	return p.File == "" && p.Line == 0
}

func (p Position) String() string {
	if p.IsZero() {
		return "<session>"
	}
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// Diagnostic is one parsed message from a session's captured error stream.
type Diagnostic struct {
	Severity Severity
	Session  string
	// ScriptLine is the line number in the generated script that the message
	// referenced, or 0 if the message carried no line reference.
	ScriptLine int
	// Pos is the document position resolved through the line map, a
	// whole-fragment attribution for marker-scoped orphan messages, or zero
	// for messages outside any marker pair.
	Pos Position
	// WholeFragment marks diagnostics attributed to a fragment's starting
	// line because the message itself carried no usable line reference.
	WholeFragment bool
	Message       string
}
