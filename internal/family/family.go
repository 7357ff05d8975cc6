// Package family defines the per-language execution and diagnostic grammar
// table. A family bundles the interpreter command template, the script glue
// emitted around user fragments, and the stderr patterns used to classify
// and line-sync diagnostics. Adding a language means registering a new
// entry, either built-in or from tangle.toml.
package family

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Markers delimiting per-fragment output inside the captured streams.
const (
	StdoutMarker = "=>TANGLE:STDOUT#"
	StderrMarker = "=>TANGLE:STDERR#"
	EndMarker    = "=>TANGLE:END#"
)

// Family describes one target execution language.
type Family struct {
	Name      string
	Extension string
	// Command is the argv template for batch execution. Placeholders:
	// {script}, {scriptdir}, {workingdir}.
	Command []string
	// Console switches the session to the persistent-process lifecycle.
	Console bool

	// Script glue. Placeholders: {workingdir}, {manifest} in Prologue;
	// {stdoutmarker}, {stderrmarker}, {endmarker} in the wrappers.
	Prologue     string
	Epilogue     string
	WrapperBegin string
	WrapperEnd   string
	// CustomBegin and CustomEnd are user-declared session-start/session-end
	// code, emitted after the prologue and before the epilogue.
	CustomBegin string
	CustomEnd   string
	// TurnEcho is the statement a console session appends after each turn to
	// delimit turn output. Placeholder: {marker}.
	TurnEcho string
	// Prompts are the interactive prompt strings the interpreter writes when
	// reading a piped script (python: ">>> ", "... "). They arrive glued to
	// the front of captured stderr lines and are stripped before parsing.
	Prompts []string

	// Diagnostic grammar: substring patterns tagging a message as error or
	// warning, and regexps extracting a generated-script line number.
	ErrorPatterns   []string
	WarningPatterns []string
	LinePatterns    []string
	// Lookbehind scans earlier stderr lines for the error/warning signature
	// instead of later ones (languages that print the signature first).
	Lookbehind bool

	lineRegexps []*regexp.Regexp
}

// compile turns the {number} line patterns into regexps. Idempotent.
func (f *Family) compile() error {
	if f.lineRegexps != nil {
		return nil
	}
	f.lineRegexps = make([]*regexp.Regexp, 0, len(f.LinePatterns))
	for _, p := range f.LinePatterns {
		re, err := regexp.Compile(strings.ReplaceAll(regexp.QuoteMeta(p), `\{number\}`, `(\d+)`))
		if err != nil {
			return fmt.Errorf("family %s: line pattern %q: %w", f.Name, p, err)
		}
		f.lineRegexps = append(f.lineRegexps, re)
	}
	return nil
}

// ScriptLine extracts a generated-script line number from a stderr line.
func (f *Family) ScriptLine(line string) (int, bool) {
	for _, re := range f.lineRegexps {
		if m := re.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// StripPrompts removes any run of interactive prompts from the front of a
// captured stream line. No-op for batch families.
func (f *Family) StripPrompts(line string) string {
	for {
		stripped := false
		for _, p := range f.Prompts {
			for strings.HasPrefix(line, p) {
				line = line[len(p):]
				stripped = true
			}
		}
		if !stripped {
			return line
		}
	}
}

// IsError reports whether the line matches an error signature.
func (f *Family) IsError(line string) bool {
	for _, p := range f.ErrorPatterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

// IsWarning reports whether the line matches a warning signature.
func (f *Family) IsWarning(line string) bool {
	for _, p := range f.WarningPatterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

// ExpandCommand substitutes the command template placeholders.
func (f *Family) ExpandCommand(script, scriptdir, workingdir string) []string {
	out := make([]string, len(f.Command))
	repl := strings.NewReplacer(
		"{script}", script,
		"{scriptdir}", scriptdir,
		"{workingdir}", workingdir,
	)
	for i, arg := range f.Command {
		out[i] = repl.Replace(arg)
	}
	return out
}

// Table holds all registered families.
type Table struct {
	families map[string]*Family
}

// NewTable returns a table preloaded with the built-in families.
func NewTable() *Table {
	t := &Table{families: make(map[string]*Family)}
	for _, f := range builtins() {
		t.families[f.Name] = f
	}
	return t
}

// Register adds or overrides a family definition.
func (t *Table) Register(f *Family) error {
	if f.Name == "" {
		return fmt.Errorf("family name must not be empty")
	}
	if len(f.Command) == 0 {
		return fmt.Errorf("family %s: command must not be empty", f.Name)
	}
	if err := f.compile(); err != nil {
		return err
	}
	t.families[f.Name] = f
	return nil
}

// Get returns the family definition for name.
func (t *Table) Get(name string) (*Family, error) {
	f, ok := t.families[name]
	if !ok {
		return nil, fmt.Errorf("unknown family %q", name)
	}
	if err := f.compile(); err != nil {
		return nil, err
	}
	return f, nil
}

// Names returns all registered family names, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.families))
	for name := range t.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
