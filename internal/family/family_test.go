package family

import (
	"strings"
	"testing"
)

func TestTableBuiltins(t *testing.T) {
	table := NewTable()
	for _, name := range []string{"python", "pycon", "bash"} {
		fam, err := table.Get(name)
		if err != nil {
			t.Fatalf("Get(%q): %v", name, err)
		}
		if fam.Name != name {
			t.Fatalf("Name = %q, want %q", fam.Name, name)
		}
		if len(fam.Command) == 0 {
			t.Fatalf("%s: empty command", name)
		}
	}
	if _, err := table.Get("fortran"); err == nil {
		t.Fatalf("unknown family must error")
	}
	if !strings.Contains(strings.Join(table.Names(), ","), "python") {
		t.Fatalf("Names = %v", table.Names())
	}
}

func TestConsoleFlag(t *testing.T) {
	table := NewTable()
	pycon, _ := table.Get("pycon")
	if !pycon.Console {
		t.Fatalf("pycon must be a console family")
	}
	python, _ := table.Get("python")
	if python.Console {
		t.Fatalf("python must be a batch family")
	}
}

func TestStripPrompts(t *testing.T) {
	table := NewTable()
	pycon, _ := table.Get("pycon")

	cases := []struct {
		line string
		want string
	}{
		{">>> >>> =>TANGLE:STDERR#0#", "=>TANGLE:STDERR#0#"},
		{">>> ... ... =>TANGLE:END#4#", "=>TANGLE:END#4#"},
		{">>> ", ""},
		{"Traceback (most recent call last):", "Traceback (most recent call last):"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := pycon.StripPrompts(tc.line); got != tc.want {
			t.Fatalf("StripPrompts(%q) = %q, want %q", tc.line, got, tc.want)
		}
	}

	python, _ := table.Get("python")
	if got := python.StripPrompts(">>> kept"); got != ">>> kept" {
		t.Fatalf("batch family stripped a prompt: %q", got)
	}
}

func TestScriptLine(t *testing.T) {
	fam := &Family{
		Name:         "fake",
		Command:      []string{"true"},
		LinePatterns: []string{"line {number}", ":{number}:"},
	}
	table := NewTable()
	if err := table.Register(fam); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cases := []struct {
		line string
		want int
		ok   bool
	}{
		{`  File "s.py", line 42, in <module>`, 42, true},
		{"s.sh: line 7: boom", 7, true},
		{"s.py:13: DeprecationWarning", 13, true},
		{"nothing numeric here", 0, false},
	}
	for _, tc := range cases {
		got, ok := fam.ScriptLine(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ScriptLine(%q) = %d, %v; want %d, %v", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}

func TestErrorWarningPatterns(t *testing.T) {
	fam := &Family{
		Name:            "fake",
		Command:         []string{"true"},
		ErrorPatterns:   []string{"Error:"},
		WarningPatterns: []string{"Warning"},
	}
	if !fam.IsError("ValueError: bad Error: input") {
		t.Fatalf("IsError substring match failed")
	}
	if fam.IsError("all fine") {
		t.Fatalf("IsError false positive")
	}
	if !fam.IsWarning("DeprecationWarning: old API") {
		t.Fatalf("IsWarning substring match failed")
	}
}

func TestExpandCommand(t *testing.T) {
	fam := &Family{
		Name:    "fake",
		Command: []string{"interp", "--dir", "{scriptdir}", "{script}"},
	}
	got := fam.ExpandCommand("/out/s.py", "/out", "/work")
	want := []string{"interp", "--dir", "/out", "/out/s.py"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ExpandCommand = %v, want %v", got, want)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	table := NewTable()
	if err := table.Register(&Family{Command: []string{"x"}}); err == nil {
		t.Fatalf("empty name must be rejected")
	}
	if err := table.Register(&Family{Name: "x"}); err == nil {
		t.Fatalf("empty command must be rejected")
	}
}
