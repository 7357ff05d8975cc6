package family

// builtins returns the built-in family table entries. TOML definitions may
// override any of these by name.
func builtins() []*Family {
	python := &Family{
		Name:      "python",
		Extension: "py",
		Command:   []string{"python3", "{script}"},
		Prologue: `# -*- coding: utf-8 -*-
import os
import sys

_tangle_manifest = open(r'{manifest}', 'w')

def tangle_dep(path, mode='mtime'):
    _tangle_manifest.write('dep {0} {1}\n'.format(mode, path))

def tangle_created(path):
    _tangle_manifest.write('created {0}\n'.format(path))

if os.path.isdir(r'{workingdir}'):
    os.chdir(r'{workingdir}')
`,
		Epilogue: `_tangle_manifest.close()
`,
		WrapperBegin: `print('{stdoutmarker}')
print('{stderrmarker}', file=sys.stderr, flush=True)
`,
		WrapperEnd: `print('{endmarker}', file=sys.stderr, flush=True)
`,
		TurnEcho:        `print('{marker}')`,
		ErrorPatterns:   []string{"Error:", "Error"},
		WarningPatterns: []string{"Warning:", "Warning"},
		LinePatterns:    []string{"line {number}", ":{number}:"},
	}

	pycon := &Family{
		Name:            "pycon",
		Extension:       "py",
		Command:         []string{"python3", "-u", "-i", "-q"},
		Console:         true,
		Prologue:        python.Prologue,
		Epilogue:        python.Epilogue,
		WrapperBegin:    python.WrapperBegin,
		WrapperEnd:      python.WrapperEnd,
		TurnEcho:        python.TurnEcho,
		Prompts:         []string{">>> ", "... "},
		ErrorPatterns:   python.ErrorPatterns,
		WarningPatterns: python.WarningPatterns,
		LinePatterns:    python.LinePatterns,
	}

	bash := &Family{
		Name:      "bash",
		Extension: "sh",
		Command:   []string{"bash", "{script}"},
		Prologue: `cd "{workingdir}" 2>/dev/null || true
TANGLE_MANIFEST="{manifest}"
: > "$TANGLE_MANIFEST"
tangle_dep() { echo "dep ${2:-mtime} $1" >> "$TANGLE_MANIFEST"; }
tangle_created() { echo "created $1" >> "$TANGLE_MANIFEST"; }
`,
		Epilogue: "",
		WrapperBegin: `echo "{stdoutmarker}"
echo "{stderrmarker}" >&2
`,
		WrapperEnd: `echo "{endmarker}" >&2
`,
		TurnEcho:        `echo "{marker}"`,
		ErrorPatterns:   []string{"error", "Error"},
		WarningPatterns: []string{"warning", "Warning"},
		LinePatterns:    []string{"line {number}"},
	}

	return []*Family{python, pycon, bash}
}
