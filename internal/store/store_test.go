package store

import (
	"os"
	"path/filepath"
	"testing"

	"tangle/internal/cache"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	state := NewState()
	state.Sessions["python:main:default"] = SessionRecord{
		Hash:     cache.HashBytes([]byte("script")),
		ExitCode: 0,
		Warnings: 1,
		Deps: []DepRecord{
			{Path: "data.csv", MTimeUnixNano: 123456789, Exists: true},
			{Path: "model.bin", Hash: cache.HashBytes([]byte("weights")), HashMode: true, Exists: true},
		},
		Created: []string{"out.png"},
		Diags: []DiagRecord{
			{Severity: 1, ScriptLine: 7, File: "doc.tex", Line: 42, Message: "deprecation warning"},
		},
		Outputs: map[string]string{"python:main:default:0": "6\n"},
	}

	if err := st.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded := st.Load()
	rec, ok := loaded.Sessions["python:main:default"]
	if !ok {
		t.Fatalf("session missing after round trip")
	}
	if rec.Hash != cache.HashBytes([]byte("script")) {
		t.Fatalf("hash mismatch")
	}
	if len(rec.Deps) != 2 || rec.Deps[1].Path != "model.bin" || !rec.Deps[1].HashMode {
		t.Fatalf("deps = %+v", rec.Deps)
	}
	if len(rec.Diags) != 1 || rec.Diags[0].Line != 42 {
		t.Fatalf("diags = %+v", rec.Diags)
	}
	if rec.Outputs["python:main:default:0"] != "6\n" {
		t.Fatalf("outputs = %v", rec.Outputs)
	}
}

func TestLoadMissingState(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	state := st.Load()
	if state == nil || len(state.Sessions) != 0 {
		t.Fatalf("missing state must load as empty")
	}
}

func TestLoadCorruptStateTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, stateFileName), []byte("not msgpack at all"), 0o644); err != nil {
		t.Fatalf("write corrupt state: %v", err)
	}
	state := st.Load()
	if len(state.Sessions) != 0 {
		t.Fatalf("corrupt state must load as empty, got %d sessions", len(state.Sessions))
	}
}

func TestSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first := NewState()
	first.Sessions["a:b:c"] = SessionRecord{ExitCode: 1}
	if err := st.Save(first); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	second := NewState()
	second.Sessions["d:e:f"] = SessionRecord{}
	if err := st.Save(second); err != nil {
		t.Fatalf("Save second: %v", err)
	}
	loaded := st.Load()
	if _, ok := loaded.Sessions["a:b:c"]; ok {
		t.Fatalf("old session must be gone after replace")
	}
	if _, ok := loaded.Sessions["d:e:f"]; !ok {
		t.Fatalf("new session missing")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestDrop(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Drop(); err != nil {
		t.Fatalf("Drop on empty store: %v", err)
	}
	if err := st.Save(NewState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Drop(); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, stateFileName)); !os.IsNotExist(err) {
		t.Fatalf("state file must be removed")
	}
}
