package depend

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.manifest")
	writeFile(t, path, "dep mtime data.csv\ndep hash model.bin\ndep mtime data.csv\ncreated out.png\n\ncreated table.txt\n")

	m, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(m.Deps) != 2 {
		t.Fatalf("deps = %v, want 2 deduplicated entries", m.Deps)
	}
	if m.Deps[0].Path != "data.csv" || m.Deps[0].Mode != "mtime" {
		t.Fatalf("first dep = %+v", m.Deps[0])
	}
	if m.Deps[1].Mode != "hash" {
		t.Fatalf("second dep mode = %q, want hash", m.Deps[1].Mode)
	}
	if len(m.Created) != 2 || m.Created[0] != "out.png" {
		t.Fatalf("created = %v", m.Created)
	}
}

func TestReadManifestMissingFile(t *testing.T) {
	m, err := ReadManifest(filepath.Join(t.TempDir(), "absent.manifest"))
	if err != nil {
		t.Fatalf("missing manifest must not error: %v", err)
	}
	if len(m.Deps) != 0 || len(m.Created) != 0 {
		t.Fatalf("missing manifest must be empty, got %+v", m)
	}
}

func TestReadManifestMalformed(t *testing.T) {
	dir := t.TempDir()
	for _, content := range []string{"bogus line\n", "dep data.csv\n", "dep weird data.csv\n"} {
		path := filepath.Join(dir, "bad.manifest")
		writeFile(t, path, content)
		if _, err := ReadManifest(path); err == nil {
			t.Fatalf("expected error for %q", content)
		}
	}
}

func TestSnapshotAndModified(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data.csv"), "v1")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "data.csv"), old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deps := []Declared{{Path: "data.csv", Mode: "mtime"}}
	snaps, missing := Snapshot(deps, dir, false, time.Now())
	if len(missing) != 0 {
		t.Fatalf("missing = %v", missing)
	}
	if changed, _ := Modified(snaps, dir); changed {
		t.Fatalf("untouched dependency must not report modified")
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "data.csv"), later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if changed, _ := Modified(snaps, dir); !changed {
		t.Fatalf("touched dependency must report modified")
	}
}

func TestSnapshotHashModeIgnoresTouch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "model.bin"), "weights")
	old := time.Now().Add(-time.Hour)
	_ = os.Chtimes(filepath.Join(dir, "model.bin"), old, old)

	snaps, _ := Snapshot([]Declared{{Path: "model.bin", Mode: "hash"}}, dir, false, time.Now())
	// Touch without content change.
	later := time.Now().Add(-30 * time.Minute)
	_ = os.Chtimes(filepath.Join(dir, "model.bin"), later, later)
	if changed, _ := Modified(snaps, dir); changed {
		t.Fatalf("hash mode must ignore a bare mtime change")
	}

	writeFile(t, filepath.Join(dir, "model.bin"), "new weights")
	if changed, _ := Modified(snaps, dir); !changed {
		t.Fatalf("hash mode must detect a content change")
	}
}

func TestSnapshotMissingDependency(t *testing.T) {
	dir := t.TempDir()
	snaps, missing := Snapshot([]Declared{{Path: "gone.csv", Mode: "mtime"}}, dir, false, time.Now())
	if len(missing) != 1 || missing[0] != "gone.csv" {
		t.Fatalf("missing = %v", missing)
	}
	// The zero snapshot never matches: once the file appears the session
	// reruns.
	writeFile(t, filepath.Join(dir, "gone.csv"), "now here")
	if changed, _ := Modified(snaps, dir); !changed {
		t.Fatalf("appearing dependency must report modified")
	}
}

func TestSnapshotMidRunTouchSentinel(t *testing.T) {
	dir := t.TempDir()
	runStart := time.Now().Add(-time.Minute)
	// Written after run start: the dependency was touched by the run itself.
	writeFile(t, filepath.Join(dir, "live.csv"), "written during run")

	snaps, missing := Snapshot([]Declared{{Path: "live.csv", Mode: "mtime"}}, dir, false, runStart)
	if len(missing) != 0 {
		t.Fatalf("missing = %v", missing)
	}
	if changed, _ := Modified(snaps, dir); !changed {
		t.Fatalf("dependency touched mid-run must report modified on the next invocation")
	}
}

func TestCleanStale(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep.png"), "x")
	writeFile(t, filepath.Join(dir, "drop.png"), "x")

	removed := CleanStale([]string{"keep.png", "drop.png"}, []string{"keep.png"}, dir)
	if len(removed) != 1 || removed[0] != "drop.png" {
		t.Fatalf("removed = %v", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.png")); err != nil {
		t.Fatalf("keep.png must survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "drop.png")); !os.IsNotExist(err) {
		t.Fatalf("drop.png must be deleted")
	}
}

func TestResolve(t *testing.T) {
	got := Resolve("sub/file.txt", "/work")
	if got != filepath.Join("/work", "sub", "file.txt") {
		t.Fatalf("Resolve relative = %q", got)
	}
	if Resolve("/abs/file.txt", "/work") != "/abs/file.txt" {
		t.Fatalf("Resolve absolute must ignore working dir")
	}
}
