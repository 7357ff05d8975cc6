// Package depend tracks externally declared input dependencies and created
// output files per session. Executing code declares them through a manifest
// file written next to the generated script; the engine reads the manifest
// after the subprocess exits.
package depend

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tangle/internal/cache"
	"tangle/internal/session"
)

// Declared is one dependency declaration from the manifest.
type Declared struct {
	Path string
	// Mode selects the change check: "mtime" or "hash".
	Mode string
}

// Manifest holds everything a session's subprocess declared.
type Manifest struct {
	Deps    []Declared
	Created []string
}

// ReadManifest parses the side-channel manifest. A missing manifest means
// the code declared nothing.
func ReadManifest(path string) (Manifest, error) {
	// #nosec G304 -- path is engine-generated
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, nil
		}
		return Manifest{}, err
	}
	defer func() { _ = f.Close() }()

	var m Manifest
	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "dep "):
			fields := strings.SplitN(strings.TrimPrefix(line, "dep "), " ", 2)
			if len(fields) != 2 {
				return Manifest{}, fmt.Errorf("%s: malformed dependency line %q", path, line)
			}
			mode, p := fields[0], fields[1]
			if mode != "mtime" && mode != "hash" {
				return Manifest{}, fmt.Errorf("%s: unknown dependency mode %q", path, mode)
			}
			// Duplicates are common when declarations are emitted from
			// loops; keep the first.
			if !seen[p] {
				seen[p] = true
				m.Deps = append(m.Deps, Declared{Path: p, Mode: mode})
			}
		case strings.HasPrefix(line, "created "):
			m.Created = append(m.Created, strings.TrimPrefix(line, "created "))
		default:
			return Manifest{}, fmt.Errorf("%s: malformed manifest line %q", path, line)
		}
	}
	if err := sc.Err(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Resolve expands a declared path against the working directory.
func Resolve(path, workingdir string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workingdir, path)
}

// Snapshot records the declared dependencies' current state for comparison
// on the next invocation. Files absent at snapshot time get a zero snapshot
// with Exists=false; the caller reports them and the zero value forces a
// rerun next run. Files whose mtime is at or after runStart were touched
// during the run: their snapshot is recorded as a never-matching sentinel so
// the change is caught on the following invocation rather than silently
// absorbed.
func Snapshot(deps []Declared, workingdir string, forceHash bool, runStart time.Time) (map[string]session.DepSnapshot, []string) {
	snaps := make(map[string]session.DepSnapshot, len(deps))
	var missing []string
	for _, dep := range deps {
		full := Resolve(dep.Path, workingdir)
		info, err := os.Stat(full)
		if err != nil {
			snaps[dep.Path] = session.DepSnapshot{}
			missing = append(missing, dep.Path)
			continue
		}
		hashMode := forceHash || dep.Mode == "hash"
		snap := session.DepSnapshot{HashMode: hashMode, Exists: true}
		if info.ModTime().Compare(runStart) >= 0 {
			// Sentinel: zero value never matches a live file.
			snaps[dep.Path] = snap
			continue
		}
		if hashMode {
			h, err := cache.HashFile(full)
			if err != nil {
				snaps[dep.Path] = session.DepSnapshot{}
				missing = append(missing, dep.Path)
				continue
			}
			snap.Hash = h
		}
		snap.MTimeUnixNano = info.ModTime().UnixNano()
		snaps[dep.Path] = snap
	}
	return snaps, missing
}

// Modified compares recorded snapshots against the filesystem as of run
// start. It returns whether any dependency changed and which declared
// dependencies no longer exist.
func Modified(snaps map[string]session.DepSnapshot, workingdir string) (changed bool, missing []string) {
	for path, snap := range snaps {
		full := Resolve(path, workingdir)
		info, err := os.Stat(full)
		if err != nil {
			missing = append(missing, path)
			continue
		}
		if !snap.Exists {
			// Previously missing or touched mid-run; now present.
			changed = true
			continue
		}
		if snap.HashMode {
			h, err := cache.HashFile(full)
			if err != nil || h != snap.Hash {
				changed = true
			}
			continue
		}
		if info.ModTime().UnixNano() != snap.MTimeUnixNano {
			changed = true
		}
	}
	return changed, missing
}

// CleanStale deletes files created by a previous run that the current
// (possibly changed) code no longer declares.
func CleanStale(prev, cur []string, workingdir string) []string {
	still := make(map[string]bool, len(cur))
	for _, p := range cur {
		still[Resolve(p, workingdir)] = true
	}
	var removed []string
	for _, p := range prev {
		full := Resolve(p, workingdir)
		if still[full] {
			continue
		}
		if err := os.Remove(full); err == nil {
			removed = append(removed, p)
		}
	}
	return removed
}
