// Package session groups fragments into execution sessions.
package session

import (
	"tangle/internal/cache"
	"tangle/internal/diag"
	"tangle/internal/fragment"
	"tangle/internal/script"
)

// Key identifies a session. Stable across runs.
type Key struct {
	Family  string
	Name    string
	Restart string
}

func (k Key) String() string {
	return k.Family + ":" + k.Name + ":" + k.Restart
}

// Base returns the filesystem-safe basename used for the session's generated
// script and captured output files.
func (k Key) Base() string {
	return k.Family + "_" + k.Name + "_" + k.Restart
}

// Decision is the rerun verdict for one session.
type Decision uint8

const (
	// DecisionSkip serves the session from cache.
	DecisionSkip Decision = iota
	// DecisionRun schedules the session for execution.
	DecisionRun
)

func (d Decision) String() string {
	if d == DecisionRun {
		return "run"
	}
	return "skip"
}

// Session is a named, ordered accumulation of fragments sharing one
// interpreter process.
type Session struct {
	Key       Key
	Fragments []*fragment.Fragment

	// Filled by the script assembler.
	Script  string
	LineMap *script.LineMap

	// Filled by the fingerprint cache.
	Hash     cache.Digest
	PrevHash cache.Digest
	Decision Decision

	// Filled by execution and stderr synchronization.
	Stdout      []byte
	ExitCode    int
	Launched    bool
	LaunchErr   error
	Interrupted bool
	// Dependencies maps declared paths to their run-start snapshots.
	Dependencies map[string]DepSnapshot
	Created      []string
	Diags        *diag.Bag
}

// DepSnapshot records a declared dependency's state at snapshot time.
// A zero snapshot never matches a live file, forcing rerun.
type DepSnapshot struct {
	MTimeUnixNano int64
	Hash          cache.Digest
	HashMode      bool
	Exists        bool
}

func (s *Session) HasErrors() bool {
	return s.Diags != nil && s.Diags.HasErrors()
}

func (s *Session) HasWarnings() bool {
	return s.Diags != nil && s.Diags.HasWarnings()
}
