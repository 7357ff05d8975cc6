package engine

import (
	"tangle/internal/diag"
	"tangle/internal/session"
)

// SessionOutcome is the per-session entry of the run summary.
type SessionOutcome struct {
	Key      session.Key
	Decision session.Decision
	Reason   string
	ExitCode int
	Errors   int
	Warnings int
	// Unrecognized counts stderr messages no family pattern classified.
	Unrecognized int
	LaunchFailed bool
	Interrupted  bool
}

// Summary aggregates all sessions' results after the batch barrier.
type Summary struct {
	Sessions []SessionOutcome
	// Diags holds every diagnostic across sessions, with resolved document
	// positions where available, sorted for deterministic output.
	Diags *diag.Bag
	// IllegalPrints lists fragment or session identifiers whose non-typeset
	// code attempted to write to stdout.
	IllegalPrints []string
	// Outputs maps fragment IDs to captured stdout for typeset fragments,
	// including entries carried forward from cache.
	Outputs map[string]string

	Launched     int
	Cached       int
	Errors       int
	Warnings     int
	Unrecognized int
	Interrupted  bool
}

// Success reports whether the run finished without unresolved errors.
func (s *Summary) Success() bool {
	return !s.Interrupted && s.Errors == 0
}
