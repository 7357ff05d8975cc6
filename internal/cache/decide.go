package cache

// Prior is the persisted state of a session from the previous invocation,
// as seen at the start of the current run.
type Prior struct {
	Exists bool
	Hash   Digest
	// DepsModified is true when any declared dependency's current hash/mtime
	// differs from its recorded snapshot.
	DepsModified bool
	// DepMissing is true when a declared dependency no longer exists.
	DepMissing bool
	Errors     int
	Warnings   int
}

// Verdict is the outcome of a rerun decision.
type Verdict struct {
	Run    bool
	Reason string
	// Pinned is set when rerun=never suppressed a rerun that modifications
	// would otherwise have triggered. Reported as a warning.
	Pinned bool
}

// Decide evaluates the rerun decision for one session.
// Evaluation order: cold start, then policy always, then content hash, then
// dependencies, then prior errors/warnings per policy. The never policy
// pins the cache entry regardless of modifications.
func Decide(policy Policy, current Digest, prior Prior) Verdict {
	if !prior.Exists {
		return Verdict{Run: true, Reason: "cold start"}
	}
	if policy == PolicyAlways {
		return Verdict{Run: true, Reason: "rerun=always"}
	}
	modified := current != prior.Hash || prior.DepsModified || prior.DepMissing
	if policy == PolicyNever {
		return Verdict{Reason: "pinned by rerun=never", Pinned: modified}
	}
	if current != prior.Hash {
		return Verdict{Run: true, Reason: "content changed"}
	}
	if prior.DepsModified || prior.DepMissing {
		return Verdict{Run: true, Reason: "dependencies changed"}
	}
	if (policy == PolicyErrors || policy == PolicyWarnings) && prior.Errors > 0 {
		return Verdict{Run: true, Reason: "previous run errored"}
	}
	if policy == PolicyWarnings && prior.Warnings > 0 {
		return Verdict{Run: true, Reason: "previous run warned"}
	}
	return Verdict{Reason: "cached"}
}
