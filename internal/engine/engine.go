// Package engine orchestrates a full run: session registry, script
// assembly, rerun decisions, bounded-concurrency execution, stderr
// synchronization, and the final atomic store write-back.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tangle/internal/cache"
	"tangle/internal/depend"
	"tangle/internal/diag"
	"tangle/internal/family"
	"tangle/internal/fragment"
	"tangle/internal/run"
	"tangle/internal/script"
	"tangle/internal/session"
	"tangle/internal/stderrsync"
	"tangle/internal/store"
)

// Options is the configuration surface of one run.
type Options struct {
	// Jobs bounds the number of concurrently running subprocesses.
	// Non-positive means available parallelism.
	Jobs             int
	Policy           cache.Policy
	HashDependencies bool
	OutputDir        string
	WorkingDir       string
	MaxDiagnostics   int
	Families         *family.Table
	Progress         ProgressSink
}

func (o *Options) normalize() {
	if o.Jobs <= 0 {
		o.Jobs = runtime.GOMAXPROCS(0)
	}
	if o.MaxDiagnostics <= 0 {
		o.MaxDiagnostics = 100
	}
	if o.OutputDir == "" {
		o.OutputDir = ".tangle"
	}
	if o.WorkingDir == "" {
		o.WorkingDir = "."
	}
	if o.Families == nil {
		o.Families = family.NewTable()
	}
}

// RunContext carries the per-run state threaded through every phase.
// Constructed at run start, discarded at run end; no process-wide state.
type RunContext struct {
	opts    Options
	store   *store.Store
	prev    *store.State
	start   time.Time
	outDir  string
	workDir string
}

// prepared pairs a session with its resolved family and rerun verdict.
type prepared struct {
	sess    *session.Session
	fam     *family.Family
	verdict cache.Verdict
	// failed marks sessions that could not be assembled; they neither run
	// nor carry cached results forward.
	failed bool
}

// Run executes the full ordered fragment sequence and returns the aggregate
// summary. Only a failure that prevents any session from being assembled or
// scheduled is returned as an error; everything else is session-local and
// lands in the summary's diagnostics.
func Run(ctx context.Context, frags []fragment.Fragment, opts Options) (*Summary, error) {
	opts.normalize()
	outDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	workDir, err := filepath.Abs(opts.WorkingDir)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(outDir)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	rc := &RunContext{
		opts:    opts,
		store:   st,
		prev:    st.Load(),
		start:   time.Now(),
		outDir:  outDir,
		workDir: workDir,
	}

	reg := session.NewRegistry(frags, opts.MaxDiagnostics)
	preps := rc.prepare(reg)
	interrupted := rc.execute(ctx, preps)
	return rc.finalize(reg, preps, interrupted)
}

// prepare assembles every session's script and evaluates its rerun decision
// against the state snapshot loaded at run start.
func (rc *RunContext) prepare(reg *session.Registry) []*prepared {
	preps := make([]*prepared, 0, reg.Len())
	for _, s := range reg.Sessions() {
		p := &prepared{sess: s}
		preps = append(preps, p)

		fam, err := rc.opts.Families.Get(s.Key.Family)
		if err != nil {
			p.failed = true
			s.Diags.Add(diag.Diagnostic{
				Severity: diag.SevError,
				Session:  s.Key.String(),
				Message:  fmt.Sprintf("cannot assemble session: %v", err),
			})
			emit(rc.opts.Progress, Event{Session: s.Key.String(), Stage: StageAssemble, Status: StatusError, Err: err})
			continue
		}
		p.fam = fam

		text, lm, err := script.Assemble(fam, s.Fragments, script.Options{
			WorkingDir:   rc.workDir,
			ManifestPath: rc.manifestPath(s.Key),
		})
		if err != nil {
			p.failed = true
			s.Diags.Add(diag.Diagnostic{
				Severity: diag.SevError,
				Session:  s.Key.String(),
				Message:  fmt.Sprintf("cannot assemble session: %v", err),
			})
			emit(rc.opts.Progress, Event{Session: s.Key.String(), Stage: StageAssemble, Status: StatusError, Err: err})
			continue
		}
		s.Script = text
		s.LineMap = lm
		// The assembled script already embeds the family templates and
		// custom code; folding in the command template catches interpreter
		// changes as well.
		s.Hash = cache.Combine(
			cache.HashBytes([]byte(text)),
			cache.HashBytes([]byte(strings.Join(fam.Command, "\x00"))),
		)

		prior := cache.Prior{}
		rec, ok := rc.prev.Sessions[s.Key.String()]
		if ok {
			prior.Exists = true
			prior.Hash = rec.Hash
			prior.Errors = rec.Errors
			prior.Warnings = rec.Warnings
			s.PrevHash = rec.Hash

			snaps := depRecordsToSnapshots(rec.Deps)
			changed, missing := depend.Modified(snaps, rc.workDir)
			prior.DepsModified = changed
			prior.DepMissing = len(missing) > 0
			for _, dep := range missing {
				s.Diags.Add(diag.Diagnostic{
					Severity: diag.SevWarning,
					Session:  s.Key.String(),
					Message:  fmt.Sprintf("cannot find dependency %q declared by session %s", dep, s.Key),
				})
			}
		}

		p.verdict = cache.Decide(rc.opts.Policy, s.Hash, prior)
		if p.verdict.Pinned {
			s.Diags.Add(diag.Diagnostic{
				Severity: diag.SevWarning,
				Session:  s.Key.String(),
				Message:  fmt.Sprintf("session %s has rerun=never but its code or dependencies have been modified", s.Key),
			})
		}
		if p.verdict.Run {
			s.Decision = session.DecisionRun
		} else {
			s.Decision = session.DecisionSkip
			emit(rc.opts.Progress, Event{Session: s.Key.String(), Stage: StageDecide, Status: StatusCached})
		}
	}
	return preps
}

// execute runs every session whose decision is positive through the bounded
// worker pool. Sessions are independent; completion order is unconstrained.
// Returns whether the run was interrupted.
func (rc *RunContext) execute(ctx context.Context, preps []*prepared) bool {
	var toRun []*prepared
	for _, p := range preps {
		if !p.failed && p.sess.Decision == session.DecisionRun {
			toRun = append(toRun, p)
			emit(rc.opts.Progress, Event{Session: p.sess.Key.String(), Stage: StageExecute, Status: StatusQueued})
		}
	}
	if len(toRun) == 0 {
		return ctx.Err() != nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(rc.opts.Jobs, len(toRun)))

	for _, p := range toRun {
		p := p
		g.Go(func() error {
			select {
			case <-gctx.Done():
				p.sess.Interrupted = true
				return gctx.Err()
			default:
			}
			start := time.Now()
			emit(rc.opts.Progress, Event{Session: p.sess.Key.String(), Stage: StageExecute, Status: StatusWorking})
			rc.executeSession(gctx, p)
			status := StatusDone
			if p.sess.HasErrors() || p.sess.LaunchErr != nil {
				status = StatusError
			}
			emit(rc.opts.Progress, Event{
				Session: p.sess.Key.String(),
				Stage:   StageSync,
				Status:  status,
				Err:     p.sess.LaunchErr,
				Elapsed: time.Since(start),
			})
			return nil
		})
	}
	// Batch barrier: results are aggregated only after every scheduled
	// session has finished.
	err := g.Wait()
	if err != nil || ctx.Err() != nil {
		return true
	}
	for _, p := range toRun {
		if p.sess.Interrupted {
			return true
		}
	}
	return false
}

// executeSession runs one session to completion: write the script, launch
// the subprocess (batch or console), read the manifest side channel, and
// synchronize stderr.
func (rc *RunContext) executeSession(ctx context.Context, p *prepared) {
	s, fam := p.sess, p.fam
	scriptPath := rc.scriptPath(s.Key, fam)
	if err := os.WriteFile(scriptPath, []byte(s.Script), 0o644); err != nil {
		s.LaunchErr = err
		s.Diags.Add(diag.Diagnostic{
			Severity: diag.SevError,
			Session:  s.Key.String(),
			Message:  fmt.Sprintf("cannot write generated script: %v", err),
		})
		return
	}

	var stderr []byte
	if fam.Console {
		stderr = rc.runConsole(ctx, p, scriptPath)
	} else {
		argv := fam.ExpandCommand(scriptPath, rc.outDir, rc.workDir)
		res := run.Batch(ctx, argv, rc.workDir, nil)
		s.Launched = res.Launched
		s.LaunchErr = res.LaunchErr
		s.ExitCode = res.ExitCode
		s.Interrupted = res.Interrupted
		s.Stdout = res.Stdout
		stderr = res.Stderr
	}
	if s.LaunchErr != nil {
		// Fatal for this session only; the stale fingerprint forces a retry
		// on the next invocation.
		s.Diags.Add(diag.Diagnostic{
			Severity: diag.SevError,
			Session:  s.Key.String(),
			Message:  fmt.Sprintf("failed to launch interpreter for session %s: %v", s.Key, s.LaunchErr),
		})
		return
	}
	if s.Interrupted {
		return
	}

	// Side channel: dependency and created-file declarations.
	man, err := depend.ReadManifest(rc.manifestPath(s.Key))
	if err != nil {
		s.Diags.Add(diag.Diagnostic{
			Severity: diag.SevWarning,
			Session:  s.Key.String(),
			Message:  fmt.Sprintf("unreadable declaration manifest: %v", err),
		})
	}
	snaps, missing := depend.Snapshot(man.Deps, rc.workDir, rc.opts.HashDependencies, rc.start)
	for _, dep := range missing {
		s.Diags.Add(diag.Diagnostic{
			Severity: diag.SevWarning,
			Session:  s.Key.String(),
			Message: fmt.Sprintf("cannot find dependency %q declared by session %s"+
				" (relative paths are resolved from the working directory)", dep, s.Key),
		})
	}
	s.Dependencies = snaps
	s.Created = man.Created
	if rec, ok := rc.prev.Sessions[s.Key.String()]; ok {
		depend.CleanStale(rec.Created, man.Created, rc.workDir)
	}

	stderrsync.Parse(stderrsync.Input{
		Session:    s.Key.String(),
		Family:     fam,
		Map:        s.LineMap,
		ScriptBase: filepath.Base(scriptPath),
		Stderr:     stderr,
		ExitCode:   s.ExitCode,
	}, s.Diags)
}

// runConsole drives a console session turn by turn against one persistent
// interpreter process and returns the captured stderr.
func (rc *RunContext) runConsole(ctx context.Context, p *prepared, scriptPath string) []byte {
	s, fam := p.sess, p.fam
	argv := fam.ExpandCommand(scriptPath, rc.outDir, rc.workDir)
	c, err := run.StartConsole(ctx, argv, rc.workDir)
	if err != nil {
		s.LaunchErr = err
		s.ExitCode = -1
		return nil
	}
	s.Launched = true

	glue := strings.NewReplacer(
		"{workingdir}", rc.workDir,
		"{manifest}", rc.manifestPath(s.Key),
	)
	var out strings.Builder

	turn := func(payload string, instance int) (string, bool) {
		marker := fmt.Sprintf("=>TANGLE:TURN#%d#", instance)
		payload += "\n" + strings.ReplaceAll(fam.TurnEcho, "{marker}", marker) + "\n"
		text, turnErr := c.Turn(payload, marker)
		if turnErr != nil {
			s.Diags.Add(diag.Diagnostic{
				Severity: diag.SevError,
				Session:  s.Key.String(),
				Message:  fmt.Sprintf("console session %s: %v", s.Key, turnErr),
			})
			return text, false
		}
		return text, true
	}

	// Session glue is its own turn so its output is separable from the
	// fragments'.
	lead, ok := turn(glue.Replace(fam.Prologue)+glue.Replace(fam.CustomBegin), -1)
	out.WriteString(lead)
	if ok {
		for _, f := range s.Fragments {
			payload := expandConsoleWrapper(fam.WrapperBegin, f.Instance) +
				f.Source + "\n" +
				expandConsoleWrapper(fam.WrapperEnd, f.Instance)
			text, turnOK := turn(payload, f.Instance)
			out.WriteString(script.OpenMarker(f.Instance) + "\n")
			out.WriteString(text)
			if !turnOK {
				break
			}
		}
		_, _ = turn(glue.Replace(fam.CustomEnd)+glue.Replace(fam.Epilogue), -2)
	}
	stderr, exitCode, closeErr := c.Close()
	if closeErr != nil {
		s.Diags.Add(diag.Diagnostic{
			Severity: diag.SevError,
			Session:  s.Key.String(),
			Message:  fmt.Sprintf("console session %s did not shut down cleanly: %v", s.Key, closeErr),
		})
	}
	s.ExitCode = exitCode
	s.Interrupted = ctx.Err() != nil
	s.Stdout = []byte(out.String())
	return stderr
}

func expandConsoleWrapper(tmpl string, instance int) string {
	out := strings.NewReplacer(
		"{stdoutmarker}", script.OpenMarker(instance),
		"{stderrmarker}", script.StderrOpenMarker(instance),
		"{endmarker}", script.StderrEndMarker(instance),
	).Replace(tmpl)
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

// finalize aggregates every session's results into the run summary and
// persists the next state exactly once. Sessions that were interrupted or
// failed to launch keep their previous, still-valid cache entries.
func (rc *RunContext) finalize(reg *session.Registry, preps []*prepared, interrupted bool) (*Summary, error) {
	summary := &Summary{
		Diags:   diag.NewBag(rc.opts.MaxDiagnostics * (reg.Len() + 1)),
		Outputs: make(map[string]string),
	}
	summary.Interrupted = interrupted
	next := store.NewState()

	for _, p := range preps {
		s := p.sess
		key := s.Key.String()
		outcome := SessionOutcome{
			Key:      s.Key,
			Decision: s.Decision,
			Reason:   p.verdict.Reason,
			ExitCode: s.ExitCode,
		}

		switch {
		case p.failed:
			outcome.Reason = "assembly failed"
			// The prior entry, if any, stays valid for the next invocation.
			if rec, ok := rc.prev.Sessions[key]; ok {
				next.Sessions[key] = rec
			}
		case s.Decision == session.DecisionSkip:
			summary.Cached++
			if rec, ok := rc.prev.Sessions[key]; ok {
				// No new run happened: prior diagnostics, outputs and
				// created-file records are carried forward verbatim.
				replayDiagRecords(key, rec.Diags, s.Diags)
				for id, content := range rec.Outputs {
					summary.Outputs[id] = content
				}
				outcome.ExitCode = rec.ExitCode
				next.Sessions[key] = rec
			}
		case s.LaunchErr != nil || s.Interrupted || !s.Launched:
			summary.Launched++
			outcome.LaunchFailed = s.LaunchErr != nil
			outcome.Interrupted = s.Interrupted
			// Partial failure must not corrupt the previous cache entry.
			if rec, ok := rc.prev.Sessions[key]; ok {
				next.Sessions[key] = rec
			}
		default:
			summary.Launched++
			lead, blocks := stdoutBlocks(s.Stdout)
			if p.fam.Console {
				// Console glue turns echo prompts and banners; that is not
				// an illegal print.
				lead = ""
			}
			outputs, illegal := collectOutputs(key, s.Fragments, lead, blocks)
			for id, content := range outputs {
				summary.Outputs[id] = content
			}
			for _, id := range illegal {
				summary.IllegalPrints = append(summary.IllegalPrints, id)
				s.Diags.Add(diag.Diagnostic{
					Severity: diag.SevWarning,
					Session:  key,
					Message:  fmt.Sprintf("%s attempted to print from non-typeset code; the output is discarded", id),
				})
			}
			next.Sessions[key] = rc.sessionRecord(p, summary)
		}

		errs, warns, unrec := s.Diags.Counts()
		outcome.Errors, outcome.Warnings, outcome.Unrecognized = errs, warns, unrec
		summary.Errors += errs
		summary.Warnings += warns
		summary.Unrecognized += unrec
		summary.Sessions = append(summary.Sessions, outcome)
		summary.Diags.Merge(s.Diags)
	}

	rc.pruneStale(reg, next)
	summary.Diags.Sort()

	if !interrupted {
		if err := rc.writeOutputs(summary); err != nil {
			return summary, err
		}
		if err := rc.store.Save(next); err != nil {
			return summary, fmt.Errorf("persist run state: %w", err)
		}
	}
	return summary, nil
}

// sessionRecord builds the durable record of a freshly completed session.
func (rc *RunContext) sessionRecord(p *prepared, summary *Summary) store.SessionRecord {
	s := p.sess
	errs, warns, unrec := s.Diags.Counts()
	rec := store.SessionRecord{
		Hash:         s.Hash,
		ExitCode:     s.ExitCode,
		Errors:       errs,
		Warnings:     warns,
		Unrecognized: unrec,
		Created:      s.Created,
		Outputs:      make(map[string]string),
	}
	for path, snap := range s.Dependencies {
		rec.Deps = append(rec.Deps, store.DepRecord{
			Path:          path,
			MTimeUnixNano: snap.MTimeUnixNano,
			Hash:          snap.Hash,
			HashMode:      snap.HashMode,
			Exists:        snap.Exists,
		})
	}
	for _, d := range s.Diags.Items() {
		rec.Diags = append(rec.Diags, store.DiagRecord{
			Severity:      uint8(d.Severity),
			ScriptLine:    d.ScriptLine,
			File:          d.Pos.File,
			Line:          d.Pos.Line,
			WholeFragment: d.WholeFragment,
			Message:       d.Message,
		})
	}
	for _, f := range s.Fragments {
		if content, ok := summary.Outputs[f.ID()]; ok {
			rec.Outputs[f.ID()] = content
		}
	}
	return rec
}

// pruneStale drops sessions no fragment references anymore and cleans up the
// files their code created.
func (rc *RunContext) pruneStale(reg *session.Registry, next *store.State) {
	live := make(map[string]bool, reg.Len())
	for _, key := range reg.Keys() {
		live[key.String()] = true
	}
	for key, rec := range rc.prev.Sessions {
		if live[key] {
			continue
		}
		depend.CleanStale(rec.Created, nil, rc.workDir)
		removeSessionArtifacts(rc.outDir, key)
		delete(next.Sessions, key)
	}
}

// removeSessionArtifacts deletes a stale session's generated script, manifest
// and captured-output files from the output directory.
func removeSessionArtifacts(outDir, key string) {
	base := strings.ReplaceAll(key, ":", "_")
	matches, err := filepath.Glob(filepath.Join(outDir, base+".*"))
	if err != nil {
		return
	}
	stdouts, _ := filepath.Glob(filepath.Join(outDir, base+"_*.stdout"))
	for _, path := range append(matches, stdouts...) {
		_ = os.Remove(path)
	}
}

// writeOutputs materializes captured typeset output as files for the
// document-rendering collaborator.
func (rc *RunContext) writeOutputs(summary *Summary) error {
	for id, content := range summary.Outputs {
		name := strings.ReplaceAll(id, ":", "_") + ".stdout"
		if err := os.WriteFile(filepath.Join(rc.outDir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write fragment output %s: %w", id, err)
		}
	}
	return nil
}

func (rc *RunContext) scriptPath(key session.Key, fam *family.Family) string {
	return filepath.Join(rc.outDir, key.Base()+"."+fam.Extension)
}

func (rc *RunContext) manifestPath(key session.Key) string {
	return filepath.Join(rc.outDir, key.Base()+".manifest")
}

// depRecordsToSnapshots restores the persisted dependency snapshots.
func depRecordsToSnapshots(recs []store.DepRecord) map[string]session.DepSnapshot {
	snaps := make(map[string]session.DepSnapshot, len(recs))
	for _, r := range recs {
		snaps[r.Path] = session.DepSnapshot{
			MTimeUnixNano: r.MTimeUnixNano,
			Hash:          r.Hash,
			HashMode:      r.HashMode,
			Exists:        r.Exists,
		}
	}
	return snaps
}

// replayDiagRecords converts persisted diagnostics back into live ones.
func replayDiagRecords(sessionKey string, recs []store.DiagRecord, bag *diag.Bag) {
	for _, r := range recs {
		bag.Add(diag.Diagnostic{
			Severity:      diag.Severity(r.Severity),
			Session:       sessionKey,
			ScriptLine:    r.ScriptLine,
			Pos:           diag.Position{File: r.File, Line: r.Line},
			WholeFragment: r.WholeFragment,
			Message:       r.Message,
		})
	}
}
