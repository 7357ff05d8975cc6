// Package run owns the subprocess lifecycles: one-shot batch execution,
// persistent console sessions, and interactive terminal attach.
package run

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Result is the captured outcome of one batch subprocess.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	// Launched is false when the interpreter could not be started at all
	// (LaunchErr holds the cause); the session is failed without touching
	// its persisted fingerprint.
	Launched    bool
	LaunchErr   error
	Interrupted bool
	Duration    time.Duration
}

// Batch launches one subprocess, feeds it nothing, waits for exit, and
// captures stdout and stderr in full. No timeout is imposed; document builds
// may run arbitrarily long code. Cancelling ctx terminates the process and
// marks the result interrupted.
func Batch(ctx context.Context, argv []string, dir string, env []string) Result {
	start := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{LaunchErr: err, ExitCode: -1, Duration: time.Since(start)}
	}
	err := cmd.Wait()
	res := Result{
		Stdout:   norm.NFC.Bytes(stdout.Bytes()),
		Stderr:   norm.NFC.Bytes(stderr.Bytes()),
		Launched: true,
		Duration: time.Since(start),
	}
	if ctx.Err() != nil {
		res.Interrupted = true
	}
	switch {
	case err == nil:
		res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.LaunchErr = err
			res.Launched = false
		}
	}
	return res
}
