package run

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Console is a long-lived interactive interpreter process. Output is read
// turn by turn to preserve REPL-style echoing and intermediate state; turns
// are strictly sequential against the one persistent process.
type Console struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	stderrMu  sync.Mutex
	stderr    bytes.Buffer
	stderrEOF chan struct{}
}

// StartConsole launches the persistent interpreter for a console session.
func StartConsole(ctx context.Context, argv []string, dir string) (*Console, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &Console{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    bufio.NewReader(stdout),
		stderrEOF: make(chan struct{}),
	}
	go func() {
		defer close(c.stderrEOF)
		buf := make([]byte, 32*1024)
		for {
			n, readErr := stderr.Read(buf)
			if n > 0 {
				c.stderrMu.Lock()
				c.stderr.Write(buf[:n])
				c.stderrMu.Unlock()
			}
			if readErr != nil {
				return
			}
		}
	}()
	return c, nil
}

// Turn writes one fragment's payload to the interpreter and reads stdout up
// to (and excluding) the echoed marker line. The payload must end with a
// statement that echoes the marker.
func (c *Console) Turn(payload, marker string) (string, error) {
	if !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	if _, err := io.WriteString(c.stdin, payload); err != nil {
		return "", fmt.Errorf("console write: %w", err)
	}
	var out strings.Builder
	for {
		line, err := c.stdout.ReadString('\n')
		if strings.TrimRight(line, "\r\n") == marker {
			break
		}
		out.WriteString(line)
		if err != nil {
			if err == io.EOF {
				return out.String(), fmt.Errorf("console exited before echoing turn marker")
			}
			return out.String(), err
		}
	}
	return norm.NFC.String(out.String()), nil
}

// Close ends the session, waits for the interpreter to exit, and returns the
// captured stderr and exit code.
func (c *Console) Close() ([]byte, int, error) {
	_ = c.stdin.Close()
	// Drain remaining stdout so the process is not blocked on a full pipe.
	_, _ = io.Copy(io.Discard, c.stdout)
	// Wait must not run before the drain goroutine has seen EOF: os/exec
	// closes the stderr pipe inside Wait, which would truncate the capture.
	<-c.stderrEOF
	err := c.cmd.Wait()

	c.stderrMu.Lock()
	captured := norm.NFC.Bytes(c.stderr.Bytes())
	c.stderrMu.Unlock()

	exitCode := 0
	if err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			err = nil
		}
	}
	return captured, exitCode, err
}
