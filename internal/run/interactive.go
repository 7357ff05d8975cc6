package run

import (
	"context"
	"errors"
	"os"
	"os/exec"
)

// Interactive attaches a single session's process to the controlling
// terminal for live user input. Bypasses output capture entirely; mutually
// exclusive with concurrent execution. Returns the process exit code.
func Interactive(ctx context.Context, argv []string, dir string) (int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}
