package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tangle/internal/fragment"
	"tangle/internal/run"
	"tangle/internal/script"
	"tangle/internal/session"
)

// RunInteractive assembles a single session and attaches its process to the
// controlling terminal. No output capture, no diagnostics, no state update;
// the session remains due for a regular run afterwards. keySpec is
// "family:session" or "family:session:restart".
func RunInteractive(ctx context.Context, frags []fragment.Fragment, keySpec string, opts Options) (int, error) {
	opts.normalize()
	key, err := parseKeySpec(keySpec)
	if err != nil {
		return -1, err
	}
	outDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return -1, err
	}
	workDir, err := filepath.Abs(opts.WorkingDir)
	if err != nil {
		return -1, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return -1, err
	}

	reg := session.NewRegistry(frags, opts.MaxDiagnostics)
	s, ok := reg.Get(key)
	if !ok {
		return -1, fmt.Errorf("no executable fragments for session %s", key)
	}
	fam, err := opts.Families.Get(key.Family)
	if err != nil {
		return -1, err
	}
	scriptPath := filepath.Join(outDir, key.Base()+"."+fam.Extension)
	text, _, err := script.Assemble(fam, s.Fragments, script.Options{
		WorkingDir:   workDir,
		ManifestPath: filepath.Join(outDir, key.Base()+".manifest"),
	})
	if err != nil {
		return -1, fmt.Errorf("cannot assemble session %s: %w", key, err)
	}
	if err := os.WriteFile(scriptPath, []byte(text), 0o644); err != nil {
		return -1, err
	}
	return run.Interactive(ctx, fam.ExpandCommand(scriptPath, outDir, workDir), workDir)
}

func parseKeySpec(spec string) (session.Key, error) {
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 2:
		return session.Key{Family: parts[0], Name: parts[1], Restart: "default"}, nil
	case 3:
		return session.Key{Family: parts[0], Name: parts[1], Restart: parts[2]}, nil
	}
	return session.Key{}, fmt.Errorf("invalid session %q: want family:session[:restart]", spec)
}
