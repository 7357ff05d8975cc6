package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tangle/internal/depend"
	"tangle/internal/store"
)

var (
	cleanCreated    bool
	cleanWorkingDir string
)

func init() {
	cleanCmd.Flags().BoolVar(&cleanCreated, "created", false, "also delete files created by executed code")
	cleanCmd.Flags().StringVar(&cleanWorkingDir, "working-dir", ".", "working directory created files were resolved against")
}

var cleanCmd = &cobra.Command{
	Use:   "clean [output-dir]",
	Short: "Remove cached state and generated artifacts",
	Long: `Remove the output directory holding generated scripts, captured output
and the persisted run state. Every session reruns cold on the next invocation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClean,
}

func runClean(_ *cobra.Command, args []string) error {
	outputDir := ".tangle"
	if len(args) > 0 && args[0] != "" {
		outputDir = args[0]
	}

	if cleanCreated {
		// The state must be read before the directory goes away.
		st, err := store.Open(outputDir)
		if err != nil {
			return err
		}
		state := st.Load()
		for key, rec := range state.Sessions {
			removed := depend.CleanStale(rec.Created, nil, cleanWorkingDir)
			if len(removed) > 0 {
				fmt.Fprintf(os.Stdout, "removed %d file(s) created by %s\n", len(removed), key)
			}
		}
	}

	info, err := os.Stat(outputDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stdout, "nothing to clean")
			return nil
		}
		return fmt.Errorf("failed to stat %q: %w", outputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", outputDir)
	}
	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("failed to remove %q: %w", outputDir, err)
	}
	fmt.Fprintf(os.Stdout, "removed %s\n", filepath.Clean(outputDir))
	return nil
}
