package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"tangle/internal/fragment"
	"tangle/internal/session"
	"tangle/internal/store"
)

var sessionsOutputDir string

func init() {
	sessionsCmd.Flags().StringVar(&sessionsOutputDir, "output-dir", ".tangle", "directory holding the persisted run state")
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions [fragments-file]",
	Short: "List sessions and their cached state",
	Long: `Without an argument, sessions lists every cached session in the persisted
run state. Given an extracted-fragments file, it lists the sessions the next
run would see, marking which of them have cached results.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	colorMode, _ := cmd.Root().PersistentFlags().GetString("color")
	applyColorMode(colorMode)
	maxDiagnostics, _ := cmd.Root().PersistentFlags().GetInt("max-diagnostics")

	st, err := store.Open(sessionsOutputDir)
	if err != nil {
		return err
	}
	state := st.Load()

	if len(args) == 0 {
		if len(state.Sessions) == 0 {
			fmt.Fprintln(os.Stdout, "no cached sessions")
			return nil
		}
		keys := make([]string, 0, len(state.Sessions))
		for key := range state.Sessions {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			printSessionRecord(key, state.Sessions[key])
		}
		return nil
	}

	frags, err := fragment.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read fragments: %w", err)
	}
	reg := session.NewRegistry(frags, maxDiagnostics)
	if reg.Len() == 0 {
		fmt.Fprintln(os.Stdout, "no executable sessions")
		return nil
	}
	for _, key := range reg.Keys() {
		s, _ := reg.Get(key)
		rec, cached := state.Sessions[key.String()]
		if !cached {
			fmt.Fprintf(os.Stdout, "%s: %d fragment(s), %s\n",
				key, len(s.Fragments), cachedColor.Sprint("not cached"))
			continue
		}
		fmt.Fprintf(os.Stdout, "%s: %d fragment(s), cached (%s)\n",
			key, len(s.Fragments), recordStatus(rec))
	}
	return nil
}

func printSessionRecord(key string, rec store.SessionRecord) {
	fmt.Fprintf(os.Stdout, "%s: %s, exit status %d, %d dependencie(s), %d created file(s)\n",
		key, recordStatus(rec), rec.ExitCode, len(rec.Deps), len(rec.Created))
}

func recordStatus(rec store.SessionRecord) string {
	switch {
	case rec.Errors > 0:
		return errorColor.Sprintf("%d error(s)", rec.Errors)
	case rec.Warnings > 0:
		return warningColor.Sprintf("%d warning(s)", rec.Warnings)
	}
	return okColor.Sprint("ok")
}
