package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tangle/internal/cache"
	"tangle/internal/config"
	"tangle/internal/diag"
	"tangle/internal/engine"
	"tangle/internal/family"
	"tangle/internal/fragment"
	"tangle/internal/observ"
	"tangle/internal/session"
)

var (
	runJobs        int
	runRerun       string
	runHashDeps    bool
	runInteractive string
	runOutputDir   string
	runWorkingDir  string
	runErrorExit   bool
	runUI          string
	runConfigPath  string
)

func init() {
	runCmd.Flags().IntVarP(&runJobs, "jobs", "j", 0, "maximum concurrent sessions (0 = available parallelism)")
	runCmd.Flags().StringVar(&runRerun, "rerun", "", "rerun policy (always|modified|errors|warnings|never)")
	runCmd.Flags().BoolVar(&runHashDeps, "hash-deps", false, "compare dependencies by content hash instead of mtime")
	runCmd.Flags().StringVar(&runInteractive, "interactive", "", "run one session attached to the terminal (family:session[:restart])")
	runCmd.Flags().StringVar(&runOutputDir, "output-dir", "", "directory for generated scripts, captured output and state")
	runCmd.Flags().StringVar(&runWorkingDir, "working-dir", "", "working directory for executed code")
	runCmd.Flags().BoolVar(&runErrorExit, "error-exit", true, "exit nonzero when any session has unresolved errors")
	runCmd.Flags().StringVar(&runUI, "ui", "auto", "interactive progress display (auto|on|off)")
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to tangle.toml (default: working dir)")
}

var runCmd = &cobra.Command{
	Use:   "run <fragments-file>",
	Short: "Execute extracted code fragments and capture their results",
	Long: `Run reads the extracted-fragments file written by the document toolchain,
groups fragments into sessions, skips sessions whose cached results are still
valid, and executes the rest concurrently.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	colorMode, _ := cmd.Root().PersistentFlags().GetString("color")
	applyColorMode(colorMode)
	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	timings, _ := cmd.Root().PersistentFlags().GetBool("timings")
	maxDiagnostics, _ := cmd.Root().PersistentFlags().GetInt("max-diagnostics")

	timer := observ.NewTimer()
	phase := timer.Begin("load")

	opts, errorExit, err := buildRunOptions(cmd, maxDiagnostics)
	if err != nil {
		return err
	}
	frags, err := fragment.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read fragments: %w", err)
	}
	timer.End(phase, fmt.Sprintf("%d fragments", len(frags)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runInteractive != "" {
		code, err := engine.RunInteractive(ctx, frags, runInteractive, opts)
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("session exited with status %d", code)
		}
		return nil
	}

	mode, err := readUIMode(runUI)
	if err != nil {
		return err
	}

	phase = timer.Begin("execute")
	var summary *engine.Summary
	if shouldUseTUI(mode) && !quiet {
		summary, err = runWithUI(ctx, frags, opts)
	} else {
		summary, err = engine.Run(ctx, frags, opts)
	}
	if err != nil {
		return err
	}
	timer.End(phase, fmt.Sprintf("%d launched, %d cached", summary.Launched, summary.Cached))

	printSummary(cmd.OutOrStdout(), summary, quiet)
	if timings {
		fmt.Fprint(cmd.OutOrStdout(), timer.Summary())
	}

	if summary.Interrupted {
		return fmt.Errorf("interrupted")
	}
	if errorExit && summary.Errors > 0 {
		return fmt.Errorf("%d unresolved error(s)", summary.Errors)
	}
	return nil
}

// buildRunOptions merges tangle.toml with command-line flags; flags win.
func buildRunOptions(cmd *cobra.Command, maxDiagnostics int) (engine.Options, bool, error) {
	workingDir := runWorkingDir
	if workingDir == "" {
		workingDir = "."
	}
	configPath := runConfigPath
	if configPath == "" {
		configPath = filepath.Join(workingDir, config.DefaultFileName)
	}
	cfg, found, err := config.Load(configPath)
	if err != nil {
		return engine.Options{}, false, err
	}
	if !found && runConfigPath != "" {
		return engine.Options{}, false, fmt.Errorf("config file %s does not exist", runConfigPath)
	}

	families := family.NewTable()
	if err := cfg.ApplyFamilies(families); err != nil {
		return engine.Options{}, false, err
	}

	jobs := cfg.Execution.Jobs
	if cmd.Flags().Changed("jobs") {
		jobs = runJobs
	}
	rerun := cfg.Execution.Rerun
	if cmd.Flags().Changed("rerun") {
		rerun = runRerun
	}
	policy := cache.PolicyModified
	if rerun != "" {
		if policy, err = cache.ParsePolicy(rerun); err != nil {
			return engine.Options{}, false, err
		}
	}
	hashDeps := cfg.Execution.HashDependencies
	if cmd.Flags().Changed("hash-deps") {
		hashDeps = runHashDeps
	}
	outputDir := cfg.Execution.OutputDir
	if cmd.Flags().Changed("output-dir") {
		outputDir = runOutputDir
	}
	if cfg.Execution.WorkingDir != "" && !cmd.Flags().Changed("working-dir") {
		workingDir = cfg.Execution.WorkingDir
	}
	errorExit := true
	if cfg.Execution.ErrorExit != nil {
		errorExit = *cfg.Execution.ErrorExit
	}
	if cmd.Flags().Changed("error-exit") {
		errorExit = runErrorExit
	}

	return engine.Options{
		Jobs:             jobs,
		Policy:           policy,
		HashDependencies: hashDeps,
		OutputDir:        outputDir,
		WorkingDir:       workingDir,
		MaxDiagnostics:   maxDiagnostics,
		Families:         families,
	}, errorExit, nil
}

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	cachedColor  = color.New(color.FgBlue)
	okColor      = color.New(color.FgGreen)
)

func printSummary(out io.Writer, summary *engine.Summary, quiet bool) {
	for _, d := range summary.Diags.Items() {
		printDiagnostic(out, d)
	}
	if quiet {
		return
	}
	for _, oc := range summary.Sessions {
		switch {
		case oc.Decision == session.DecisionSkip:
			fmt.Fprintf(out, "%s %s (%s)\n", cachedColor.Sprint("cached"), oc.Key, oc.Reason)
		case oc.LaunchFailed:
			fmt.Fprintf(out, "%s %s: interpreter failed to start\n", errorColor.Sprint("failed"), oc.Key)
		case oc.Interrupted:
			fmt.Fprintf(out, "%s %s\n", warningColor.Sprint("interrupted"), oc.Key)
		case oc.Errors > 0:
			fmt.Fprintf(out, "%s %s: %d error(s), exit status %d\n", errorColor.Sprint("ran"), oc.Key, oc.Errors, oc.ExitCode)
		default:
			fmt.Fprintf(out, "%s %s\n", okColor.Sprint("ran"), oc.Key)
		}
	}
	fmt.Fprintf(out, "%d launched, %d cached, %d errors, %d warnings\n",
		summary.Launched, summary.Cached, summary.Errors, summary.Warnings)
}

func printDiagnostic(out io.Writer, d diag.Diagnostic) {
	var label string
	switch d.Severity {
	case diag.SevError:
		label = errorColor.Sprint("error")
	case diag.SevWarning:
		label = warningColor.Sprint("warning")
	default:
		label = infoColor.Sprint("message")
	}
	switch {
	case d.Pos.Line > 0 && d.WholeFragment:
		fmt.Fprintf(out, "%s:%d: %s: (in fragment starting here) %s\n", d.Pos.File, d.Pos.Line, label, d.Message)
	case d.Pos.Line > 0:
		fmt.Fprintf(out, "%s:%d: %s: %s\n", d.Pos.File, d.Pos.Line, label, d.Message)
	default:
		fmt.Fprintf(out, "%s: %s: %s\n", d.Session, label, d.Message)
	}
}
