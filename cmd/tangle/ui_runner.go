package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"tangle/internal/engine"
	"tangle/internal/fragment"
	"tangle/internal/session"
	"tangle/internal/ui"
)

type runOutcome struct {
	summary *engine.Summary
	err     error
}

func runWithUI(ctx context.Context, frags []fragment.Fragment, opts engine.Options) (*engine.Summary, error) {
	events := make(chan engine.Event, 256)
	outcomeCh := make(chan runOutcome, 1)

	go func() {
		optsCopy := opts
		optsCopy.Progress = engine.ChannelSink{Ch: events}
		summary, err := engine.Run(ctx, frags, optsCopy)
		outcomeCh <- runOutcome{summary: summary, err: err}
		close(events)
	}()

	keys := sessionKeys(frags, opts.MaxDiagnostics)
	model := ui.NewProgressModel("tangle run", keys, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.summary, uiErr
	}
	return outcome.summary, outcome.err
}

func sessionKeys(frags []fragment.Fragment, maxDiagnostics int) []string {
	reg := session.NewRegistry(frags, maxDiagnostics)
	keys := make([]string, 0, reg.Len())
	for _, key := range reg.Keys() {
		keys = append(keys, key.String())
	}
	return keys
}
