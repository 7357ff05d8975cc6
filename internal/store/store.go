// Package store persists run state across invocations: session fingerprints,
// dependency snapshots, created files and per-session diagnostic summaries.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"tangle/internal/cache"
)

// Current schema version - increment when State format changes.
const schemaVersion uint16 = 1

// stateFileName is the single state file inside the output directory.
const stateFileName = "tangle.state.mp"

// DepRecord is one declared dependency's snapshot.
type DepRecord struct {
	Path          string
	MTimeUnixNano int64
	Hash          cache.Digest
	HashMode      bool
	Exists        bool
}

// DiagRecord is one persisted diagnostic, carried forward verbatim when a
// session is served from cache.
type DiagRecord struct {
	Severity      uint8
	ScriptLine    int
	File          string
	Line          int
	WholeFragment bool
	Message       string
}

// SessionRecord is the durable state of one session.
type SessionRecord struct {
	Hash     cache.Digest
	ExitCode int
	Errors   int
	Warnings int
	// Unrecognized counts stderr messages no family pattern classified.
	Unrecognized int
	Deps         []DepRecord
	Created      []string
	Diags        []DiagRecord
	// Outputs maps fragment IDs to captured stdout for typeset fragments.
	Outputs map[string]string
}

// State is the full persisted run state.
type State struct {
	Schema   uint16
	Sessions map[string]SessionRecord
}

// NewState returns an empty state at the current schema.
func NewState() *State {
	return &State{Schema: schemaVersion, Sessions: make(map[string]SessionRecord)}
}

// Store reads and writes the persisted state under dir.
type Store struct {
	dir string
}

// Open initializes a store rooted at dir, creating it if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path() string {
	return filepath.Join(s.dir, stateFileName)
}

// Load reads the persisted state. Unreadable or corrupt state is treated as
// absent, forcing cold-start reruns for affected sessions; loading never
// fails the run.
func (s *Store) Load() *State {
	f, err := os.Open(s.path())
	if err != nil {
		return NewState()
	}
	defer func() { _ = f.Close() }()

	var state State
	if err := msgpack.NewDecoder(f).Decode(&state); err != nil {
		return NewState()
	}
	if state.Schema != schemaVersion || state.Sessions == nil {
		return NewState()
	}
	return &state
}

// Save atomically replaces the persisted state. Called exactly once, after
// every scheduled session has finished; a failed write leaves the previous
// state intact.
func (s *Store) Save(state *State) error {
	state.Schema = schemaVersion
	f, err := os.CreateTemp(s.dir, "tmp-state-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if _, statErr := os.Stat(tmp); statErr == nil {
			if rmErr := os.Remove(tmp); rmErr != nil {
				fmt.Printf("failed to remove temp file: %v", rmErr)
			}
		}
	}()

	if err := msgpack.NewEncoder(f).Encode(state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path())
}

// Drop removes the persisted state, forcing cold-start reruns everywhere.
func (s *Store) Drop() error {
	err := os.Remove(s.path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
