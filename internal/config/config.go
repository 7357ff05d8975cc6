// Package config loads tangle.toml.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"tangle/internal/family"
)

// DefaultFileName is the config file looked up in the document directory.
const DefaultFileName = "tangle.toml"

// Execution is the [execution] section.
type Execution struct {
	Jobs             int    `toml:"jobs"`
	Rerun            string `toml:"rerun"`
	HashDependencies bool   `toml:"hash_dependencies"`
	OutputDir        string `toml:"output_dir"`
	WorkingDir       string `toml:"working_dir"`
	ErrorExit        *bool  `toml:"error_exit"`
}

// FamilyDef is one [families.<name>] entry. Empty fields fall back to the
// built-in definition of the same name, when one exists.
type FamilyDef struct {
	Command      []string `toml:"command"`
	Extension    string   `toml:"extension"`
	Console      bool     `toml:"console"`
	Errors       []string `toml:"errors"`
	Warnings     []string `toml:"warnings"`
	Lines        []string `toml:"lines"`
	Lookbehind   bool     `toml:"lookbehind"`
	Prologue     string   `toml:"prologue"`
	Epilogue     string   `toml:"epilogue"`
	WrapperBegin string   `toml:"wrapper_begin"`
	WrapperEnd   string   `toml:"wrapper_end"`
	CustomBegin  string   `toml:"custom_begin"`
	CustomEnd    string   `toml:"custom_end"`
	TurnEcho     string   `toml:"turn_echo"`
	Prompts      []string `toml:"prompts"`
}

// File is the full config file.
type File struct {
	Execution Execution            `toml:"execution"`
	Families  map[string]FamilyDef `toml:"families"`
}

// Load parses the config at path. A missing file is not an error; found
// reports whether the file existed.
func Load(path string) (cfg File, found bool, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return File{}, false, nil
		}
		return File{}, false, statErr
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return File{}, true, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	return cfg, true, nil
}

// ApplyFamilies merges [families.*] definitions into the table.
func (f *File) ApplyFamilies(table *family.Table) error {
	for name, def := range f.Families {
		entry := &family.Family{
			Name:            name,
			Extension:       def.Extension,
			Command:         def.Command,
			Console:         def.Console,
			Prologue:        def.Prologue,
			Epilogue:        def.Epilogue,
			WrapperBegin:    def.WrapperBegin,
			WrapperEnd:      def.WrapperEnd,
			CustomBegin:     def.CustomBegin,
			CustomEnd:       def.CustomEnd,
			TurnEcho:        def.TurnEcho,
			Prompts:         def.Prompts,
			ErrorPatterns:   def.Errors,
			WarningPatterns: def.Warnings,
			LinePatterns:    def.Lines,
			Lookbehind:      def.Lookbehind,
		}
		if base, err := table.Get(name); err == nil {
			mergeDefaults(entry, base)
		}
		if err := table.Register(entry); err != nil {
			return err
		}
	}
	return nil
}

// mergeDefaults fills empty override fields from the built-in definition.
func mergeDefaults(entry, base *family.Family) {
	if len(entry.Command) == 0 {
		entry.Command = base.Command
	}
	if entry.Extension == "" {
		entry.Extension = base.Extension
	}
	if entry.Prologue == "" {
		entry.Prologue = base.Prologue
	}
	if entry.Epilogue == "" {
		entry.Epilogue = base.Epilogue
	}
	if entry.WrapperBegin == "" {
		entry.WrapperBegin = base.WrapperBegin
	}
	if entry.WrapperEnd == "" {
		entry.WrapperEnd = base.WrapperEnd
	}
	if entry.TurnEcho == "" {
		entry.TurnEcho = base.TurnEcho
	}
	if len(entry.Prompts) == 0 {
		entry.Prompts = base.Prompts
	}
	if len(entry.ErrorPatterns) == 0 {
		entry.ErrorPatterns = base.ErrorPatterns
	}
	if len(entry.WarningPatterns) == 0 {
		entry.WarningPatterns = base.WarningPatterns
	}
	if len(entry.LinePatterns) == 0 {
		entry.LinePatterns = base.LinePatterns
	}
}
