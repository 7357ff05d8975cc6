package diag

// Severity defines the importance of a diagnostic.
type Severity uint8

const (
	// SevUnrecognized is for stderr content that matched no family pattern.
	SevUnrecognized Severity = iota
	// SevWarning is for warning diagnostics.
	SevWarning
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevUnrecognized:
		return "UNRECOGNIZED"
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	}
	return "UNKNOWN"
}
