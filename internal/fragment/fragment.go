// Package fragment defines the code fragments handed over by the document
// toolchain, and the codec for the extracted-fragments file it writes.
package fragment

import "fmt"

// Role determines whether a fragment is executed, typeset, or both.
type Role uint8

const (
	// RoleRun fragments execute but produce no typeset listing.
	RoleRun Role = iota
	// RoleRunTypeset fragments execute and their captured stdout is typeset.
	RoleRunTypeset
	// RoleTypesetOnly fragments are rendered verbatim and never executed.
	RoleTypesetOnly
)

func (r Role) String() string {
	switch r {
	case RoleRun:
		return "run"
	case RoleRunTypeset:
		return "run+typeset"
	case RoleTypesetOnly:
		return "typeset"
	}
	return "unknown"
}

// ParseRole maps the wire representation to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "run":
		return RoleRun, nil
	case "run+typeset":
		return RoleRunTypeset, nil
	case "typeset":
		return RoleTypesetOnly, nil
	}
	return 0, fmt.Errorf("unknown fragment role %q", s)
}

// Fragment is one extracted piece of code. Immutable once read from intake.
type Fragment struct {
	Family   string
	Session  string
	Restart  string
	Instance int // sequence index within its session
	Role     Role

	// Originating document position.
	DocFile string
	DocLine int

	Source string
}

// ID is the stable per-run fragment identifier used to key captured output.
func (f *Fragment) ID() string {
	return fmt.Sprintf("%s:%s:%s:%d", f.Family, f.Session, f.Restart, f.Instance)
}

// SessionKey returns the identity of the session this fragment belongs to.
func (f *Fragment) SessionKey() string {
	return f.Family + ":" + f.Session + ":" + f.Restart
}

// Executable reports whether the fragment contributes code to its session's
// assembled script.
func (f *Fragment) Executable() bool {
	return f.Role != RoleTypesetOnly
}
