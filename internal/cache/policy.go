package cache

import "fmt"

// Policy governs when a session is re-executed versus served from cache.
type Policy uint8

const (
	// PolicyModified reruns only when content or dependencies changed.
	PolicyModified Policy = iota
	// PolicyErrors additionally reruns sessions whose previous run errored.
	PolicyErrors
	// PolicyWarnings additionally reruns on previous warnings.
	PolicyWarnings
	// PolicyAlways reruns unconditionally.
	PolicyAlways
	// PolicyNever never reruns once a cache entry exists.
	PolicyNever
)

func (p Policy) String() string {
	switch p {
	case PolicyModified:
		return "modified"
	case PolicyErrors:
		return "errors"
	case PolicyWarnings:
		return "warnings"
	case PolicyAlways:
		return "always"
	case PolicyNever:
		return "never"
	}
	return "unknown"
}

// ParsePolicy maps a CLI/config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "modified":
		return PolicyModified, nil
	case "errors":
		return PolicyErrors, nil
	case "warnings":
		return PolicyWarnings, nil
	case "always":
		return PolicyAlways, nil
	case "never":
		return PolicyNever, nil
	}
	return 0, fmt.Errorf("unknown rerun policy %q (want always, modified, errors, warnings or never)", s)
}
