package session

import (
	"testing"

	"tangle/internal/fragment"
)

func frag(family, sess, restart string, instance int, role fragment.Role) fragment.Fragment {
	return fragment.Fragment{
		Family:   family,
		Session:  sess,
		Restart:  restart,
		Instance: instance,
		Role:     role,
		DocFile:  "doc.tex",
		DocLine:  instance + 1,
		Source:   "x = 1",
	}
}

func TestRegistryGroupsByKey(t *testing.T) {
	frags := []fragment.Fragment{
		frag("python", "main", "default", 0, fragment.RoleRun),
		frag("python", "plots", "default", 0, fragment.RoleRunTypeset),
		frag("python", "main", "default", 1, fragment.RoleRun),
		frag("bash", "main", "default", 0, fragment.RoleRun),
	}
	r := NewRegistry(frags, 10)
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	s, ok := r.Get(Key{Family: "python", Name: "main", Restart: "default"})
	if !ok {
		t.Fatalf("python:main:default missing")
	}
	if len(s.Fragments) != 2 {
		t.Fatalf("fragments = %d, want 2", len(s.Fragments))
	}
	if s.Fragments[0].Instance != 0 || s.Fragments[1].Instance != 1 {
		t.Fatalf("fragment order not preserved: %v, %v", s.Fragments[0].Instance, s.Fragments[1].Instance)
	}
}

func TestRegistryFirstSeenOrder(t *testing.T) {
	frags := []fragment.Fragment{
		frag("python", "b", "default", 0, fragment.RoleRun),
		frag("python", "a", "default", 0, fragment.RoleRun),
		frag("python", "b", "default", 1, fragment.RoleRun),
	}
	r := NewRegistry(frags, 10)
	keys := r.Keys()
	if len(keys) != 2 || keys[0].Name != "b" || keys[1].Name != "a" {
		t.Fatalf("keys = %v, want first-seen order b, a", keys)
	}
}

func TestRegistryDropsTypesetOnly(t *testing.T) {
	frags := []fragment.Fragment{
		frag("python", "main", "default", 0, fragment.RoleTypesetOnly),
	}
	r := NewRegistry(frags, 10)
	if r.Len() != 0 {
		t.Fatalf("typeset-only fragments must not create sessions")
	}
}

func TestRegistryRestartSeparatesSessions(t *testing.T) {
	frags := []fragment.Fragment{
		frag("python", "main", "default", 0, fragment.RoleRun),
		frag("python", "main", "second", 0, fragment.RoleRun),
	}
	r := NewRegistry(frags, 10)
	if r.Len() != 2 {
		t.Fatalf("restart groups must be separate sessions, got %d", r.Len())
	}
}

func TestKeyStrings(t *testing.T) {
	k := Key{Family: "python", Name: "main", Restart: "default"}
	if k.String() != "python:main:default" {
		t.Fatalf("String = %q", k.String())
	}
	if k.Base() != "python_main_default" {
		t.Fatalf("Base = %q", k.Base())
	}
}
