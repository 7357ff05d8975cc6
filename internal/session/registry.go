package session

import (
	"tangle/internal/diag"
	"tangle/internal/fragment"
)

// Registry groups the full ordered fragment sequence into sessions,
// preserving first-seen session order and fragment order within a session.
type Registry struct {
	order    []Key
	sessions map[Key]*Session
}

// NewRegistry builds a registry from the intake fragment sequence.
// Sessions with no executable fragments are dropped; their cached artifacts
// are cleaned up by the engine when it diffs against the previous run.
func NewRegistry(frags []fragment.Fragment, maxDiagnostics int) *Registry {
	r := &Registry{sessions: make(map[Key]*Session)}
	for i := range frags {
		f := &frags[i]
		if !f.Executable() {
			continue
		}
		key := Key{Family: f.Family, Name: f.Session, Restart: f.Restart}
		s, ok := r.sessions[key]
		if !ok {
			s = &Session{
				Key:          key,
				Dependencies: make(map[string]DepSnapshot),
				Diags:        diag.NewBag(maxDiagnostics),
			}
			r.sessions[key] = s
			r.order = append(r.order, key)
		}
		s.Fragments = append(s.Fragments, f)
	}
	return r
}

// Sessions returns all sessions in first-seen order.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.sessions[key])
	}
	return out
}

// Get returns the session for key, if present.
func (r *Registry) Get(key Key) (*Session, bool) {
	s, ok := r.sessions[key]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.order)
}

// Keys returns session identities in first-seen order.
func (r *Registry) Keys() []Key {
	return r.order
}
