package driver

// StateTracker is the single source of truth for the last-known GPU
// execution state of every tracked resource. Components consult it before
// emitting transition barriers so that redundant or incorrect barriers are
// never recorded when several components touch the same resource across a
// frame.
//
// The tracker follows the single command-recording thread model; it is not
// safe for concurrent use.
type StateTracker struct {
	states map[Resource]State
}

func NewStateTracker() *StateTracker {
	return &StateTracker{
		states: make(map[Resource]State),
	}
}

// Track registers a resource in its declared initial state, replacing any
// stale record for the same identity.
func (t *StateTracker) Track(r Resource, initial State) {
	t.states[r] = initial
}

// Forget drops a resource from the tracker. Must be called when a resource
// is destroyed so a later allocation reusing the identity starts clean.
func (t *StateTracker) Forget(r Resource) {
	delete(t.states, r)
}

// StateOf reports the last-known state of a resource.
func (t *StateTracker) StateOf(r Resource) (State, bool) {
	s, ok := t.states[r]
	return s, ok
}

// Transition records a barrier moving the resource into the target state,
// unless the resource is already known to be in it. Untracked resources are
// assumed to be in StateCommon.
func (t *StateTracker) Transition(cb CmdBuffer, r Resource, to State) {
	from, ok := t.states[r]
	if !ok {
		from = StateCommon
	}
	if ok && from == to {
		return
	}
	cb.Barrier([]Barrier{{Resource: r, Before: from, After: to}})
	t.states[r] = to
}

// FlushWrite records a same-state barrier that orders prior writes to the
// resource against subsequent reads. Used after acceleration structure
// builds, which leave the structure in its build state but require a
// completion barrier before first read.
func (t *StateTracker) FlushWrite(cb CmdBuffer, r Resource) {
	s, ok := t.states[r]
	if !ok {
		s = StateCommon
		t.states[r] = s
	}
	cb.Barrier([]Barrier{{Resource: r, Before: s, After: s}})
}
