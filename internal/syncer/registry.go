package syncer

import (
	"sort"

	"shiftcal/internal/models"
)

// Handle identifies a tracked shift. Handles are issued in tracking order,
// which is the roster's row order.
type Handle int

type affordance struct {
	shift    models.Shift
	editable bool
	state    State
	eventID  string
}

// registry is an arena of affordances. Complete shifts are indexed by key and
// each key has at most one owner; incomplete shifts are never indexed, so
// several blank slots on one date each keep their own handle. The ready index
// holds exactly the affordances currently in StateReady.
type registry struct {
	items []*affordance
	byKey map[string]Handle
	ready map[string]Handle
}

func newRegistry() *registry {
	return &registry{
		byKey: make(map[string]Handle),
		ready: make(map[string]Handle),
	}
}

func (r *registry) insert(a *affordance) Handle {
	h := Handle(len(r.items))
	r.items = append(r.items, a)
	if a.shift.Complete() {
		r.byKey[a.shift.Key()] = h
	}
	if a.state == StateReady {
		r.ready[a.shift.Key()] = h
	}
	return h
}

func (r *registry) get(h Handle) (*affordance, bool) {
	if h < 0 || int(h) >= len(r.items) {
		return nil, false
	}
	return r.items[h], true
}

// owner returns the handle indexed under the key of shift. Incomplete
// shifts have no owner.
func (r *registry) owner(shift models.Shift) (Handle, bool) {
	if !shift.Complete() {
		return 0, false
	}
	h, ok := r.byKey[shift.Key()]
	return h, ok
}

// setState moves h to state and keeps the ready index in step.
func (r *registry) setState(h Handle, state State) {
	a := r.items[h]
	a.state = state
	key := a.shift.Key()
	if state == StateReady {
		r.ready[key] = h
	} else if cur, ok := r.ready[key]; ok && cur == h {
		delete(r.ready, key)
	}
}

// rekey replaces the shift of h, moving its index entries to the new key.
// The caller checks that no other handle owns the new key.
func (r *registry) rekey(h Handle, shift models.Shift) {
	a := r.items[h]
	oldKey := a.shift.Key()
	if cur, ok := r.byKey[oldKey]; ok && cur == h {
		delete(r.byKey, oldKey)
	}
	if cur, ok := r.ready[oldKey]; ok && cur == h {
		delete(r.ready, oldKey)
	}
	a.shift = shift
	if shift.Complete() {
		r.byKey[shift.Key()] = h
	}
}

// readyHandles returns the ready affordances in tracking order.
func (r *registry) readyHandles() []Handle {
	out := make([]Handle, 0, len(r.ready))
	for _, h := range r.ready {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
