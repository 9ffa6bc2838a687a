// Package call owns the authoritative set of live call sessions. Every
// signaling event is applied as a lifecycle transition; readers receive
// immutable snapshots.
package call

import (
	"log"
	"sort"
	"sync"
	"time"
)

// Snapshot is the read model handed to the presentation layer. It is never
// mutated after publication.
type Snapshot struct {
	Version  uint64        `json:"version"`
	At       time.Time     `json:"at"`
	Device   DeviceState   `json:"device_state"`
	Rearming bool          `json:"rearming"`
	Sessions []SessionView `json:"sessions"`
}

// Find returns the session with id, if present.
func (s Snapshot) Find(id string) (SessionView, bool) {
	for _, v := range s.Sessions {
		if v.ID == id {
			return v, true
		}
	}
	return SessionView{}, false
}

// Registry maps session id to call metadata and lifecycle state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	seq      uint64
	version  uint64
	device   DeviceState
	rearming bool
	current  Snapshot
	now      func() time.Time
	subs     map[chan Snapshot]struct{}
}

func NewRegistry() *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		device:   DeviceUninitialized,
		now:      time.Now,
		subs:     make(map[chan Snapshot]struct{}),
	}
	r.current = r.buildLocked()
	return r
}

// Apply applies one event. Unknown ids, duplicates and reordered events are
// absorbed; a transition to closed evicts the session immediately.
func (r *Registry) Apply(ev Event) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.applyLocked(ev)
	if out != Ignored {
		r.publishLocked()
	}
	return out
}

func (r *Registry) applyLocked(ev Event) Outcome {
	if ev.SessionID == "" {
		return Ignored
	}
	s, live := r.sessions[ev.SessionID]

	if ev.Kind == EventCreate {
		if live {
			merged := s.Meta.merge(ev.Meta)
			if merged == s.Meta {
				return Ignored
			}
			s.Meta = merged
			return MetaMerged
		}
		r.seq++
		r.sessions[ev.SessionID] = &Session{
			ID:        ev.SessionID,
			Direction: ev.Direction,
			Number:    ev.Number,
			Meta:      ev.Meta,
			State:     StatePending,
			CreatedAt: r.now(),
			seq:       r.seq,
			applied:   map[EventKind]struct{}{EventCreate: {}},
		}
		log.Printf("CALL [%s]: %s %s → pending", ev.SessionID, ev.Direction, ev.Number)
		return Inserted
	}

	if !live {
		return Ignored
	}

	d := decide(s, ev.Kind)
	if d.noop {
		return Ignored
	}
	if d.reordered {
		log.Printf("CALL [%s]: %s arrived in state %s, applying anyway", s.ID, ev.Kind, s.State)
	}

	if d.next == StateClosed {
		delete(r.sessions, s.ID)
		log.Printf("CALL [%s]: %s → closed, evicted", s.ID, ev.Kind)
		return Evicted
	}

	prev := s.State
	s.State = d.next
	s.applied[ev.Kind] = struct{}{}
	if d.next == StateOpen && s.OpenedAt.IsZero() {
		s.OpenedAt = r.now()
	}
	log.Printf("CALL [%s]: %s %s → %s", s.ID, ev.Kind, prev, s.State)
	return Transitioned
}

// SetDevice records the signaling client state. Only the adapter calls it.
func (r *Registry) SetDevice(state DeviceState, rearming bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.device == state && r.rearming == rearming {
		return
	}
	r.device = state
	r.rearming = rearming
	r.publishLocked()
}

// Snapshot returns the most recently published read model.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Has reports whether id is live.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	r.mu.Unlock()
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Subscribe returns a channel receiving every new snapshot, starting with the
// current one. Slow subscribers only ever miss intermediate snapshots, never
// the latest.
func (r *Registry) Subscribe() (ch <-chan Snapshot, cancel func()) {
	c := make(chan Snapshot, 1)

	r.mu.Lock()
	c <- r.current
	r.subs[c] = struct{}{}
	r.mu.Unlock()

	cancel = func() {
		r.mu.Lock()
		if _, ok := r.subs[c]; ok {
			delete(r.subs, c)
			close(c)
		}
		r.mu.Unlock()
	}
	return c, cancel
}

// publishLocked rebuilds the snapshot and hands it to every subscriber. A
// subscriber that has not consumed the previous snapshot gets it replaced.
func (r *Registry) publishLocked() {
	r.version++
	r.current = r.buildLocked()
	for c := range r.subs {
		select {
		case <-c:
		default:
		}
		c <- r.current
	}
}

func (r *Registry) buildLocked() Snapshot {
	live := make([]*Session, 0, len(r.sessions))
	busy := false
	for _, s := range r.sessions {
		live = append(live, s)
		if s.State == StateOpen {
			busy = true
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })

	views := make([]SessionView, len(live))
	for i, s := range live {
		views[i] = s.view()
	}

	device := r.device
	if device == DeviceReady && busy {
		device = DeviceBusy
	}
	return Snapshot{
		Version:  r.version,
		At:       r.now(),
		Device:   device,
		Rearming: r.rearming,
		Sessions: views,
	}
}
