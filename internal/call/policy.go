package call

// rule is one row of the lifecycle table: the states an event is expected in
// and the state it produces.
type rule struct {
	from []State
	to   State
}

var lifecycle = map[EventKind]rule{
	EventConnecting:         {from: []State{StatePending}, to: StateConnecting},
	EventRingingRemote:      {from: []State{StatePending, StateConnecting}, to: StateRinging},
	EventOpened:             {from: []State{StatePending, StateConnecting, StateRinging}, to: StateOpen},
	EventAcceptedByRemote:   {from: []State{StatePending, StateConnecting, StateRinging}, to: StateOpen},
	EventRejectedByRemote:   {from: []State{StatePending}, to: StateClosed},
	EventCancelledByCaller:  {from: []State{StatePending, StateRinging}, to: StateClosed},
	EventDisconnectedRemote: {from: nil, to: StateClosed},
	EventClosedLocally:      {from: nil, to: StateClosed},
}

// decision is what the policy wants done with an event for a live session.
type decision struct {
	next      State
	reordered bool // event arrived outside its expected prior states
	noop      bool
}

// decide applies the lifecycle table to a live session. Transport reordering
// is absorbed rather than rejected: the newest event's result wins. A kind
// that was already applied to the session is a duplicate and changes nothing.
func decide(s *Session, kind EventKind) decision {
	r, ok := lifecycle[kind]
	if !ok {
		return decision{next: s.State, noop: true}
	}
	if r.to == StateClosed {
		return decision{next: StateClosed, reordered: !r.allows(s.State)}
	}
	if _, seen := s.applied[kind]; seen || s.State == r.to {
		return decision{next: s.State, noop: true}
	}
	return decision{next: r.to, reordered: !r.allows(s.State)}
}

func (r rule) allows(s State) bool {
	if r.from == nil {
		return true
	}
	for _, f := range r.from {
		if f == s {
			return true
		}
	}
	return false
}
