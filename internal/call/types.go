package call

import "fmt"

// State is the lifecycle state of one call session.
type State int

const (
	StatePending State = iota
	StateConnecting
	StateRinging
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnecting:
		return "connecting"
	case StateRinging:
		return "ringing"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := StatePending; st <= StateClosed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown call state %q", b)
}

// Direction of a call relative to the agent.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// DeviceState describes the local signaling client.
type DeviceState string

const (
	DeviceUninitialized DeviceState = "uninitialized"
	DeviceReady         DeviceState = "ready"
	DeviceBusy          DeviceState = "busy"
	DeviceOffline       DeviceState = "offline"
	DeviceError         DeviceState = "error"
)

// CanDial reports whether a new outbound call may be placed.
func (d DeviceState) CanDial() bool {
	return d == DeviceReady || d == DeviceBusy
}

// Meta is the human readable identity shown next to a call.
type Meta struct {
	LeadID      string `json:"lead_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

// IsZero reports whether no field is set.
func (m Meta) IsZero() bool { return m == Meta{} }

// merge overlays the non-empty fields of o onto m.
func (m Meta) merge(o Meta) Meta {
	if o.LeadID != "" {
		m.LeadID = o.LeadID
	}
	if o.FirstName != "" {
		m.FirstName = o.FirstName
	}
	if o.LastName != "" {
		m.LastName = o.LastName
	}
	if o.PhoneNumber != "" {
		m.PhoneNumber = o.PhoneNumber
	}
	return m
}

// EventKind is the uniform session-event vocabulary produced by the
// signaling adapter.
type EventKind int

const (
	EventCreate EventKind = iota
	EventConnecting
	EventRingingRemote
	EventOpened
	EventAcceptedByRemote
	EventRejectedByRemote
	EventCancelledByCaller
	EventDisconnectedRemote
	EventClosedLocally
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventConnecting:
		return "connecting"
	case EventRingingRemote:
		return "ringingRemote"
	case EventOpened:
		return "opened"
	case EventAcceptedByRemote:
		return "acceptedByRemote"
	case EventRejectedByRemote:
		return "rejectedByRemote"
	case EventCancelledByCaller:
		return "cancelledByCaller"
	case EventDisconnectedRemote:
		return "disconnectedRemote"
	case EventClosedLocally:
		return "closedLocally"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one session transition request. Direction, Number and Meta are
// read only for EventCreate; Meta is merged on a create for a live id.
type Event struct {
	SessionID string
	Kind      EventKind
	Direction Direction
	Number    string
	Meta      Meta
}

// Outcome tells the caller what Apply did. It is informational only; Apply
// never fails.
type Outcome int

const (
	Ignored Outcome = iota
	Inserted
	MetaMerged
	Transitioned
	Evicted
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Inserted:
		return "inserted"
	case MetaMerged:
		return "meta-merged"
	case Transitioned:
		return "transitioned"
	case Evicted:
		return "evicted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}
