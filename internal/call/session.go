package call

import (
	"time"

	"github.com/petervdpas/dialdesk/internal/util"
)

// Session is one live call tracked by the Registry. Only the Registry touches
// it; readers get a SessionView.
type Session struct {
	ID        string
	Direction Direction
	Number    string
	Meta      Meta
	State     State
	CreatedAt time.Time
	OpenedAt  time.Time

	seq     uint64
	applied map[EventKind]struct{}
}

// SessionView is the immutable per-session row of a Snapshot.
type SessionView struct {
	ID               string    `json:"session_id"`
	Direction        Direction `json:"direction"`
	Number           string    `json:"counterpart_number"`
	NormalizedNumber string    `json:"normalized_number,omitempty"`
	Meta             Meta      `json:"display_meta"`
	State            State     `json:"state"`
	CreatedAt        time.Time `json:"created_at"`
	OpenedAt         time.Time `json:"opened_at,omitzero"`
}

// Duration is the time spent connected so far, zero until the call opens.
func (v SessionView) Duration(now time.Time) time.Duration {
	if v.OpenedAt.IsZero() {
		return 0
	}
	return now.Sub(v.OpenedAt)
}

// Elapsed renders Duration as mm:ss for the call bar.
func (v SessionView) Elapsed(now time.Time) string {
	return util.FormatDuration(v.Duration(now))
}

func (s *Session) view() SessionView {
	v := SessionView{
		ID:        s.ID,
		Direction: s.Direction,
		Number:    s.Number,
		Meta:      s.Meta,
		State:     s.State,
		CreatedAt: s.CreatedAt,
		OpenedAt:  s.OpenedAt,
	}
	if n, err := util.NormalizeNumber(s.Number); err == nil {
		v.NormalizedNumber = n
	}
	return v
}
