package signal

import (
	"context"

	"github.com/petervdpas/dialdesk/internal/token"
)

// Device is the surface the adapter needs from the external signaling
// client. It performs call setup, teardown and audio; the adapter only sees
// its notifications.
type Device interface {
	// Setup (re)arms the device with a credential. Live calls survive it.
	Setup(ctx context.Context, cred token.Credential, opts Options) error

	// Connect places an outbound call. The session id is chosen by the
	// caller so that bookkeeping exists before the first notification.
	Connect(ctx context.Context, sessionID, to string) error

	Accept(sessionID string) error
	Reject(sessionID string) error
	Disconnect(sessionID string) error

	// Notifications delivers device and connection callbacks in the order
	// the transport emitted them. Closed when the device shuts down.
	Notifications() <-chan Notification

	Close() error
}

// Scope separates device-wide callbacks from per-connection ones.
type Scope string

const (
	ScopeDevice     Scope = "device"
	ScopeConnection Scope = "connection"
)

// Notification is one raw callback from the signaling client.
type Notification struct {
	Scope     Scope  `json:"scope"`
	Name      string `json:"event"`
	SessionID string `json:"session_id,omitempty"`
	From      string `json:"from,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Device-level notification names.
const (
	DeviceReady      = "ready"
	DeviceErrorEvent = "error"
	DeviceIncoming   = "incoming"
	DeviceConnect    = "connect"
	DeviceDisconnect = "disconnect"
	DeviceOffline    = "offline"
)

// Connection-level notification names.
const (
	ConnPending    = "pending"
	ConnConnecting = "connecting"
	ConnRinging    = "ringing"
	ConnOpen       = "open"
	ConnClosed     = "closed"
	ConnAccept     = "accept"
	ConnReject     = "reject"
	ConnCancel     = "cancel"
	ConnDisconnect = "disconnect"
)
