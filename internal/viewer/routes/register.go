// internal/viewer/routes/register.go
package routes

import (
	"context"
	"net/http"

	"github.com/petervdpas/dialdesk/internal/call"
	"github.com/petervdpas/dialdesk/internal/storage"
	"github.com/petervdpas/dialdesk/internal/token"
)

type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

// Calls is the read side: the registry.
type Calls interface {
	Snapshot() call.Snapshot
	Subscribe() (<-chan call.Snapshot, func())
}

// Controller is the agent's write side: the signaling adapter.
type Controller interface {
	Connect(ctx context.Context, identity string) error
	Dial(ctx context.Context, number string) (string, error)
	Accept(sessionID string) error
	Reject(sessionID string) error
	Disconnect(sessionID string) error
	State() call.DeviceState
}

// Leads is the lead directory.
type Leads interface {
	List(ctx context.Context) ([]storage.Lead, error)
	Upsert(ctx context.Context, l storage.Lead) error
}

// Credentials reports the credential the device was last set up with.
type Credentials interface {
	Current() (token.Credential, bool)
}

type Deps struct {
	Calls   Calls
	Control Controller
	Logs    Logs
	Leads   Leads
	Creds   Credentials

	// DefaultIdentity is used by /api/device/connect when the body names none.
	DefaultIdentity string
}

func Register(mux *http.ServeMux, d Deps) {
	registerAPILogRoutes(mux, d)
	registerCallRoutes(mux, d)
	registerDeviceRoutes(mux, d)
	registerLeadRoutes(mux, d)
}
