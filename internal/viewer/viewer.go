package viewer

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/petervdpas/dialdesk/internal/sdk"
	"github.com/petervdpas/dialdesk/internal/viewer/routes"
)

type Viewer struct {
	Calls   routes.Calls
	Control routes.Controller
	Logs    *LogBuffer
	Leads   routes.Leads
	Creds   routes.Credentials

	// Bridge accepts the browser shim's WebSocket at /ws/device.
	Bridge http.Handler

	DefaultIdentity string
}

// Handler builds the HTTP surface: JSON/SSE/WebSocket API, the shim, and the
// device bridge endpoint.
func Handler(v Viewer) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/sdk/", http.StripPrefix("/sdk/", sdk.Handler()))
	if v.Bridge != nil {
		mux.Handle("/ws/device", v.Bridge)
	}

	deps := routes.Deps{
		Calls:           v.Calls,
		Control:         v.Control,
		Leads:           v.Leads,
		Creds:           v.Creds,
		DefaultIdentity: v.DefaultIdentity,
	}
	if v.Logs != nil {
		deps.Logs = v.Logs
	}
	routes.Register(mux, deps)

	return mux
}

// Start serves Handler(v) on addr until ctx is done.
func Start(ctx context.Context, addr string, v Viewer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(v),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with ctx so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("VIEWER: listening on http://%s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
