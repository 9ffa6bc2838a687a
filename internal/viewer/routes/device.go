package routes

import (
	"net/http"
	"strings"
)

func registerDeviceRoutes(mux *http.ServeMux, d Deps) {
	if d.Control == nil {
		return
	}

	// GET /api/device
	handleGet(mux, "/api/device", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"state": d.Control.State()}
		if d.Calls != nil {
			resp["rearming"] = d.Calls.Snapshot().Rearming
		}
		if d.Creds != nil {
			if cred, ok := d.Creds.Current(); ok {
				resp["identity"] = cred.Identity
				resp["issued_at"] = cred.IssuedAt
			}
		}
		writeJSON(w, resp)
	})

	// POST /api/device/connect {identity}
	handlePost(mux, "/api/device/connect", func(w http.ResponseWriter, r *http.Request, req struct {
		Identity string `json:"identity"`
	}) {
		identity := strings.TrimSpace(req.Identity)
		if identity == "" {
			identity = d.DefaultIdentity
		}
		if identity == "" {
			http.Error(w, "missing identity", http.StatusBadRequest)
			return
		}
		if err := d.Control.Connect(r.Context(), identity); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "connecting", "identity": identity})
	})
}
