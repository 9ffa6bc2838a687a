package routes

import (
	"log"
	"net/http"

	"github.com/petervdpas/dialdesk/internal/storage"
)

func registerLeadRoutes(mux *http.ServeMux, d Deps) {
	if d.Leads == nil {
		return
	}

	// GET /api/leads
	handleGet(mux, "/api/leads", func(w http.ResponseWriter, r *http.Request) {
		leads, err := d.Leads.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if leads == nil {
			leads = []storage.Lead{}
		}
		writeJSON(w, leads)
	})

	// POST /api/leads {lead_id, first_name, last_name, phone_number}
	handlePost(mux, "/api/leads", func(w http.ResponseWriter, r *http.Request, req storage.Lead) {
		if err := d.Leads.Upsert(r.Context(), req); err != nil {
			writeError(w, err)
			return
		}
		log.Printf("DIRECTORY: lead %s saved", req.LeadID)
		writeJSON(w, map[string]string{"status": "saved", "lead_id": req.LeadID})
	})
}
