package routes

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// The agent UI may be served from a dev server on another port.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type sessionReq struct {
	SessionID string `json:"session_id"`
}

func registerCallRoutes(mux *http.ServeMux, d Deps) {
	if d.Calls == nil {
		return
	}

	// GET /api/calls: current snapshot.
	handleGet(mux, "/api/calls", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Calls.Snapshot())
	})

	// GET /api/calls/events: SSE stream; the first event is the current
	// snapshot, later ones follow each registry change. Slow readers skip
	// intermediate snapshots.
	handleGet(mux, "/api/calls/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		sseHeaders(w)

		ch, cancel := d.Calls.Subscribe()
		defer cancel()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(snap)
				if err != nil {
					log.Printf("VIEWER: snapshot encode: %v", err)
					continue
				}
				fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Version, data)
				flusher.Flush()
			}
		}
	})

	// GET /api/calls/ws: the same stream over a WebSocket.
	mux.HandleFunc("/api/calls/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("VIEWER: WebSocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		ch, cancel := d.Calls.Subscribe()
		defer cancel()

		// Drain client frames so close and ping are processed.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case snap, ok := <-ch:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(snap); err != nil {
					return
				}
			}
		}
	})

	if d.Control == nil {
		return
	}

	// POST /api/calls/dial {number}
	handlePost(mux, "/api/calls/dial", func(w http.ResponseWriter, r *http.Request, req struct {
		Number string `json:"number"`
	}) {
		if strings.TrimSpace(req.Number) == "" {
			http.Error(w, "missing number", http.StatusBadRequest)
			return
		}
		id, err := d.Control.Dial(r.Context(), req.Number)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "dialing", "session_id": id})
	})

	sessionAction := func(path, status string, fn func(string) error) {
		handlePost(mux, path, func(w http.ResponseWriter, r *http.Request, req sessionReq) {
			if req.SessionID == "" {
				http.Error(w, "missing session_id", http.StatusBadRequest)
				return
			}
			if err := fn(req.SessionID); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, map[string]string{"status": status, "session_id": req.SessionID})
		})
	}
	sessionAction("/api/calls/accept", "accepting", d.Control.Accept)
	sessionAction("/api/calls/reject", "rejecting", d.Control.Reject)
	sessionAction("/api/calls/disconnect", "disconnecting", d.Control.Disconnect)
}
