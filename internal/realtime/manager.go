// Realtime device bridge. The vendor signaling SDK runs in the agent's
// browser; a small shim forwards its callbacks over a WebSocket and executes
// the commands it receives. Manager is the Go end of that socket and
// implements signal.Device.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/petervdpas/dialdesk/internal/signal"
	"github.com/petervdpas/dialdesk/internal/token"
	"github.com/petervdpas/dialdesk/internal/util"
)

var ErrNoBrowser = errors.New("no browser attached")

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The shim is served by the same viewer; local agents only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Command is a frame sent to the browser shim.
type Command struct {
	Op        string        `json:"op"`
	SessionID string        `json:"session_id,omitempty"`
	To        string        `json:"to,omitempty"`
	Token     string        `json:"token,omitempty"`
	Options   *SetupOptions `json:"options,omitempty"`
}

// SetupOptions mirrors the SDK's device constructor options.
type SetupOptions struct {
	CodecPreferences       []string `json:"codecPreferences"`
	FakeLocalDTMF          bool     `json:"fakeLocalDTMF"`
	EnableRingingState     bool     `json:"enableRingingState"`
	Debug                  bool     `json:"debug"`
	AllowIncomingWhileBusy bool     `json:"allowIncomingWhileBusy"`
	Edge                   []string `json:"edge"`
}

// Manager bridges one browser at a time. A newly attached browser replaces
// the previous one.
type Manager struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	connID  string
	writeMu sync.Mutex

	notes    chan signal.Notification
	attachMu sync.RWMutex
	onAttach []func()

	readers sync.WaitGroup
	done    chan struct{}
	once    sync.Once
}

// New creates a bridge with no browser attached.
func New() *Manager {
	return &Manager{
		notes: make(chan signal.Notification, 256),
		done:  make(chan struct{}),
	}
}

// OnAttach registers a callback fired each time a browser attaches.
func (m *Manager) OnAttach(fn func()) {
	m.attachMu.Lock()
	m.onAttach = append(m.onAttach, fn)
	m.attachMu.Unlock()
}

// Attached reports whether a browser shim is connected.
func (m *Manager) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// ServeHTTP upgrades the shim's request and starts reading its callbacks.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-m.done:
		http.Error(w, "bridge closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("BRIDGE: WebSocket upgrade error: %v", err)
		return
	}
	id := uuid.NewString()

	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		conn.Close()
		return
	default:
	}
	prev := m.conn
	m.conn, m.connID = conn, id
	m.readers.Add(1)
	m.mu.Unlock()

	if prev != nil {
		log.Printf("BRIDGE: browser replaced by %s", id)
		prev.Close()
		// The new page has no SDK device until it is set up again.
		m.push(signal.Notification{Scope: signal.ScopeDevice, Name: signal.DeviceOffline, Reason: "browser replaced"})
	} else {
		log.Printf("BRIDGE: browser %s attached", id)
	}

	go m.readLoop(conn, id)

	m.attachMu.RLock()
	handlers := make([]func(), len(m.onAttach))
	copy(handlers, m.onAttach)
	m.attachMu.RUnlock()
	for _, fn := range handlers {
		go fn()
	}
}

// readLoop forwards browser callbacks in arrival order.
func (m *Manager) readLoop(conn *websocket.Conn, id string) {
	defer m.readers.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var n signal.Notification
		if err := json.Unmarshal(data, &n); err != nil || n.Name == "" {
			log.Printf("BRIDGE [%s]: dropping malformed frame: %q", id, truncate(data, 120))
			continue
		}
		if n.Scope == "" {
			n.Scope = signal.ScopeDevice
		}
		if !m.push(n) {
			return
		}
	}

	m.mu.Lock()
	current := m.connID == id
	if current {
		m.conn, m.connID = nil, ""
	}
	m.mu.Unlock()
	conn.Close()

	if current {
		log.Printf("BRIDGE: browser %s detached", id)
		m.push(signal.Notification{Scope: signal.ScopeDevice, Name: signal.DeviceErrorEvent, Reason: "browser bridge disconnected"})
	}
}

func (m *Manager) push(n signal.Notification) bool {
	select {
	case m.notes <- n:
		return true
	case <-m.done:
		return false
	}
}

// Setup sends the credential and capability configuration to the browser,
// which (re)creates its SDK device.
func (m *Manager) Setup(ctx context.Context, cred token.Credential, opts signal.Options) error {
	return m.send(ctx, Command{
		Op:    "setup",
		Token: cred.Token,
		Options: &SetupOptions{
			CodecPreferences:       opts.CodecNames(),
			FakeLocalDTMF:          opts.FakeLocalDTMF,
			EnableRingingState:     opts.EnableRingingState,
			Debug:                  opts.Debug,
			AllowIncomingWhileBusy: opts.AllowIncomingWhileBusy,
			Edge:                   append([]string(nil), opts.Edges...),
		},
	})
}

func (m *Manager) Connect(ctx context.Context, sessionID, to string) error {
	return m.send(ctx, Command{Op: "connect", SessionID: sessionID, To: to})
}

func (m *Manager) Accept(sessionID string) error {
	return m.send(context.Background(), Command{Op: "accept", SessionID: sessionID})
}

func (m *Manager) Reject(sessionID string) error {
	return m.send(context.Background(), Command{Op: "reject", SessionID: sessionID})
}

func (m *Manager) Disconnect(sessionID string) error {
	return m.send(context.Background(), Command{Op: "disconnect", SessionID: sessionID})
}

func (m *Manager) Notifications() <-chan signal.Notification {
	return m.notes
}

// Close detaches the browser and closes the notification stream.
func (m *Manager) Close() error {
	m.once.Do(func() {
		close(m.done)
		m.mu.Lock()
		conn := m.conn
		m.conn, m.connID = nil, ""
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		m.readers.Wait()
		close(m.notes)
	})
	return nil
}

func (m *Manager) send(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%s: %w", cmd.Op, ErrNoBrowser)
	}

	deadline := time.Now().Add(util.ShortTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd.Op, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
