package realtime

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/dialdesk/internal/signal"
	"github.com/petervdpas/dialdesk/internal/token"
)

func startBridge(t *testing.T) (*Manager, string) {
	t.Helper()
	m := New()
	srv := httptest.NewServer(m)
	t.Cleanup(func() {
		m.Close()
		srv.Close()
	})
	return m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialBrowser(t *testing.T, m *Manager, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	deadline := time.Now().Add(2 * time.Second)
	for !m.Attached() {
		if time.Now().After(deadline) {
			t.Fatal("browser never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readCommand(t *testing.T, conn *websocket.Conn) Command {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd Command
	if err := conn.ReadJSON(&cmd); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func nextNote(t *testing.T, m *Manager) signal.Notification {
	t.Helper()
	select {
	case n, ok := <-m.Notifications():
		if !ok {
			t.Fatal("notification stream closed")
		}
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
	return signal.Notification{}
}

func TestCommandsWithoutBrowser(t *testing.T) {
	m := New()
	defer m.Close()
	err := m.Connect(context.Background(), "CA1", "+15550000000")
	if !errors.Is(err, ErrNoBrowser) {
		t.Fatalf("expected ErrNoBrowser, got %v", err)
	}
}

func TestSetupAndCommandFrames(t *testing.T) {
	m, url := startBridge(t)
	browser := dialBrowser(t, m, url)

	opts := signal.Options{
		Codecs:                 []string{"pcmu", "opus"},
		FakeLocalDTMF:          true,
		EnableRingingState:     true,
		AllowIncomingWhileBusy: true,
		Edges:                  []string{"ashburn", "dublin", "singapore"},
	}
	if err := m.Setup(context.Background(), token.Credential{Token: "tok-1", Identity: "agent"}, opts); err != nil {
		t.Fatal(err)
	}
	cmd := readCommand(t, browser)
	if cmd.Op != "setup" || cmd.Token != "tok-1" || cmd.Options == nil {
		t.Fatalf("setup frame = %+v", cmd)
	}
	if got := cmd.Options.CodecPreferences; len(got) != 2 || got[0] != "pcmu" || got[1] != "opus" {
		t.Fatalf("codec preferences = %v", got)
	}
	if len(cmd.Options.Edge) != 3 || !cmd.Options.AllowIncomingWhileBusy || !cmd.Options.FakeLocalDTMF {
		t.Fatalf("options = %+v", cmd.Options)
	}

	if err := m.Connect(context.Background(), "CA1", "+15551234567"); err != nil {
		t.Fatal(err)
	}
	if cmd := readCommand(t, browser); cmd.Op != "connect" || cmd.SessionID != "CA1" || cmd.To != "+15551234567" {
		t.Fatalf("connect frame = %+v", cmd)
	}
	for op, fn := range map[string]func(string) error{"accept": m.Accept, "reject": m.Reject, "disconnect": m.Disconnect} {
		if err := fn("CA2"); err != nil {
			t.Fatal(err)
		}
		if cmd := readCommand(t, browser); cmd.Op != op || cmd.SessionID != "CA2" {
			t.Fatalf("%s frame = %+v", op, cmd)
		}
	}
}

func TestBrowserEventsArriveInOrder(t *testing.T) {
	m, url := startBridge(t)
	browser := dialBrowser(t, m, url)

	frames := []string{
		`{"event":"ready"}`,
		`not json`,
		`{"scope":"device","event":"incoming","session_id":"CA123","from":"+15551234567"}`,
		`{"scope":"connection","event":"ringing","session_id":"CA123"}`,
		`{"scope":"connection","event":"accept","session_id":"CA123"}`,
	}
	for _, f := range frames {
		if err := browser.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatal(err)
		}
	}

	want := []signal.Notification{
		{Scope: signal.ScopeDevice, Name: "ready"},
		{Scope: signal.ScopeDevice, Name: "incoming", SessionID: "CA123", From: "+15551234567"},
		{Scope: signal.ScopeConnection, Name: "ringing", SessionID: "CA123"},
		{Scope: signal.ScopeConnection, Name: "accept", SessionID: "CA123"},
	}
	for i, w := range want {
		if got := nextNote(t, m); got != w {
			t.Fatalf("notification %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestBrowserDetachReportsError(t *testing.T) {
	m, url := startBridge(t)
	browser := dialBrowser(t, m, url)
	browser.Close()

	n := nextNote(t, m)
	if n.Name != signal.DeviceErrorEvent || n.Reason == "" {
		t.Fatalf("notification = %+v", n)
	}
	if m.Attached() {
		t.Fatal("still attached after browser left")
	}
}

func TestNewBrowserReplacesOld(t *testing.T) {
	m, url := startBridge(t)
	attached := make(chan struct{}, 4)
	m.OnAttach(func() { attached <- struct{}{} })

	first := dialBrowser(t, m, url)
	<-attached
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	<-attached

	// The replaced socket is closed by the bridge.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("replaced browser still readable")
	}

	if err := m.Accept("CA1"); err != nil {
		t.Fatal(err)
	}
	if cmd := readCommand(t, second); cmd.Op != "accept" {
		t.Fatalf("frame went to %+v", cmd)
	}

	// The swap reads as the device going offline; the replaced socket
	// closing adds no detach error of its own.
	if n := nextNote(t, m); n.Name != signal.DeviceOffline || n.Reason != "browser replaced" {
		t.Fatalf("notification = %+v, want offline", n)
	}
	select {
	case n := <-m.Notifications():
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseEndsStream(t *testing.T) {
	m, url := startBridge(t)
	dialBrowser(t, m, url)
	m.Close()
	for range m.Notifications() {
	}
	if err := m.Disconnect("CA1"); !errors.Is(err, ErrNoBrowser) {
		t.Fatalf("expected ErrNoBrowser after close, got %v", err)
	}
}
