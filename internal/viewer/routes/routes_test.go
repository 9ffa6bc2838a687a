package routes

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/dialdesk/internal/call"
	"github.com/petervdpas/dialdesk/internal/realtime"
	"github.com/petervdpas/dialdesk/internal/signal"
	"github.com/petervdpas/dialdesk/internal/storage"
	"github.com/petervdpas/dialdesk/internal/token"
)

type fakeControl struct {
	mu        sync.Mutex
	dialErr   error
	actionErr error
	connErr   error
	connected []string
	actions   []string
	state     call.DeviceState
}

func (f *fakeControl) Connect(_ context.Context, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, identity)
	return f.connErr
}

func (f *fakeControl) Dial(_ context.Context, number string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return "", f.dialErr
	}
	return "CA" + strings.TrimPrefix(number, "+"), nil
}

func (f *fakeControl) act(op string) func(string) error {
	return func(id string) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.actions = append(f.actions, op+":"+id)
		return f.actionErr
	}
}

func (f *fakeControl) Accept(id string) error     { return f.act("accept")(id) }
func (f *fakeControl) Reject(id string) error     { return f.act("reject")(id) }
func (f *fakeControl) Disconnect(id string) error { return f.act("disconnect")(id) }
func (f *fakeControl) State() call.DeviceState    { return f.state }

func (f *fakeControl) set(fn func(f *fakeControl)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeControl) log() (connected, actions string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.connected, ","), strings.Join(f.actions, ",")
}

type fakeLeads struct {
	mu    sync.Mutex
	leads []storage.Lead
}

func (f *fakeLeads) List(context.Context) ([]storage.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.Lead(nil), f.leads...), nil
}

func (f *fakeLeads) Upsert(_ context.Context, l storage.Lead) error {
	if l.LeadID == "" {
		return fmt.Errorf("%w: no lead_id", storage.ErrInvalidLead)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads = append(f.leads, l)
	return nil
}

type fakeCreds struct{ cred token.Credential }

func (f fakeCreds) Current() (token.Credential, bool) { return f.cred, f.cred.Token != "" }

var issuedAt = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestServer(t *testing.T, reg *call.Registry, ctl *fakeControl) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	Register(mux, Deps{
		Calls:           reg,
		Control:         ctl,
		Leads:           &fakeLeads{leads: []storage.Lead{{LeadID: "1", FirstName: "Grace", LastName: "Hopper", PhoneNumber: "+15550000001"}}},
		Creds:           fakeCreds{token.Credential{Token: "tok", Identity: "alice", IssuedAt: issuedAt}},
		DefaultIdentity: "agent-1",
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func inbound(reg *call.Registry, id, from string) {
	reg.Apply(call.Event{SessionID: id, Kind: call.EventCreate, Direction: call.Inbound, Number: from,
		Meta: call.Meta{LeadID: "123", FirstName: "John", LastName: "Doe", PhoneNumber: from}})
}

func TestGetCallsSnapshot(t *testing.T) {
	reg := call.NewRegistry()
	inbound(reg, "CA1", "+15551234567")
	srv := newTestServer(t, reg, &fakeControl{state: call.DeviceReady})

	resp, err := http.Get(srv.URL + "/api/calls")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var snap struct {
		Sessions []struct {
			ID     string `json:"session_id"`
			State  string `json:"state"`
			Number string `json:"counterpart_number"`
			Meta   struct {
				FirstName string `json:"first_name"`
			} `json:"display_meta"`
		} `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Sessions) != 1 || snap.Sessions[0].ID != "CA1" || snap.Sessions[0].State != "pending" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Sessions[0].Meta.FirstName != "John" || snap.Sessions[0].Number != "+15551234567" {
		t.Fatalf("session = %+v", snap.Sessions[0])
	}

	resp2, _ := postJSON(t, srv.URL+"/api/calls", `{}`)
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST /api/calls status = %d", resp2.StatusCode)
	}
}

func TestDialAndErrorMapping(t *testing.T) {
	ctl := &fakeControl{state: call.DeviceReady}
	srv := newTestServer(t, call.NewRegistry(), ctl)

	resp, out := postJSON(t, srv.URL+"/api/calls/dial", `{"number":"+15551234567"}`)
	if resp.StatusCode != http.StatusOK || out["session_id"] != "CA15551234567" {
		t.Fatalf("dial: %d %v", resp.StatusCode, out)
	}

	cases := []struct {
		err  error
		want int
	}{
		{&signal.DialError{Number: "x", Reason: signal.DialMalformed}, http.StatusBadRequest},
		{&signal.DialError{Number: "+1555", Reason: signal.DialNotReady}, http.StatusConflict},
		{&signal.DialError{Number: "+1555", Reason: signal.DialRefused, Err: fmt.Errorf("connect: %w", realtime.ErrNoBrowser)}, http.StatusServiceUnavailable},
		{&signal.DialError{Number: "+1555", Reason: signal.DialRefused, Err: errors.New("boom")}, http.StatusBadGateway},
	}
	for _, c := range cases {
		ctl.set(func(f *fakeControl) { f.dialErr = c.err })
		resp, out := postJSON(t, srv.URL+"/api/calls/dial", `{"number":"+15551234567"}`)
		if resp.StatusCode != c.want || out["error"] == "" {
			t.Fatalf("%v: status %d body %v, want %d", c.err, resp.StatusCode, out, c.want)
		}
	}

	if resp, _ := postJSON(t, srv.URL+"/api/calls/dial", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing number status = %d", resp.StatusCode)
	}
	if resp, _ := postJSON(t, srv.URL+"/api/calls/dial", `{bad`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json status = %d", resp.StatusCode)
	}
}

func TestSessionActions(t *testing.T) {
	ctl := &fakeControl{state: call.DeviceReady}
	srv := newTestServer(t, call.NewRegistry(), ctl)

	for _, op := range []string{"accept", "reject", "disconnect"} {
		resp, out := postJSON(t, srv.URL+"/api/calls/"+op, `{"session_id":"CA9"}`)
		if resp.StatusCode != http.StatusOK || out["session_id"] != "CA9" {
			t.Fatalf("%s: %d %v", op, resp.StatusCode, out)
		}
	}
	if _, got := ctl.log(); got != "accept:CA9,reject:CA9,disconnect:CA9" {
		t.Fatalf("actions = %s", got)
	}

	ctl.set(func(f *fakeControl) { f.actionErr = fmt.Errorf("accept CA0: %w", signal.ErrUnknownSession) })
	if resp, _ := postJSON(t, srv.URL+"/api/calls/accept", `{"session_id":"CA0"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", resp.StatusCode)
	}
	if resp, _ := postJSON(t, srv.URL+"/api/calls/accept", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing id status = %d", resp.StatusCode)
	}
}

func TestDeviceConnect(t *testing.T) {
	ctl := &fakeControl{state: call.DeviceUninitialized}
	srv := newTestServer(t, call.NewRegistry(), ctl)

	if resp, out := postJSON(t, srv.URL+"/api/device/connect", `{"identity":"alice"}`); resp.StatusCode != http.StatusOK || out["identity"] != "alice" {
		t.Fatalf("connect: %d %v", resp.StatusCode, out)
	}
	if resp, out := postJSON(t, srv.URL+"/api/device/connect", ``); resp.StatusCode != http.StatusOK || out["identity"] != "agent-1" {
		t.Fatalf("default identity: %d %v", resp.StatusCode, out)
	}

	ctl.set(func(f *fakeControl) { f.connErr = &token.AuthError{Identity: "bob", Status: 401} })
	resp, out := postJSON(t, srv.URL+"/api/device/connect", `{"identity":"bob"}`)
	if resp.StatusCode != http.StatusBadGateway || out["error"] == "" {
		t.Fatalf("auth failure: %d %v", resp.StatusCode, out)
	}
	if got, _ := ctl.log(); got != "alice,agent-1,bob" {
		t.Fatalf("connected = %s", got)
	}

	r, err := http.Get(srv.URL + "/api/device")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	var st struct {
		State    string    `json:"state"`
		Rearming bool      `json:"rearming"`
		Identity string    `json:"identity"`
		IssuedAt time.Time `json:"issued_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil || st.State != "uninitialized" {
		t.Fatalf("device state = %+v (%v)", st, err)
	}
	if st.Identity != "alice" || !st.IssuedAt.Equal(issuedAt) {
		t.Fatalf("credential = %q issued %v", st.Identity, st.IssuedAt)
	}
}

func TestLeadsList(t *testing.T) {
	srv := newTestServer(t, call.NewRegistry(), &fakeControl{})
	resp, err := http.Get(srv.URL + "/api/leads")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var leads []storage.Lead
	if err := json.NewDecoder(resp.Body).Decode(&leads); err != nil || len(leads) != 1 || leads[0].LastName != "Hopper" {
		t.Fatalf("leads = %+v (%v)", leads, err)
	}
}

func TestLeadsUpsert(t *testing.T) {
	srv := newTestServer(t, call.NewRegistry(), &fakeControl{})

	resp, out := postJSON(t, srv.URL+"/api/leads", `{"lead_id":"2","first_name":"Ada","phone_number":"+15550000002"}`)
	if resp.StatusCode != http.StatusOK || out["lead_id"] != "2" {
		t.Fatalf("upsert: %d %v", resp.StatusCode, out)
	}
	resp, out = postJSON(t, srv.URL+"/api/leads", `{"phone_number":"+15550000003"}`)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(out["error"], "invalid lead") {
		t.Fatalf("invalid lead: %d %v", resp.StatusCode, out)
	}

	r, err := http.Get(srv.URL + "/api/leads")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	var leads []storage.Lead
	if err := json.NewDecoder(r.Body).Decode(&leads); err != nil || len(leads) != 2 || leads[1].FirstName != "Ada" {
		t.Fatalf("leads = %+v (%v)", leads, err)
	}
}

func TestCallEventsSSE(t *testing.T) {
	reg := call.NewRegistry()
	srv := newTestServer(t, reg, &fakeControl{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/calls/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				lines <- data
			}
		}
		close(lines)
	}()

	next := func() call.Snapshot {
		t.Helper()
		select {
		case data := <-lines:
			var snap call.Snapshot
			if err := json.Unmarshal([]byte(data), &snap); err != nil {
				t.Fatal(err)
			}
			return snap
		case <-time.After(2 * time.Second):
			t.Fatal("no snapshot event")
		}
		return call.Snapshot{}
	}

	if first := next(); len(first.Sessions) != 0 {
		t.Fatalf("initial snapshot = %+v", first)
	}
	inbound(reg, "CA7", "+15557654321")
	for {
		snap := next()
		if _, ok := snap.Find("CA7"); ok {
			return
		}
	}
}

func TestCallEventsWebSocket(t *testing.T) {
	reg := call.NewRegistry()
	srv := newTestServer(t, reg, &fakeControl{})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/calls/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	read := func() call.Snapshot {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var snap call.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatal(err)
		}
		return snap
	}

	first := read()
	inbound(reg, "CA8", "+15550001111")
	reg.Apply(call.Event{SessionID: "CA8", Kind: call.EventAcceptedByRemote})
	for {
		snap := read()
		if snap.Version <= first.Version {
			t.Fatalf("version went from %d to %d", first.Version, snap.Version)
		}
		if v, ok := snap.Find("CA8"); ok && v.State == call.StateOpen {
			return
		}
	}
}
