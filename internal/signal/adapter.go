// Package signal adapts the external signaling client to the call registry.
// Raw device and connection callbacks are translated into session events and
// applied through a single dispatcher, so events for a session reach the
// registry in the order the transport produced them.
package signal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/dialdesk/internal/call"
	"github.com/petervdpas/dialdesk/internal/token"
	"github.com/petervdpas/dialdesk/internal/util"
)

var dlog = logging.Logger("signal")

// Credentials issues and refreshes device tokens.
type Credentials interface {
	FetchToken(ctx context.Context, identity string) (token.Credential, error)
	RefreshToken(ctx context.Context, identity string) (token.Credential, error)
}

// MetaResolver looks up the display identity for a phone number.
type MetaResolver interface {
	Lookup(ctx context.Context, number string) (call.Meta, bool, error)
}

// Adapter is the single writer of the device state.
type Adapter struct {
	dev   Device
	creds Credentials
	reg   *call.Registry
	meta  MetaResolver
	opts  Options

	mu         sync.Mutex
	state      call.DeviceState
	rearming   bool
	refreshing bool // token refresh in flight
	identity   string
	attached   map[string]struct{}

	newID func() string
	done  chan struct{}
	wg    sync.WaitGroup
}

// New creates an Adapter and starts draining dev's notifications. meta may
// be nil, in which case every session gets default display metadata.
func New(dev Device, creds Credentials, reg *call.Registry, meta MetaResolver, opts Options) *Adapter {
	a := &Adapter{
		dev:      dev,
		creds:    creds,
		reg:      reg,
		meta:     meta,
		opts:     opts,
		state:    call.DeviceUninitialized,
		attached: make(map[string]struct{}),
		newID:    newSessionID,
		done:     make(chan struct{}),
	}
	if opts.Debug {
		logging.SetLogLevel("signal", "debug")
	}
	a.wg.Add(1)
	go a.dispatchLoop()
	return a
}

// newSessionID mints a dial-time session id in the vendor's CallSid shape.
func newSessionID() string {
	return "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// State returns the effective device state (busy while a call is open).
func (a *Adapter) State() call.DeviceState {
	return a.reg.Snapshot().Device
}

// Connect fetches a credential for identity and sets the device up with it.
// A failed token fetch leaves the device state untouched unless a device was
// already set up, in which case it is marked errored.
func (a *Adapter) Connect(ctx context.Context, identity string) error {
	cred, err := a.creds.FetchToken(ctx, identity)
	if err != nil {
		log.Printf("SIGNAL: could not get a token from server: %v", err)
		a.mu.Lock()
		if a.state != call.DeviceUninitialized {
			a.setStateLocked(call.DeviceError, false)
		}
		a.mu.Unlock()
		return err
	}

	a.mu.Lock()
	a.identity = identity
	a.mu.Unlock()

	if err := a.dev.Setup(ctx, cred, a.opts); err != nil {
		te := &TransportError{Reason: fmt.Sprintf("setup: %v", err)}
		log.Printf("SIGNAL: %v", te)
		a.mu.Lock()
		a.setStateLocked(call.DeviceError, false)
		a.mu.Unlock()
		return te
	}
	log.Printf("SIGNAL: device set up for %s, waiting for ready", cred.Identity)
	return nil
}

// Dial places an outbound call and returns its session id. The session
// exists in the registry before the device sees the request.
func (a *Adapter) Dial(ctx context.Context, number string) (string, error) {
	to, err := util.NormalizeNumber(number)
	if err != nil {
		return "", &DialError{Number: number, Reason: DialMalformed, Err: err}
	}

	a.mu.Lock()
	rearming := a.rearming
	a.mu.Unlock()
	if st := a.State(); !st.CanDial() || rearming {
		return "", &DialError{Number: to, Reason: DialNotReady, Err: fmt.Errorf("device is %s", st)}
	}

	id := a.newID()
	a.attach(id)
	a.reg.Apply(call.Event{
		SessionID: id,
		Kind:      call.EventCreate,
		Direction: call.Outbound,
		Number:    to,
		Meta:      a.resolveMeta(ctx, to, call.Outbound),
	})

	if err := a.dev.Connect(ctx, id, to); err != nil {
		a.reg.Apply(call.Event{SessionID: id, Kind: call.EventClosedLocally})
		a.detach(id)
		return "", &DialError{Number: to, Reason: DialRefused, Err: err}
	}
	log.Printf("SIGNAL: dialing %s as %s", to, id)
	return id, nil
}

// Accept answers an inbound offer.
func (a *Adapter) Accept(sessionID string) error {
	if !a.reg.Has(sessionID) {
		return fmt.Errorf("accept %s: %w", sessionID, ErrUnknownSession)
	}
	return a.dev.Accept(sessionID)
}

// Reject declines an inbound offer. The session leaves the registry when the
// device reports the rejection.
func (a *Adapter) Reject(sessionID string) error {
	if !a.reg.Has(sessionID) {
		return fmt.Errorf("reject %s: %w", sessionID, ErrUnknownSession)
	}
	return a.dev.Reject(sessionID)
}

// Disconnect hangs up a session.
func (a *Adapter) Disconnect(sessionID string) error {
	if !a.reg.Has(sessionID) {
		return fmt.Errorf("disconnect %s: %w", sessionID, ErrUnknownSession)
	}
	return a.dev.Disconnect(sessionID)
}

// Close stops the dispatcher and shuts the device down. Outstanding token
// refreshes finish on their own.
func (a *Adapter) Close() error {
	select {
	case <-a.done:
		return nil
	default:
		close(a.done)
	}
	err := a.dev.Close()
	a.wg.Wait()
	return err
}

func (a *Adapter) dispatchLoop() {
	defer a.wg.Done()
	ch := a.dev.Notifications()
	for {
		select {
		case <-a.done:
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			a.dispatch(n)
		}
	}
}

// dispatch routes one notification. Connection-level notifications only
// reach sessions the adapter attached; everything else is dropped.
func (a *Adapter) dispatch(n Notification) {
	dlog.Debugw("notification", "scope", n.Scope, "event", n.Name, "session", n.SessionID)

	if n.Scope == ScopeConnection {
		if !a.isAttached(n.SessionID) {
			dlog.Debugw("unattached connection event dropped", "event", n.Name, "session", n.SessionID)
			return
		}
		kind, ok := connectionEvents[n.Name]
		if !ok {
			dlog.Debugw("unknown connection event", "event", n.Name)
			return
		}
		a.forward(n.SessionID, kind)
		return
	}

	switch n.Name {
	case DeviceReady:
		a.mu.Lock()
		a.setStateLocked(call.DeviceReady, false)
		a.mu.Unlock()
		log.Printf("SIGNAL: device ready")

	case DeviceErrorEvent:
		te := &TransportError{Reason: n.Reason}
		log.Printf("SIGNAL: %v", te)
		a.mu.Lock()
		a.setStateLocked(call.DeviceError, a.refreshing)
		a.mu.Unlock()

	case DeviceIncoming:
		if n.SessionID == "" {
			return
		}
		log.Printf("SIGNAL: incoming connection from %s (%s)", n.From, n.SessionID)
		a.attach(n.SessionID)
		a.reg.Apply(call.Event{
			SessionID: n.SessionID,
			Kind:      call.EventCreate,
			Direction: call.Inbound,
			Number:    n.From,
			Meta:      a.resolveMeta(context.Background(), n.From, call.Inbound),
		})

	case DeviceConnect:
		a.forward(n.SessionID, call.EventOpened)

	case DeviceDisconnect:
		a.forward(n.SessionID, call.EventDisconnectedRemote)

	case DeviceOffline:
		a.goOffline()

	default:
		dlog.Debugw("unknown device event", "event", n.Name)
	}
}

var connectionEvents = map[string]call.EventKind{
	ConnPending:    call.EventCreate,
	ConnConnecting: call.EventConnecting,
	ConnRinging:    call.EventRingingRemote,
	ConnOpen:       call.EventOpened,
	ConnAccept:     call.EventAcceptedByRemote,
	ConnReject:     call.EventRejectedByRemote,
	ConnCancel:     call.EventCancelledByCaller,
	ConnClosed:     call.EventClosedLocally,
	ConnDisconnect: call.EventDisconnectedRemote,
}

func (a *Adapter) forward(id string, kind call.EventKind) {
	if id == "" {
		return
	}
	// pending only confirms a session that already exists.
	if kind == call.EventCreate {
		return
	}
	if a.reg.Apply(call.Event{SessionID: id, Kind: kind}) == call.Evicted {
		a.detach(id)
	}
}

// goOffline marks the device offline and re-arms it with a refreshed token
// in the background. Sessions are left alone. Only one refresh runs at a
// time; an offline after it finished schedules a new one.
func (a *Adapter) goOffline() {
	a.mu.Lock()
	identity := a.identity
	already := a.refreshing
	a.setStateLocked(call.DeviceOffline, identity != "")
	if identity != "" && !already {
		a.refreshing = true
	}
	a.mu.Unlock()

	if identity == "" {
		log.Printf("SIGNAL: device offline before any identity was connected")
		return
	}
	if already {
		return
	}
	log.Printf("SIGNAL: device offline, refreshing token for %s", identity)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.rearm(identity)
	}()
}

func (a *Adapter) rearm(identity string) {
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultSetupTimeout)
	defer cancel()
	go func() {
		select {
		case <-a.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	cred, err := a.creds.RefreshToken(ctx, identity)

	// Released before setup: an offline or error answering the new setup
	// must be able to schedule the next refresh.
	a.mu.Lock()
	a.refreshing = false
	if err != nil {
		a.setStateLocked(a.state, false)
	}
	a.mu.Unlock()
	if err != nil {
		log.Printf("SIGNAL: token refresh failed, device stays offline: %v", err)
		return
	}
	if err := a.dev.Setup(ctx, cred, a.opts); err != nil {
		log.Printf("SIGNAL: %v", &TransportError{Reason: fmt.Sprintf("re-arm: %v", err)})
		a.endRearm()
		return
	}
	log.Printf("SIGNAL: token refreshed, device re-armed")
}

func (a *Adapter) endRearm() {
	a.mu.Lock()
	a.setStateLocked(a.state, a.refreshing)
	a.mu.Unlock()
}

func (a *Adapter) setStateLocked(s call.DeviceState, rearming bool) {
	a.state = s
	a.rearming = rearming
	a.reg.SetDevice(s, rearming)
}

func (a *Adapter) resolveMeta(ctx context.Context, number string, dir call.Direction) call.Meta {
	def := DefaultMeta(number, dir)
	if a.meta == nil {
		return def
	}
	key := number
	if n, err := util.NormalizeNumber(number); err == nil {
		key = n
	}
	m, ok, err := a.meta.Lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("SIGNAL: lead lookup for %s failed: %v", number, err)
		}
		return def
	}
	if !ok {
		return def
	}
	if m.PhoneNumber == "" {
		m.PhoneNumber = number
	}
	return m
}

// DefaultMeta is the placeholder identity used when no lead matches.
func DefaultMeta(number string, dir call.Direction) call.Meta {
	lead := "123"
	if dir == call.Outbound {
		lead = "12345"
	}
	return call.Meta{LeadID: lead, FirstName: "John", LastName: "Doe", PhoneNumber: number}
}

func (a *Adapter) attach(id string) {
	a.mu.Lock()
	a.attached[id] = struct{}{}
	a.mu.Unlock()
}

func (a *Adapter) detach(id string) {
	a.mu.Lock()
	delete(a.attached, id)
	a.mu.Unlock()
}

func (a *Adapter) isAttached(id string) bool {
	a.mu.Lock()
	_, ok := a.attached[id]
	a.mu.Unlock()
	return ok
}
