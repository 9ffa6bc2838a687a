package signal

import (
	"errors"
	"fmt"
)

var (
	ErrDial           = errors.New("dial failed")
	ErrTransport      = errors.New("signaling transport error")
	ErrUnknownSession = errors.New("unknown session")
)

// DialReason classifies a refused dial.
type DialReason string

const (
	DialMalformed DialReason = "malformed number"
	DialNotReady  DialReason = "device not ready"
	DialRefused   DialReason = "device refused"
)

// DialError is returned synchronously by Adapter.Dial; no session exists
// afterwards.
type DialError struct {
	Number string
	Reason DialReason
	Err    error
}

func (e *DialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dial %q: %s: %v", e.Number, e.Reason, e.Err)
	}
	return fmt.Sprintf("dial %q: %s", e.Number, e.Reason)
}

func (e *DialError) Unwrap() error { return e.Err }

func (e *DialError) Is(target error) bool { return target == ErrDial }

// TransportError is a device-reported failure. Sessions are left to the
// transport; the device is marked as errored.
type TransportError struct {
	Reason string
}

func (e *TransportError) Error() string { return "signaling device: " + e.Reason }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
