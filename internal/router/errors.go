package router

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrAlreadyStarted = errors.New("router already started")
	ErrNotStarted     = errors.New("router not started")
	ErrStopped        = errors.New("router stopped")
)

// BindError is returned by Start when an endpoint cannot be bound. No
// endpoint is left open when it is returned.
type BindError struct {
	Addr netip.AddrPort
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// SendError is returned by SendUpdate. The router state is unaffected.
type SendError struct {
	Dest netip.AddrPort
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send update to %s: %v", e.Dest, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
