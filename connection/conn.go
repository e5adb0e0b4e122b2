// Package connection defines the duplex, message-oriented connection the RPC
// transport runs on, and a WebSocket implementation of it.
//
// A Conn delivers raw text payloads in order on a single goroutine and reports
// its lifecycle through single-slot handlers. It makes no promise that one
// delivery holds exactly one logical message; that is the transport's problem.
package connection

import (
	"context"
	"errors"
)

// ErrNotOpen is returned by Send when the connection is not open.
var ErrNotOpen = errors.New("connection: not open")

// State is the lifecycle state of a connection. A connection that was never
// opened, or whose last session ended, reports StateClosed; it may be opened
// again, which starts a fresh session.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// CloseEvent describes how a session ended.
type CloseEvent struct {
	Code     int    `json:"code"`
	Reason   string `json:"reason,omitempty"`
	WasClean bool   `json:"wasClean"`
}

// Handlers are the connection's event hooks. Each is a single slot: calling
// SetHandlers replaces all four. OnMessage and OnClose are called from the
// connection's reader goroutine, in delivery order.
type Handlers struct {
	OnOpen    func()
	OnClose   func(CloseEvent)
	OnError   func(error)
	OnMessage func(text string)
}

// Conn is the capability the transport consumes.
type Conn interface {
	// Open starts a session. It is a no-op while a session is open or being
	// established. A failed attempt reports OnError followed by OnClose.
	Open(ctx context.Context) error
	// Send writes one text payload.
	Send(text string) error
	State() State
	SetHandlers(h Handlers)
	// Close ends the current session; OnClose follows.
	Close() error
}
