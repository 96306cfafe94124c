// Package venue abstracts the engine's reach to external markets: a
// Connection is "send bytes to venue V, receive raw packets tagged with
// a protocol and timestamp". Venue-specific auth and framing live in the
// concrete implementations, never in the callers.
package venue

import (
	"context"

	"arbflow/models"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// DataHandler receives every raw packet as it arrives. It runs on the
// connection's read goroutine and must hand off quickly (push to a ring)
// rather than process inline.
type DataHandler func(models.RawPacket)

// StateHandler observes lifecycle transitions.
type StateHandler func(State)

// ErrorHandler observes connection-level failures, including reconnect
// exhaustion.
type ErrorHandler func(error)

// Connection is the capability the engine holds per venue. The three
// callback slots must be set before Connect.
type Connection interface {
	Protocol() models.Protocol
	State() State

	Connect(ctx context.Context) error
	Disconnect() error

	// Send writes one opaque frame to the venue. It fails when the
	// connection is not in the connected state.
	Send(data []byte) error

	Subscribe(channel string) error
	Unsubscribe(channel string) error

	OnData(DataHandler)
	OnStateChange(StateHandler)
	OnError(ErrorHandler)
}
