package eqws

import (
	"context"
)

type (
	// Client is the interface that defines the behavior of a client. This includes opening and closing connections,
	// sending messages and events, issuing rpc calls and subscribing to local events.
	Client interface {
		// Open starts connecting to the server. The connection is kept alive until Close or ctx is done.
		Open(ctx context.Context) error
		// Send sends a message, or a raw Packet, to the server
		Send(payload any) error
		// Emit sends an event to the server. Reserved local event names are never sent.
		Emit(event string, args ...any) error
		// Call issues an rpc and waits for its response
		Call(ctx context.Context, method string, args any) (any, error)
		// Reconnect drops the current connection and dials a new one
		Reconnect()
		// On subscribes to a local event. The returned function unsubscribes.
		On(event string, fn Listener) func()
		// Close closes the connection with the server
		Close() error
	}

	// Listener receives the arguments of a local event.
	Listener func(args ...any)
)

var _ Client = (*Socket)(nil)
