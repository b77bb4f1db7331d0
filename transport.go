package eqws

import "context"

type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type (
	// TransportHandlers are the callbacks a Transport fires. Nil handlers are no-ops.
	TransportHandlers struct {
		OnOpen    func()
		OnClose   func(reason error)
		OnMessage func(data []byte)
		OnError   func(err error)
	}

	// Transport is a persistent bidirectional byte-stream connection.
	Transport interface {
		// ReadyState reports the connection state. Only StateOpen accepts writes.
		ReadyState() ReadyState

		// SetBinary selects binary (true) or text (false) frames for Send.
		SetBinary(binary bool)

		// Send writes one frame.
		Send(data []byte) error

		// Close tears the connection down. OnClose fires once the transport is closed.
		Close() error

		// SetHandlers replaces the callbacks. Passing the zero value detaches them.
		SetHandlers(h TransportHandlers)
	}

	// TransportFactory builds a Transport that starts connecting to address in
	// the background. A returned error means the transport could not even be
	// constructed; connection failures are reported through the handlers.
	TransportFactory func(ctx context.Context, address string, h TransportHandlers) (Transport, error)
)

func (h TransportHandlers) open() {
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h TransportHandlers) close(reason error) {
	if h.OnClose != nil {
		h.OnClose(reason)
	}
}

func (h TransportHandlers) message(data []byte) {
	if h.OnMessage != nil {
		h.OnMessage(data)
	}
}

func (h TransportHandlers) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}
