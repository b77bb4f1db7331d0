package eqws

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed  = errors.New("connection has been closed")
	ErrCannotConnect     = errors.New("connection cannot be established")
	ErrRateLimit         = errors.New("rate limit exceeded")
	ErrTerminated        = errors.New("connection terminated by client")
	ErrTransportNotOpen  = errors.New("transport is not open")
	ErrMalformedPacket   = errors.New("malformed packet")
	ErrInvalidPacket     = errors.New("invalid packet")
	ErrRPCTimeout        = errors.New("rpc call timed out")
	ErrRPCApplication    = errors.New("rpc application error")
	ErrOutboundQueueFull = errors.New("outbound queue is full")
	ErrSocketClosed      = errors.New("socket has been closed")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// RPCError is the application error carried by an RPC response whose code is set.
type RPCError struct {
	Code    any
	Message string
}

func NewRPCError(code any, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %v: %s", e.Code, e.Message)
}

func (e *RPCError) Is(target error) bool { return target == ErrRPCApplication }

// ErrUnreachableAddress is returned by transport factories when the address
// can never be dialed, e.g. it does not parse as a websocket URL.
type ErrUnreachableAddress struct {
	err     error
	address string
}

func (e ErrUnreachableAddress) Error() string {
	return fmt.Sprintf("unreachable address %q: %s", e.address, e.err)
}

func (e ErrUnreachableAddress) Unwrap() error { return e.err }

func wrapErrUnreachableAddress(err error, address string) error {
	if err == nil {
		return nil
	}
	return ErrUnreachableAddress{err: err, address: address}
}

func parseWebsocketURL(address string) (*url.URL, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, wrapErrUnreachableAddress(err, address)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, wrapErrUnreachableAddress(errors.Errorf("unsupported scheme %q", u.Scheme), address)
	}
	if u.Host == "" {
		return nil, wrapErrUnreachableAddress(errors.New("missing host"), address)
	}
	return u, nil
}
