package eqws

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

const wsWriteTimeout = time.Second

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// wsTransport is a Transport over a single websocket connection. Dialing
	// and reading happen on their own goroutine; writes are serialized.
	wsTransport struct {
		errAdapters              ErrorAdapters
		openConnectionParamsRepo OpenConnectionParamsRepo
		logger                   logger
		dialer                   *websocket.Dialer
		address                  string

		handlersMu sync.RWMutex
		handlers   TransportHandlers

		state  atomic.Int32
		binary atomic.Bool

		writeMu sync.Mutex
		conn    *websocket.Conn
		cancel  context.CancelFunc

		closeOnce sync.Once
	}
)

// NewWebsocketTransportFactory returns a TransportFactory dialing with the given dialer.
// The dial happens asynchronously; the factory only fails for addresses that
// can never be dialed.
func NewWebsocketTransportFactory(
	logger logger,
	dialer *websocket.Dialer,
	openConnectionParamsRepo OpenConnectionParamsRepo,
	errorHandlers ErrorAdapters,
) TransportFactory {
	return func(ctx context.Context, address string, h TransportHandlers) (Transport, error) {
		if _, err := parseWebsocketURL(address); err != nil {
			return nil, err
		}

		t := newWebsocketTransport(logger, dialer, openConnectionParamsRepo, errorHandlers, address, h)

		ctx, cancel := context.WithCancel(ctx)
		t.cancel = cancel

		go t.start(ctx)

		return t, nil
	}
}

// DefaultTransportFactory dials with websocket.DefaultDialer and no extra headers.
func DefaultTransportFactory(logger logger) TransportFactory {
	return NewWebsocketTransportFactory(
		logger,
		websocket.DefaultDialer,
		NewOpenConnectionParamsRepo(logger, StaticHeaderParams(nil)),
		ErrorAdapters{},
	)
}

func newWebsocketTransport(
	logger logger,
	dialer *websocket.Dialer,
	openConnectionParamsRepo OpenConnectionParamsRepo,
	errorHandlers ErrorAdapters,
	address string,
	h TransportHandlers,
) *wsTransport {
	t := &wsTransport{
		errAdapters:              errorHandlers,
		openConnectionParamsRepo: openConnectionParamsRepo,
		logger:                   logger.WithField("net", "ws_transport"),
		dialer:                   dialer,
		address:                  address,
		handlers:                 h,
	}
	t.state.Store(int32(StateConnecting))
	return t
}

func (w *wsTransport) ReadyState() ReadyState {
	return ReadyState(w.state.Load())
}

func (w *wsTransport) SetBinary(binary bool) {
	w.binary.Store(binary)
}

func (w *wsTransport) SetHandlers(h TransportHandlers) {
	w.handlersMu.Lock()
	w.handlers = h
	w.handlersMu.Unlock()
}

func (w *wsTransport) currentHandlers() TransportHandlers {
	w.handlersMu.RLock()
	defer w.handlersMu.RUnlock()
	return w.handlers
}

// Send writes a single frame. Text or binary framing follows SetBinary.
func (w *wsTransport) Send(data []byte) error {
	if w.ReadyState() != StateOpen {
		return ErrTransportNotOpen
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	frameType := websocket.TextMessage
	if w.binary.Load() {
		frameType = websocket.BinaryMessage
	}

	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteMessage(frameType, data); err != nil {
		return errors.Wrap(ErrConnectionClosed, err.Error())
	}

	w.logger.Debugf("=> [%d] %d bytes", frameType, len(data))
	return nil
}

// Close starts the closing handshake, or aborts the dial if still connecting.
// OnClose fires from the reading goroutine once everything is released.
func (w *wsTransport) Close() error {
	for {
		current := w.state.Load()
		if current == int32(StateClosing) || current == int32(StateClosed) {
			return nil
		}
		if w.state.CompareAndSwap(current, int32(StateClosing)) {
			break
		}
	}

	w.writeMu.Lock()
	if w.conn != nil {
		w.logger.Infoln("closing connection from our side")
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteTimeout),
		)
		_ = w.conn.Close()
	}
	w.writeMu.Unlock()

	w.cancel()
	return nil
}

func (w *wsTransport) closing() bool {
	return w.ReadyState() == StateClosing
}

func (w *wsTransport) start(ctx context.Context) {
	p, err := w.openConnectionParamsRepo.Get(ctx, w.address)
	if err != nil {
		w.fail(err)
		return
	}

	conn, resp, err := w.dialer.DialContext(ctx, p.URL.String(), p.Header)
	if err = w.handleDialError(conn, resp, err); err != nil {
		if w.closing() {
			w.finish(ErrTerminated)
			return
		}
		w.logger.Errorf("connection err to %s: %s", p.URL.String(), err)
		w.fail(err)
		return
	}

	w.writeMu.Lock()
	if !w.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		// Close won the race while we were dialing.
		w.writeMu.Unlock()
		_ = conn.Close()
		w.finish(ErrTerminated)
		return
	}
	w.conn = conn
	w.writeMu.Unlock()

	w.logger.Debugf("success opening connection to %s", p.URL.String())
	w.currentHandlers().open()

	w.read(conn)
}

func (w *wsTransport) read(conn *websocket.Conn) {
	for {
		messageType, bts, err := conn.ReadMessage()
		if err != nil {
			if w.closing() {
				w.finish(ErrTerminated)
				return
			}

			w.logger.Errorf("error occurred on websocket read: %s", err)
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.currentHandlers().error(errors.Wrap(ErrConnectionClosed, err.Error()))
			}
			w.finish(errors.Wrap(ErrConnectionClosed, "error occurred on websocket read: "+err.Error()))
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			w.logger.Debugln("<= [BIN]")
		default:
			w.logger.Debugf("<= [DATA] %s", string(bts))
		}

		w.currentHandlers().message(bts)
	}
}

func (w *wsTransport) fail(err error) {
	w.currentHandlers().error(err)
	w.finish(err)
}

func (w *wsTransport) finish(reason error) {
	w.closeOnce.Do(func() {
		w.state.Store(int32(StateClosed))

		w.writeMu.Lock()
		if w.conn != nil {
			_ = w.conn.Close()
		}
		w.writeMu.Unlock()

		w.cancel()
		w.currentHandlers().close(reason)
	})
}

func (w *wsTransport) handleDialError(conn *websocket.Conn, resp *http.Response, err error) error {
	if w.errAdapters.OnDial != nil {
		return w.errAdapters.OnDial(conn, resp, err)
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil && resp.Body != nil {
		bts, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr == nil {
			msg = string(bts)
		}
	}

	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if conn != nil {
			_ = conn.Close()
		}
		return errors.Wrap(ErrRateLimit, msg)
	}

	// 2. Network errors
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	return nil
}
