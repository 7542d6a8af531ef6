package syncclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"

	"github.com/latticesync/syncclient/internal/wire"
)

type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// SessionHandler is the per-Session callback surface a Connection drives (spec.md §4.2). A
// Session registers one of these via Enlist and is served fairly in FIFO order on the shared
// write path.
type SessionHandler interface {
	SessionIdent() uint64
	// OnConnectionEstablished is called once per successful connect, before any message is
	// dispatched, so the session can (re)send BIND/IDENT.
	OnConnectionEstablished()
	// OnConnectionTerminated is called once the connection drops, with the reason (spec.md §4.2).
	OnConnectionTerminated(reason TerminationReason)
	// HandleMessage dispatches one decoded server->client message to the session.
	HandleMessage(message any) error
	// NextOutbound is invoked when it is this session's turn in the FIFO. Returning ok=false
	// passes the write slot to the next enlisted session (spec.md §4.2, "Enlist-to-send").
	NextOutbound() (message any, ok bool)
}

// Dialer opens the underlying WebSocket, returning the handshake's HTTP response alongside the
// connection so a failed dial can be classified by status code (spec.md §4.1). Exposed as a
// field so tests can stub the transport without touching a real network, mirroring the teacher's
// TransportGenerator hook in transport.go.
type Dialer func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error)

func defaultDialer(ctx context.Context, url string) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.DialContext(ctx, url, nil)
}

// Connection owns exactly one WebSocket to a ServerEndpoint, runs the heartbeat, and fairly
// multiplexes any number of Sessions onto it (spec.md §4.2). Grounded on the teacher's
// transport.go PlatformTransport.run(): reconnect loop, read/write goroutines tied by a
// handleCtx, Trace-wrapped connect. The wire codec and fairness scheduler are new; the teacher's
// transfer-specific auth handshake and route manager wiring are replaced by BIND/IDENT.
type Connection struct {
	ctx    context.Context
	cancel context.CancelFunc

	endpoint ServerEndpoint
	config   *Config
	dialer   Dialer

	controller *Controller
	rtt        *RttWindow

	mutex     sync.Mutex
	state     ConnectionState
	activated bool
	sessions  map[uint64]SessionHandler
	fifo      []uint64

	enlisted chan struct{}

	lastPing    PingTag
	pongOverdue bool
}

func NewConnection(ctx context.Context, endpoint ServerEndpoint, config *Config, controller *Controller) *Connection {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Connection{
		ctx:        cancelCtx,
		cancel:     cancel,
		endpoint:   endpoint,
		config:     config,
		dialer:     defaultDialer,
		controller: controller,
		rtt: NewRttWindow(
			config.RttWindowSize,
			config.RttWindowTimeout,
			config.RttScale,
			config.MinScaledRtt,
			config.MaxScaledRtt,
		),
		sessions: map[uint64]SessionHandler{},
		enlisted: make(chan struct{}, 1),
	}
}

func (self *Connection) State() ConnectionState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

func (self *Connection) RttWindow() *RttWindow {
	return self.rtt
}

// Activate arms the connection loop. Calling it more than once is a no-op (spec.md §4.2,
// "Activate: an external call that arms the first reconnect-wait").
func (self *Connection) Activate() {
	self.mutex.Lock()
	if self.activated {
		self.mutex.Unlock()
		return
	}
	self.activated = true
	self.mutex.Unlock()

	go self.run()
}

func (self *Connection) Close() {
	self.cancel()
}

// Enlist registers a session to participate in the fair write schedule and message dispatch. A
// session enlisted while the connection is already Connected is notified immediately.
func (self *Connection) Enlist(handler SessionHandler) {
	self.mutex.Lock()
	ident := handler.SessionIdent()
	self.sessions[ident] = handler
	self.fifo = append(self.fifo, ident)
	connected := self.state == ConnectionConnected
	self.mutex.Unlock()

	if connected {
		handler.OnConnectionEstablished()
	}
	self.notifyEnlisted()
}

func (self *Connection) Unlist(sessionIdent uint64) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.sessions, sessionIdent)
	for i, ident := range self.fifo {
		if ident == sessionIdent {
			self.fifo = append(self.fifo[:i], self.fifo[i+1:]...)
			break
		}
	}
}

func (self *Connection) sessionFor(sessionIdent uint64) (SessionHandler, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	h, ok := self.sessions[sessionIdent]
	return h, ok
}

func (self *Connection) notifyEnlisted() {
	select {
	case self.enlisted <- struct{}{}:
	default:
	}
}

func (self *Connection) run() {
	defer self.cancel()

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		if err := self.controller.WaitUntilPermitted(self.ctx, self.endpoint); err != nil {
			return
		}

		self.setState(ConnectionConnecting)

		connectCtx, connectCancel := context.WithTimeout(self.ctx, self.config.ConnectTimeout)
		ws, resp, err := self.dialer(connectCtx, self.endpoint.WebsocketURL("/sync"))
		connectCancel()

		if err != nil {
			glog.Infof("[conn]%s connect failed: %s", self.endpoint, err)
			self.terminate(classifyConnectError(err, resp), nil, time.Now())
			select {
			case <-self.ctx.Done():
				return
			default:
				continue
			}
		}

		signal := self.serve(ws)
		select {
		case <-self.ctx.Done():
			return
		default:
		}
		self.terminate(signal.reason, signal.resumptionInfo, signal.at)
	}
}

func (self *Connection) setState(state ConnectionState) {
	self.mutex.Lock()
	self.state = state
	self.mutex.Unlock()
}

func (self *Connection) terminate(reason TerminationReason, resumptionInfo *ResumptionDelayInfo, errorReceivedAt time.Time) {
	self.setState(ConnectionDisconnected)

	self.mutex.Lock()
	handlers := make([]SessionHandler, 0, len(self.sessions))
	for _, h := range self.sessions {
		handlers = append(handlers, h)
	}
	self.mutex.Unlock()

	for _, h := range handlers {
		HandleError(func() {
			h.OnConnectionTerminated(reason)
		})
	}

	self.controller.OnTerminated(self.endpoint, reason, resumptionInfo, errorReceivedAt)
}

// terminationSignal threads a TerminationReason, an optional server-provided resumption
// schedule, and the moment the failure was observed through reasonCh and back to run()'s call
// to terminate() (spec.md §4.1, §6.1): a connection-scoped ERROR's try_again schedule has to
// reach Controller.OnTerminated verbatim, and ReasonServerSaidTryAgainLater's delay clock starts
// at the moment the ERROR was received, not at the moment serve() returns.
type terminationSignal struct {
	reason         TerminationReason
	resumptionInfo *ResumptionDelayInfo
	at             time.Time
}

// serve runs one connected session of the WebSocket: heartbeat, write scheduler, read loop. It
// returns the terminationSignal once any of those stops.
func (self *Connection) serve(ws *websocket.Conn) terminationSignal {
	defer ws.Close()

	self.setState(ConnectionConnected)

	self.mutex.Lock()
	handlers := make([]SessionHandler, 0, len(self.sessions))
	for _, h := range self.sessions {
		handlers = append(handlers, h)
	}
	self.mutex.Unlock()
	for _, h := range handlers {
		HandleError(h.OnConnectionEstablished)
	}

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	reasonCh := make(chan terminationSignal, 3)

	go self.writeLoop(handleCtx, handleCancel, ws, reasonCh)
	go self.readLoop(handleCtx, handleCancel, ws, reasonCh)
	go self.heartbeatLoop(handleCtx, handleCancel, ws, reasonCh)

	<-handleCtx.Done()

	select {
	case signal := <-reasonCh:
		return signal
	default:
		return terminationSignal{reason: ReasonClosedVoluntarily, at: time.Now()}
	}
}

func (self *Connection) writeLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, reasonCh chan<- terminationSignal) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-self.enlisted:
		case <-time.After(50 * time.Millisecond):
		}

		self.mutex.Lock()
		fifo := append([]uint64{}, self.fifo...)
		self.mutex.Unlock()

		for _, ident := range fifo {
			handler, ok := self.sessionFor(ident)
			if !ok {
				continue
			}

			message, ok := handler.NextOutbound()
			if !ok {
				continue
			}

			encoded, err := wire.EncodeEnvelope(message)
			if err != nil {
				glog.Infof("[conn]encode error for session %d: %s", ident, err)
				continue
			}

			ws.SetWriteDeadline(time.Now().Add(self.config.PongKeepaliveTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, encoded); err != nil {
				select {
				case reasonCh <- terminationSignal{reason: classifyCloseError(err), at: time.Now()}:
				default:
				}
				return
			}
		}
	}
}

func (self *Connection) readLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, reasonCh chan<- terminationSignal) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case reasonCh <- terminationSignal{reason: classifyCloseError(err), at: time.Now()}:
			default:
			}
			return
		}

		message, err := wire.DecodeEnvelope(data)
		if err != nil {
			glog.Infof("[conn]decode error: %s", err)
			select {
			case reasonCh <- terminationSignal{reason: ReasonSyncProtocolViolation, at: time.Now()}:
			default:
			}
			return
		}

		if ok, signal := self.dispatch(message); !ok {
			select {
			case reasonCh <- signal:
			default:
			}
			return
		}
	}
}

// dispatch routes one decoded message to its session, or handles it itself (PONG, connection-
// scoped ERROR). Returns ok=false on an unroutable/malformed message or a connection-scoped
// failure, carrying the terminationSignal the caller should hand to terminate().
func (self *Connection) dispatch(message any) (bool, terminationSignal) {
	switch m := message.(type) {
	case *wire.Pong:
		self.handlePong(m)
		return true, terminationSignal{}
	case *wire.IdentResponse:
		return self.dispatchToSession(m.SessionIdent, m)
	case *wire.Download:
		return self.dispatchToSession(m.SessionIdent, m)
	case *wire.MarkAck:
		return self.dispatchToSession(m.SessionIdent, m)
	case *wire.Unbound:
		return self.dispatchToSession(m.SessionIdent, m)
	case *wire.QueryError:
		return self.dispatchToSession(m.SessionIdent, m)
	case *wire.TestCommandReply:
		return self.dispatchToSession(m.SessionIdent, m)
	case *wire.Error:
		return self.dispatchError(m)
	default:
		return false, terminationSignal{reason: ReasonSyncProtocolViolation, at: time.Now()}
	}
}

// dispatchToSession hands a decoded message to its enlisted session. A message addressed to a
// session that is no longer enlisted (it raced an Unlist/deactivate) is dropped rather than
// treated as a protocol violation, since the server has no way to know the client already tore
// the session down (spec.md §4.2).
func (self *Connection) dispatchToSession(sessionIdent uint64, message any) (bool, terminationSignal) {
	h, ok := self.sessionFor(sessionIdent)
	if !ok {
		return true, terminationSignal{}
	}
	if err := h.HandleMessage(message); err != nil {
		return false, terminationSignal{reason: ReasonSyncProtocolViolation, at: time.Now()}
	}
	return true, terminationSignal{}
}

// dispatchError routes one ERROR frame (spec.md §6.1, §7). A SessionIdent naming a still-
// enlisted session is session-scoped and goes through that Session's HandleMessage exactly like
// any other message; everything else — SessionIdent zero, or a SessionIdent this Connection no
// longer recognizes — is connection-scoped and terminates the transport directly instead of
// being silently dropped, carrying the server's resumption schedule and reconnect action into
// the TerminationReason the reconnect Controller consumes.
func (self *Connection) dispatchError(m *wire.Error) (bool, terminationSignal) {
	if m.SessionIdent != 0 {
		if h, ok := self.sessionFor(m.SessionIdent); ok {
			if err := h.HandleMessage(m); err != nil {
				return false, terminationSignal{reason: ReasonSyncProtocolViolation, at: time.Now()}
			}
			return true, terminationSignal{}
		}
	}

	self.broadcastError(m)

	resumptionInfo := resumptionInfoFromWire(m.ResumptionDelay)
	if m.TryAgain {
		return false, terminationSignal{reason: ReasonServerSaidTryAgainLater, resumptionInfo: resumptionInfo, at: time.Now()}
	}

	switch ErrorAction(m.Action) {
	case ActionDeleteRealm, ActionProtocolViolation:
		return false, terminationSignal{reason: ReasonServerSaidDoNotReconnect, at: time.Now()}
	default:
		return false, terminationSignal{reason: ReasonSyncProtocolViolation, at: time.Now()}
	}
}

// broadcastError logs a connection-scoped ERROR. It carries no SessionIdent any live Session
// owns, so there is nothing further downstream to notify (spec.md §6.1).
func (self *Connection) broadcastError(m *wire.Error) {
	glog.Warningf("[conn]%s connection error code=%d action=%s try_again=%v: %s",
		self.endpoint, m.RawErrorCode, ErrorAction(m.Action), m.TryAgain, m.Message)
}

// resumptionInfoFromWire converts the wire encoding of a server-provided backoff schedule
// (millisecond fields, spec.md §6.1) into the Duration-based ResumptionDelayInfo the reconnect
// Controller consumes (spec.md §4.1).
func resumptionInfoFromWire(info *wire.ResumptionDelayInfo) *ResumptionDelayInfo {
	if info == nil {
		return nil
	}
	return &ResumptionDelayInfo{
		Initial:    time.Duration(info.InitialMillis) * time.Millisecond,
		Multiplier: info.Multiplier,
		Cap:        time.Duration(info.CapMillis) * time.Millisecond,
	}
}

func (self *Connection) handlePong(pong *wire.Pong) {
	self.mutex.Lock()
	tag := self.lastPing
	self.pongOverdue = false
	self.mutex.Unlock()

	if tag.SendTime.UnixNano() != pong.TimestampNanos {
		glog.Infof("[conn]%s bad pong timestamp", self.endpoint)
		self.cancel()
		return
	}

	self.rtt.CloseTag(tag)
}

// classifyTransportError maps a TLS/X.509 handshake failure to the matching TerminationReason
// (spec.md §4.1's ssl_certificate_rejected / ssl_protocol_violation classes). It is shared by
// both a failed dial and a failed read/write, since a TLS failure can surface at either point
// depending on how much of the handshake completed before the library gave up.
func classifyTransportError(err error) (TerminationReason, bool) {
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return ReasonSslCertificateRejected, true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return ReasonSslCertificateRejected, true
	}
	var certInvalidErr x509.CertificateInvalidError
	if errors.As(err, &certInvalidErr) {
		return ReasonSslCertificateRejected, true
	}
	var recordHeaderErr tls.RecordHeaderError
	if errors.As(err, &recordHeaderErr) {
		return ReasonSslProtocolViolation, true
	}
	return ReasonUnknown, false
}

// classifyConnectError maps a failed dial (no WebSocket frame was ever exchanged) to a
// TerminationReason, distinguishing a non-fatal HTTP status from a fatal one and from a TLS
// failure (spec.md §4.1).
func classifyConnectError(err error, resp *http.Response) TerminationReason {
	if reason, ok := classifyTransportError(err); ok {
		return reason
	}
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusTooManyRequests:
			return ReasonHttpResponseNonfatal
		case 500 <= resp.StatusCode:
			return ReasonHttpResponseNonfatal
		case 400 <= resp.StatusCode:
			return ReasonHttpResponseFatal
		}
	}
	return ReasonConnectOperationFailed
}

// classifyCloseError maps a failed read or write on an already-established WebSocket to a
// TerminationReason, distinguishing the close codes a server sends deliberately from a bare
// transport error (spec.md §4.1, §6.1).
func classifyCloseError(err error) TerminationReason {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseGoingAway, websocket.CloseAbnormalClosure:
			return ReasonReadOrWriteError
		case websocket.CloseProtocolError, websocket.CloseUnsupportedData,
			websocket.CloseInvalidFramePayloadData, websocket.CloseMandatoryExtension:
			return ReasonWebsocketProtocolViolation
		case websocket.ClosePolicyViolation:
			return ReasonServerSaidDoNotReconnect
		case websocket.CloseMessageTooBig:
			return ReasonSyncProtocolViolation
		case websocket.CloseTLSHandshake:
			return ReasonSslProtocolViolation
		default:
			return ReasonReadOrWriteError
		}
	}
	if reason, ok := classifyTransportError(err); ok {
		return reason
	}
	return ReasonReadOrWriteError
}

// heartbeatLoop implements spec.md §4.2: first PING is jittered up to 100%, subsequent PINGs up
// to 10%; a PONG-wait timer of pong_keepalive_timeout fires pong_timeout if unanswered.
func (self *Connection) heartbeatLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, reasonCh chan<- terminationSignal) {
	defer cancel()

	first := true
	for {
		period := self.config.PingKeepalivePeriod
		var jitter time.Duration
		if first {
			jitter = time.Duration(rand.Float64() * float64(period))
			first = false
		} else {
			jitter = time.Duration(rand.Float64() * 0.10 * float64(period))
		}
		wait := period - jitter

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		tag := TraceWithReturn(fmt.Sprintf("[conn]%s openTag", self.endpoint), self.rtt.OpenTag)
		self.mutex.Lock()
		self.lastPing = tag
		self.pongOverdue = true
		self.mutex.Unlock()

		encoded, err := wire.EncodeEnvelope(&wire.Ping{TimestampNanos: tag.SendTime.UnixNano()})
		if err != nil {
			select {
			case reasonCh <- terminationSignal{reason: ReasonReadOrWriteError, at: time.Now()}:
			default:
			}
			return
		}
		ws.SetWriteDeadline(time.Now().Add(self.config.PongKeepaliveTimeout))
		if err := ws.WriteMessage(websocket.BinaryMessage, encoded); err != nil {
			select {
			case reasonCh <- terminationSignal{reason: classifyCloseError(err), at: time.Now()}:
			default:
			}
			return
		}

		pongTimer := time.NewTimer(self.config.PongKeepaliveTimeout)
		select {
		case <-ctx.Done():
			pongTimer.Stop()
			return
		case <-pongTimer.C:
			self.mutex.Lock()
			overdue := self.pongOverdue
			self.mutex.Unlock()
			if overdue {
				select {
				case reasonCh <- terminationSignal{reason: ReasonPongTimeout, at: time.Now()}:
				default:
				}
				return
			}
		}
	}
}
