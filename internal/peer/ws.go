package peer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/protocol"
)

const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultDisconnectTimeout = 10 * time.Second
	writeWait                = 5 * time.Second
)

// WSPeer is a Peer over gorilla/websocket. Network I/O runs on its own
// goroutines; everything the listener sees is queued and handed over in
// Service.
type WSPeer struct {
	mu       sync.Mutex
	listener Listener
	protocol ConnectionProtocol
	sess     *wsSession

	state    atomic.Int32
	lastSend atomic.Int64

	queueMu sync.Mutex
	queue   []func(Listener)

	// ConnectTimeout bounds the dial and handshake.
	ConnectTimeout time.Duration
	// DisconnectTimeout is how long the connection may stay silent before
	// it is reported as TimeoutDisconnect.
	DisconnectTimeout time.Duration
	// TLSConfig is used for wss connections.
	TLSConfig *tls.Config

	codec  *protocol.Codec
	logger zerolog.Logger
}

// wsSession is one physical connection.
type wsSession struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	keys    *keyPair
	cipher  *payloadCipher
	writeMu sync.Mutex
	closing atomic.Bool
	once    sync.Once
}

func (s *wsSession) getConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *wsSession) getCipher() *payloadCipher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cipher
}

// NewWSPeer creates a websocket peer using the given protocol (ws or wss).
func NewWSPeer(p ConnectionProtocol) *WSPeer {
	return &WSPeer{
		protocol:          p,
		ConnectTimeout:    DefaultConnectTimeout,
		DisconnectTimeout: DefaultDisconnectTimeout,
		codec:             protocol.NewCodec(),
		logger:            log.With().Str("component", "ws_peer").Logger(),
	}
}

// SetListener sets the callback receiver.
func (p *WSPeer) SetListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

// State returns the low-level connection state.
func (p *WSPeer) State() State {
	return State(p.state.Load())
}

// TransportProtocol returns the configured protocol.
func (p *WSPeer) TransportProtocol() ConnectionProtocol {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.protocol
}

// SetTransportProtocol changes the protocol used by the next Connect.
func (p *WSPeer) SetTransportProtocol(proto ConnectionProtocol) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.protocol = proto
}

// LastSendOutgoing returns when data was last written to the connection.
func (p *WSPeer) LastSendOutgoing() time.Time {
	return time.Unix(0, p.lastSend.Load())
}

func (p *WSPeer) current() *wsSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess
}

// Connect starts an asynchronous connection. The outcome is reported as a
// Connect status, or a failure status followed by Disconnect.
func (p *WSPeer) Connect(address, proxy, appID string, token interface{}) bool {
	if p.State() != StateDisconnected {
		p.logger.Warn().Str("state", p.State().String()).Msg("connect called while not disconnected")
		return false
	}

	sess := &wsSession{}
	p.mu.Lock()
	p.sess = sess
	proto := p.protocol
	p.mu.Unlock()
	p.state.Store(int32(StateConnecting))

	target, err := buildURL(address, proto)
	if err != nil {
		p.logger.Warn().Err(err).Str("address", address).Msg("invalid server address")
		p.finish(sess, StatusServerAddressInvalid)
		return true
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: p.ConnectTimeout,
		TLSClientConfig:  p.TLSConfig,
		Proxy:            http.ProxyFromEnvironment,
	}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			p.logger.Warn().Err(err).Str("proxy", proxy).Msg("invalid proxy address")
			p.finish(sess, StatusServerAddressInvalid)
			return true
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	go p.dial(sess, dialer, target, appID, token)
	return true
}

func (p *WSPeer) dial(sess *wsSession, dialer *websocket.Dialer, target, appID string, token interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), p.ConnectTimeout)
	defer cancel()

	p.logger.Debug().Str("url", target).Msg("dialing")

	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		status := classifyDialError(err)
		if sess.closing.Load() {
			status = 0
		}
		p.logger.Warn().Err(err).Str("url", target).Str("status", status.String()).Msg("connect failed")
		p.finish(sess, status)
		return
	}

	sess.mu.Lock()
	sess.conn = conn
	sess.mu.Unlock()

	if !p.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		p.finish(sess, 0)
		return
	}

	hello := &protocol.Frame{
		Kind:   protocol.FrameInit,
		Params: protocol.Params{protocol.ParamAppID: appID},
	}
	if token != nil {
		hello.Params[protocol.ParamToken] = token
	}
	if err := p.write(sess, hello); err != nil {
		p.logger.Warn().Err(err).Msg("failed to send init frame")
		p.finish(sess, StatusExceptionOnConnect)
		return
	}

	p.enqueue(func(l Listener) { l.OnStatusChanged(StatusConnect) })
	go p.readLoop(sess, conn)
}

func (p *WSPeer) readLoop(sess *wsSession, conn *websocket.Conn) {
	conn.SetReadLimit(protocol.MaxFrameSize)
	conn.SetReadDeadline(time.Now().Add(p.DisconnectTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(p.DisconnectTimeout))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			p.finish(sess, p.classifyReadError(sess, err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(p.DisconnectTimeout))

		if mt != websocket.BinaryMessage {
			continue
		}

		frame, err := p.codec.DecodeFrame(data)
		if err != nil {
			p.logger.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}

		if stop := p.handleFrame(sess, frame); stop {
			return
		}
	}
}

func (p *WSPeer) classifyReadError(sess *wsSession, err error) StatusCode {
	if sess.closing.Load() {
		return 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeoutDisconnect
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return StatusDisconnectByServerReasonUnknown
	}
	p.logger.Debug().Err(err).Msg("read failed")
	return StatusExceptionOnReceive
}

// handleFrame returns true when the session ended.
func (p *WSPeer) handleFrame(sess *wsSession, frame *protocol.Frame) bool {
	switch frame.Kind {
	case protocol.FrameDisconnect:
		sess.closing.Store(true)
		p.finish(sess, disconnectReasonStatus(frame.Code))
		return true

	case protocol.FrameResponse:
		if frame.Code == protocol.OpExchangeKeys {
			return p.completeKeyExchange(sess, frame)
		}
		if err := p.openSealed(sess, frame); err != nil {
			p.logger.Warn().Err(err).Uint8("op", frame.Code).Msg("dropping response")
			return false
		}
		resp := frame.Response()
		p.enqueue(func(l Listener) { l.OnOperationResponse(resp) })

	case protocol.FrameEvent:
		if err := p.openSealed(sess, frame); err != nil {
			p.logger.Warn().Err(err).Uint8("event", frame.Code).Msg("dropping event")
			return false
		}
		ev := frame.Event()
		p.enqueue(func(l Listener) { l.OnEvent(ev) })

	default:
		p.logger.Debug().Uint8("kind", uint8(frame.Kind)).Msg("ignoring frame")
	}
	return false
}

func (p *WSPeer) completeKeyExchange(sess *wsSession, frame *protocol.Frame) bool {
	sess.mu.Lock()
	keys := sess.keys
	sess.mu.Unlock()

	serverKey, ok := protocol.AsBytes(frame.Params[protocol.ParamServerKey])
	if frame.ReturnCode != 0 || !ok || keys == nil {
		p.logger.Warn().Int16("return_code", frame.ReturnCode).Msg("key exchange rejected")
		p.finish(sess, StatusEncryptionFailedToEstablish)
		return true
	}

	c, err := keys.sharedCipher(serverKey)
	if err != nil {
		p.logger.Warn().Err(err).Msg("key exchange failed")
		p.finish(sess, StatusEncryptionFailedToEstablish)
		return true
	}

	sess.mu.Lock()
	sess.cipher = c
	sess.mu.Unlock()

	p.enqueue(func(l Listener) { l.OnStatusChanged(StatusEncryptionEstablished) })
	return false
}

func (p *WSPeer) openSealed(sess *wsSession, frame *protocol.Frame) error {
	if len(frame.Sealed) == 0 {
		return nil
	}
	c := sess.getCipher()
	if c == nil {
		return fmt.Errorf("sealed frame without established encryption")
	}
	plain, err := c.open(frame.Sealed)
	if err != nil {
		return err
	}
	params, err := p.codec.DecodeParams(plain)
	if err != nil {
		return err
	}
	frame.Params = params
	frame.Sealed = nil
	return nil
}

// finish ends a session exactly once: it closes the socket, marks the peer
// disconnected and queues the failure status (if any) plus Disconnect.
func (p *WSPeer) finish(sess *wsSession, status StatusCode) {
	sess.once.Do(func() {
		if conn := sess.getConn(); conn != nil {
			conn.Close()
		}

		p.mu.Lock()
		if p.sess == sess {
			p.state.Store(int32(StateDisconnected))
		}
		p.mu.Unlock()

		if status != 0 {
			p.enqueue(func(l Listener) { l.OnStatusChanged(status) })
		}
		p.enqueue(func(l Listener) { l.OnStatusChanged(StatusDisconnect) })
	})
}

// Disconnect closes the connection. The Disconnect status is delivered
// through Service once the socket is down.
func (p *WSPeer) Disconnect() {
	switch p.State() {
	case StateDisconnected, StateDisconnecting:
		return
	}
	p.state.Store(int32(StateDisconnecting))

	sess := p.current()
	if sess == nil {
		return
	}
	sess.closing.Store(true)

	conn := sess.getConn()
	if conn == nil {
		// dial still in flight, it finishes the session when it returns
		return
	}

	sess.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	sess.writeMu.Unlock()

	p.finish(sess, 0)
}

// SendOperation queues an operation on the wire.
func (p *WSPeer) SendOperation(code byte, params protocol.Params, opts SendOptions) bool {
	sess := p.current()
	if sess == nil || p.State() != StateConnected {
		return false
	}

	frame := &protocol.Frame{Kind: protocol.FrameOperation, Code: code, Params: params}
	if opts.Encrypt {
		c := sess.getCipher()
		if c == nil {
			p.logger.Warn().Str("op", protocol.OpName(code)).Msg("encrypted send requested before encryption was established")
			return false
		}
		plain, err := p.codec.EncodeParams(params)
		if err != nil {
			p.logger.Warn().Err(err).Str("op", protocol.OpName(code)).Msg("failed to encode operation")
			return false
		}
		sealed, err := c.seal(plain)
		if err != nil {
			p.logger.Warn().Err(err).Str("op", protocol.OpName(code)).Msg("failed to seal operation")
			return false
		}
		frame.Params = nil
		frame.Sealed = sealed
	}

	if err := p.write(sess, frame); err != nil {
		p.logger.Warn().Err(err).Str("op", protocol.OpName(code)).Msg("send failed")
		p.finish(sess, StatusSendError)
		return false
	}
	return true
}

func (p *WSPeer) write(sess *wsSession, frame *protocol.Frame) error {
	data, err := p.codec.EncodeFrame(frame)
	if err != nil {
		return err
	}
	conn := sess.getConn()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	p.lastSend.Store(time.Now().UnixNano())
	return nil
}

// SendAcksOnly keeps the connection alive without flushing operations.
// Safe to call from any goroutine.
func (p *WSPeer) SendAcksOnly() bool {
	sess := p.current()
	if sess == nil || p.State() != StateConnected {
		return false
	}
	conn := sess.getConn()
	if conn == nil {
		return false
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return false
	}
	p.lastSend.Store(time.Now().UnixNano())
	return true
}

// EstablishEncryption starts the key exchange. Completion is reported as
// EncryptionEstablished or EncryptionFailedToEstablish.
func (p *WSPeer) EstablishEncryption() bool {
	sess := p.current()
	if sess == nil || p.State() != StateConnected {
		return false
	}

	keys, err := newKeyPair()
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to create key pair")
		return false
	}
	sess.mu.Lock()
	sess.keys = keys
	sess.mu.Unlock()

	frame := &protocol.Frame{
		Kind:   protocol.FrameOperation,
		Code:   protocol.OpExchangeKeys,
		Params: protocol.Params{protocol.ParamClientKey: keys.public},
	}
	if err := p.write(sess, frame); err != nil {
		p.logger.Warn().Err(err).Msg("failed to send key exchange")
		p.finish(sess, StatusSendError)
		return false
	}
	return true
}

// InitPayloadEncryption re-keys the session from a server-issued secret.
func (p *WSPeer) InitPayloadEncryption(secret []byte) error {
	sess := p.current()
	if sess == nil {
		return fmt.Errorf("no active connection")
	}
	c, err := deriveCipher(secret, secretInfo)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.cipher = c
	sess.mu.Unlock()
	return nil
}

// Service hands queued callbacks to the listener on the caller's goroutine.
func (p *WSPeer) Service() {
	p.queueMu.Lock()
	pending := p.queue
	p.queue = nil
	p.queueMu.Unlock()

	if len(pending) == 0 {
		return
	}

	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l == nil {
		return
	}

	for _, fn := range pending {
		fn(l)
	}
}

func (p *WSPeer) enqueue(fn func(Listener)) {
	p.queueMu.Lock()
	p.queue = append(p.queue, fn)
	p.queueMu.Unlock()
}

// buildURL turns "host:port" or a full ws(s) URL into a dialable URL.
func buildURL(address string, proto ConnectionProtocol) (string, error) {
	if strings.TrimSpace(address) == "" {
		return "", fmt.Errorf("empty address")
	}
	if !strings.Contains(address, "://") {
		scheme := "ws"
		if proto == ProtocolWebSocketSecure {
			scheme = "wss"
		}
		address = scheme + "://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("failed to parse address: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("address has no host")
	}
	return u.String(), nil
}

func classifyDialError(err error) StatusCode {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return StatusDnsExceptionOnConnect
	}

	var certErr *tls.CertificateVerificationError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var recordErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &authErr) || errors.As(err, &hostErr) || errors.As(err, &recordErr) {
		return StatusSecurityExceptionOnConnect
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeoutDisconnect
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeoutDisconnect
	}

	return StatusExceptionOnConnect
}

func disconnectReasonStatus(reason byte) StatusCode {
	switch reason {
	case protocol.DisconnectReasonTimeout:
		return StatusDisconnectByServerTimeout
	case protocol.DisconnectReasonUserLimit:
		return StatusDisconnectByServerUserLimit
	case protocol.DisconnectReasonLogic:
		return StatusDisconnectByServerLogic
	default:
		return StatusDisconnectByServerReasonUnknown
	}
}
