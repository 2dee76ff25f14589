// Package peer defines the transport contract consumed by the realtime
// client and provides a websocket implementation of it.
package peer

import (
	"time"

	"github.com/energizer-project/matchlink/internal/protocol"
)

// StatusCode is a transport-level status change delivered to the listener.
type StatusCode int

// Status codes. After any failure status the peer also delivers Disconnect.
const (
	StatusSecurityExceptionOnConnect      StatusCode = 1022
	StatusExceptionOnConnect              StatusCode = 1023
	StatusConnect                         StatusCode = 1024
	StatusDisconnect                      StatusCode = 1025
	StatusException                       StatusCode = 1026
	StatusSendError                       StatusCode = 1030
	StatusExceptionOnReceive              StatusCode = 1039
	StatusTimeoutDisconnect               StatusCode = 1040
	StatusDisconnectByServerTimeout       StatusCode = 1041
	StatusDisconnectByServerUserLimit     StatusCode = 1042
	StatusDisconnectByServerLogic         StatusCode = 1043
	StatusDisconnectByServerReasonUnknown StatusCode = 1044
	StatusEncryptionEstablished           StatusCode = 1048
	StatusEncryptionFailedToEstablish     StatusCode = 1049
	StatusServerAddressInvalid            StatusCode = 1050
	StatusDnsExceptionOnConnect           StatusCode = 1051
)

var statusNames = map[StatusCode]string{
	StatusSecurityExceptionOnConnect:      "SecurityExceptionOnConnect",
	StatusExceptionOnConnect:              "ExceptionOnConnect",
	StatusConnect:                         "Connect",
	StatusDisconnect:                      "Disconnect",
	StatusException:                       "Exception",
	StatusSendError:                       "SendError",
	StatusExceptionOnReceive:              "ExceptionOnReceive",
	StatusTimeoutDisconnect:               "TimeoutDisconnect",
	StatusDisconnectByServerTimeout:       "DisconnectByServerTimeout",
	StatusDisconnectByServerUserLimit:     "DisconnectByServerUserLimit",
	StatusDisconnectByServerLogic:         "DisconnectByServerLogic",
	StatusDisconnectByServerReasonUnknown: "DisconnectByServerReasonUnknown",
	StatusEncryptionEstablished:           "EncryptionEstablished",
	StatusEncryptionFailedToEstablish:     "EncryptionFailedToEstablish",
	StatusServerAddressInvalid:            "ServerAddressInvalid",
	StatusDnsExceptionOnConnect:           "DnsExceptionOnConnect",
}

// String returns the string representation of StatusCode.
func (s StatusCode) String() string {
	if str, ok := statusNames[s]; ok {
		return str
	}
	return "Unknown"
}

// State is the low-level connection state of a peer.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// ConnectionProtocol selects the transport.
type ConnectionProtocol byte

const (
	ProtocolUDP ConnectionProtocol = iota
	ProtocolTCP
	ProtocolWebSocket
	ProtocolWebSocketSecure
)

// String returns the string representation of ConnectionProtocol.
func (p ConnectionProtocol) String() string {
	switch p {
	case ProtocolUDP:
		return "udp"
	case ProtocolTCP:
		return "tcp"
	case ProtocolWebSocket:
		return "ws"
	case ProtocolWebSocketSecure:
		return "wss"
	default:
		return "unknown"
	}
}

// ParseProtocol maps a configured name to a ConnectionProtocol.
func ParseProtocol(name string) (ConnectionProtocol, bool) {
	switch name {
	case "udp":
		return ProtocolUDP, true
	case "tcp":
		return ProtocolTCP, true
	case "ws":
		return ProtocolWebSocket, true
	case "wss":
		return ProtocolWebSocketSecure, true
	}
	return ProtocolUDP, false
}

// Fallback returns the protocol tried when connecting with p failed.
func (p ConnectionProtocol) Fallback() ConnectionProtocol {
	switch p {
	case ProtocolUDP:
		return ProtocolTCP
	case ProtocolTCP:
		return ProtocolUDP
	case ProtocolWebSocket:
		return ProtocolWebSocketSecure
	case ProtocolWebSocketSecure:
		return ProtocolWebSocket
	default:
		return p
	}
}

// NameServerPort returns the default name server port for a protocol.
func NameServerPort(p ConnectionProtocol) int {
	switch p {
	case ProtocolTCP:
		return 4533
	case ProtocolWebSocket:
		return 9093
	case ProtocolWebSocketSecure:
		return 19093
	default:
		return 5058
	}
}

// SendOptions controls delivery of an operation.
type SendOptions struct {
	Reliable bool
	Encrypt  bool
	Channel  byte
}

// SendReliable is the default for matchmaking operations.
var SendReliable = SendOptions{Reliable: true}

// Listener receives the callbacks a peer delivers from Service.
type Listener interface {
	OnStatusChanged(status StatusCode)
	OnOperationResponse(resp *protocol.OperationResponse)
	OnEvent(ev *protocol.EventData)
}

// Peer is the transport used by the realtime client. All callbacks are
// delivered from Service on the caller's goroutine. SendAcksOnly and State
// may be called from any goroutine.
type Peer interface {
	Connect(address, proxy, appID string, token interface{}) bool
	Disconnect()
	SendOperation(code byte, params protocol.Params, opts SendOptions) bool
	Service()
	SendAcksOnly() bool
	State() State
	TransportProtocol() ConnectionProtocol
	SetTransportProtocol(p ConnectionProtocol)
	EstablishEncryption() bool
	SetListener(l Listener)
	LastSendOutgoing() time.Time
}

// PayloadEncrypter is implemented by peers that can switch to symmetric
// payload encryption using a secret handed out by the server.
type PayloadEncrypter interface {
	InitPayloadEncryption(secret []byte) error
}
