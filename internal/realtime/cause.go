package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/protocol"
)

// DisconnectCause explains why the client ended up Disconnected.
type DisconnectCause int

const (
	DisconnectCauseNone DisconnectCause = iota
	DisconnectCauseExceptionOnConnect
	DisconnectCauseDnsExceptionOnConnect
	DisconnectCauseServerAddressInvalid
	DisconnectCauseException
	DisconnectCauseServerTimeout
	DisconnectCauseClientTimeout
	DisconnectCauseDisconnectByServerLogic
	DisconnectCauseDisconnectByServerReasonUnknown
	DisconnectCauseInvalidAuthentication
	DisconnectCauseCustomAuthenticationFailed
	DisconnectCauseAuthenticationTicketExpired
	DisconnectCauseMaxCcuReached
	DisconnectCauseInvalidRegion
	DisconnectCauseOperationNotAllowedInCurrentState
	DisconnectCauseDisconnectByClientLogic
	DisconnectCauseDisconnectByOperationLimit
	DisconnectCauseDisconnectByDisconnectMessage
	DisconnectCauseApplicationQuit
)

var disconnectCauseNames = map[DisconnectCause]string{
	DisconnectCauseNone:                              "None",
	DisconnectCauseExceptionOnConnect:                "ExceptionOnConnect",
	DisconnectCauseDnsExceptionOnConnect:             "DnsExceptionOnConnect",
	DisconnectCauseServerAddressInvalid:              "ServerAddressInvalid",
	DisconnectCauseException:                         "Exception",
	DisconnectCauseServerTimeout:                     "ServerTimeout",
	DisconnectCauseClientTimeout:                     "ClientTimeout",
	DisconnectCauseDisconnectByServerLogic:           "DisconnectByServerLogic",
	DisconnectCauseDisconnectByServerReasonUnknown:   "DisconnectByServerReasonUnknown",
	DisconnectCauseInvalidAuthentication:             "InvalidAuthentication",
	DisconnectCauseCustomAuthenticationFailed:        "CustomAuthenticationFailed",
	DisconnectCauseAuthenticationTicketExpired:       "AuthenticationTicketExpired",
	DisconnectCauseMaxCcuReached:                     "MaxCcuReached",
	DisconnectCauseInvalidRegion:                     "InvalidRegion",
	DisconnectCauseOperationNotAllowedInCurrentState: "OperationNotAllowedInCurrentState",
	DisconnectCauseDisconnectByClientLogic:           "DisconnectByClientLogic",
	DisconnectCauseDisconnectByOperationLimit:        "DisconnectByOperationLimit",
	DisconnectCauseDisconnectByDisconnectMessage:     "DisconnectByDisconnectMessage",
	DisconnectCauseApplicationQuit:                   "ApplicationQuit",
}

// String returns the string representation of DisconnectCause.
func (c DisconnectCause) String() string {
	if name, ok := disconnectCauseNames[c]; ok {
		return name
	}
	return fmt.Sprintf("DisconnectCause(%d)", int(c))
}

// MarshalJSON implements json.Marshaler.
func (c DisconnectCause) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// causeForStatus maps a transport failure status to a disconnect cause.
// fallbackEligible reports whether the failure may be retried with the
// fallback protocol when it happens while reaching the name server.
func causeForStatus(status peer.StatusCode) (cause DisconnectCause, fallbackEligible, ok bool) {
	switch status {
	case peer.StatusDisconnectByServerUserLimit:
		return DisconnectCauseMaxCcuReached, false, true
	case peer.StatusDnsExceptionOnConnect:
		return DisconnectCauseDnsExceptionOnConnect, false, true
	case peer.StatusServerAddressInvalid:
		return DisconnectCauseServerAddressInvalid, false, true
	case peer.StatusExceptionOnConnect, peer.StatusSecurityExceptionOnConnect, peer.StatusEncryptionFailedToEstablish:
		return DisconnectCauseExceptionOnConnect, true, true
	case peer.StatusException, peer.StatusExceptionOnReceive, peer.StatusSendError:
		return DisconnectCauseException, false, true
	case peer.StatusDisconnectByServerTimeout:
		return DisconnectCauseServerTimeout, false, true
	case peer.StatusDisconnectByServerLogic:
		return DisconnectCauseDisconnectByServerLogic, false, true
	case peer.StatusDisconnectByServerReasonUnknown:
		return DisconnectCauseDisconnectByServerReasonUnknown, false, true
	case peer.StatusTimeoutDisconnect:
		return DisconnectCauseClientTimeout, true, true
	}
	return DisconnectCauseNone, false, false
}

// causeForAuthError maps a failed authenticate return code to a cause.
// Unknown codes keep the current cause.
func causeForAuthError(code protocol.ErrorCode, current DisconnectCause) DisconnectCause {
	switch code {
	case protocol.ErrorInvalidAuthentication:
		return DisconnectCauseInvalidAuthentication
	case protocol.ErrorCustomAuthenticationFailed:
		return DisconnectCauseCustomAuthenticationFailed
	case protocol.ErrorInvalidRegion:
		return DisconnectCauseInvalidRegion
	case protocol.ErrorMaxCcuReached:
		return DisconnectCauseMaxCcuReached
	case protocol.ErrorOperationNotAllowedInCurrentState:
		return DisconnectCauseOperationNotAllowedInCurrentState
	case protocol.ErrorAuthenticationTicketExpired:
		return DisconnectCauseAuthenticationTicketExpired
	}
	return current
}
