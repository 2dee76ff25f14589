package realtime

import (
	"github.com/energizer-project/matchlink/internal/peer"
)

func (c *Client) handleStatus(status peer.StatusCode) {
	c.logger.Debug().Str("status", status.String()).Str("state", c.State().String()).Msg("status changed")

	switch status {
	case peer.StatusConnect:
		c.onConnectStatus()
	case peer.StatusEncryptionEstablished:
		c.onEncryptionEstablished()
	case peer.StatusDisconnect:
		c.onDisconnectStatus()
	default:
		c.onFailureStatus(status)
	}
}

func (c *Client) onConnectStatus() {
	switch c.State() {
	case ConnectingToNameServer:
		c.server = NameServer
		if c.authValues != nil {
			// a name server always issues a fresh token
			c.authValues.Token = ""
		}
		dispatch(&c.targets, func(cb ConnectionCallbacks) { cb.OnConnected() })
	case ConnectingToMasterServer:
		c.server = MasterServer
		dispatch(&c.targets, func(cb ConnectionCallbacks) { cb.OnConnected() })
	case ConnectingToGameServer:
		c.server = GameServer
	default:
		c.logger.Warn().Str("state", c.State().String()).Msg("connect status in unexpected state")
		return
	}

	if c.peer.TransportProtocol() == peer.ProtocolWebSocketSecure {
		// the transport is already secure
		c.onEncryptionEstablished()
		return
	}
	if c.server == NameServer || c.authMode == AuthModeAuth {
		if !c.peer.EstablishEncryption() {
			c.logger.Error().Str("server", c.server.String()).Msg("could not start encryption")
			c.Disconnect(DisconnectCauseExceptionOnConnect)
		}
	}
	// With AuthOnce the token travelled in the connect request and the
	// server answers with an authenticate response on its own.
}

func (c *Client) onEncryptionEstablished() {
	if c.server == NameServer {
		c.setState(ConnectedToNameServer)
		if c.cloudRegion == "" {
			c.OpGetRegions()
			return
		}
	} else if c.authMode != AuthModeAuth {
		return
	}

	if !c.callAuthenticate() {
		c.logger.Error().Str("server", c.server.String()).Msg("could not authenticate")
		c.Disconnect(DisconnectCauseInvalidAuthentication)
	}
}

func (c *Client) onDisconnectStatus() {
	c.friendListRequested = nil

	wasInRoom := c.currentRoom != nil
	c.currentRoom = nil
	c.changeLocalID(-1)
	if wasInRoom && c.server == GameServer {
		dispatch(&c.targets, func(cb MatchmakingCallbacks) { cb.OnLeftRoom() })
	}

	if c.expectedProtocol != nil && c.peer.TransportProtocol() != *c.expectedProtocol {
		c.peer.SetTransportProtocol(*c.expectedProtocol)
		c.expectedProtocol = nil
	}

	hop := c.hop
	c.hop = hopNone
	state := c.State()

	switch {
	case hop == hopFallback:
		c.enableProtocolFallback = false
		next := c.peer.TransportProtocol().Fallback()
		c.logger.Info().Str("protocol", next.String()).Msg("retrying name server with fallback protocol")
		c.peer.SetTransportProtocol(next)
		c.nameServerPort = 0
		c.continueHop(c.connect(c.nameServerAddress(), NameServer))
	case hop == hopToMaster && (state == DisconnectingFromNameServer || state == DisconnectingFromGameServer):
		c.continueHop(c.ConnectToMasterServer())
	case hop == hopToGame && state == DisconnectingFromMasterServer:
		c.continueHop(c.connect(c.gameServerAddress, GameServer))
	case state == Disconnected:
	case state == PeerCreated || state == Disconnecting:
		c.settleDisconnected()
	default:
		c.logger.Warn().Str("state", state.String()).Str("hop", hop.String()).Msg("unexpected disconnect")
		c.settleDisconnected()
	}
}

// continueHop settles the client when the follow-up connect of a hop could
// not even start.
func (c *Client) continueHop(started bool) {
	if started {
		return
	}
	if c.cause == DisconnectCauseNone {
		c.cause = DisconnectCauseExceptionOnConnect
	}
	c.settleDisconnected()
}

func (c *Client) onFailureStatus(status peer.StatusCode) {
	cause, fallbackEligible, ok := causeForStatus(status)
	if !ok {
		c.logger.Debug().Str("status", status.String()).Msg("ignoring status")
		return
	}

	c.cause = cause
	c.hop = hopNone
	if fallbackEligible && c.enableProtocolFallback && c.State() == ConnectingToNameServer {
		c.hop = hopFallback
		c.setState(ConnectWithFallbackProtocol)
	} else {
		c.setState(Disconnecting)
	}
	c.logger.Warn().Str("status", status.String()).Str("cause", cause.String()).Msg("connection failed")
}

func (c *Client) settleDisconnected() {
	if c.authValues != nil {
		c.authValues.Token = ""
	}
	c.setState(Disconnected)
	c.logger.Info().Str("cause", c.cause.String()).Msg("disconnected")
	dispatch(&c.targets, func(cb ConnectionCallbacks) { cb.OnDisconnected(c.cause) })
}
