package realtime

import (
	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/protocol"
)

// Payload encryption modes announced with AuthenticateOnce.
const encryptionModePayload byte = 0

// callAuthenticate sends the authenticate operation matching the auth mode
// and moves to Authenticating.
func (c *Client) callAuthenticate() bool {
	if c.isUsingNameServer && c.server != NameServer && c.token() == "" {
		c.logger.Error().Str("server", c.server.String()).Msg("authenticating on this server requires a token from the name server")
		return false
	}

	op := protocol.OpAuthenticate
	params := c.authenticateParams()
	if c.authMode != AuthModeAuth {
		op = protocol.OpAuthenticateOnce
		if _, hasToken := params[protocol.ParamToken]; !hasToken {
			expected := c.peer.TransportProtocol()
			if c.expectedProtocol != nil {
				expected = *c.expectedProtocol
			}
			params[protocol.ParamExpectedProtocol] = byte(expected)
			params[protocol.ParamEncryptionMode] = encryptionModePayload
		}
	}

	if !c.CheckIfOpCanBeSent(op, c.server) {
		return false
	}
	if !c.sendOperation(op, params, c.secureSendOptions()) {
		return false
	}
	c.setState(Authenticating)
	return true
}

// authenticateParams builds the credentials. A token replaces everything
// else.
func (c *Client) authenticateParams() protocol.Params {
	params := protocol.Params{}
	if t := c.token(); t != "" {
		params[protocol.ParamToken] = t
		return params
	}

	params[protocol.ParamAppVersion] = c.appVersion
	params[protocol.ParamAppID] = c.appID
	if c.cloudRegion != "" {
		params[protocol.ParamRegion] = c.cloudRegion
	}
	if av := c.authValues; av != nil {
		if av.UserID != "" {
			params[protocol.ParamUserID] = av.UserID
		}
		if av.AuthType != CustomAuthNone {
			params[protocol.ParamClientAuthType] = byte(av.AuthType)
			if av.AuthGetParameters != "" {
				params[protocol.ParamClientAuthParams] = av.AuthGetParameters
			}
			if av.AuthPostData != nil {
				params[protocol.ParamClientAuthData] = av.AuthPostData
			}
		}
	}
	if c.enableLobbyStats && c.server == MasterServer {
		params[protocol.ParamLobbyStats] = true
	}
	return params
}

// secureSendOptions encrypts unless the transport already is secure.
func (c *Client) secureSendOptions() peer.SendOptions {
	opts := peer.SendReliable
	opts.Encrypt = c.peer.TransportProtocol() != peer.ProtocolWebSocketSecure
	return opts
}

func (c *Client) onAuthenticateResponse(resp *protocol.OperationResponse) {
	if resp.ReturnCode != protocol.ErrorOk {
		c.logger.Error().Int("code", int(resp.ReturnCode)).Str("server", c.server.String()).Str("message", resp.DebugMessage).Msg("authentication failed")
		if resp.ReturnCode == protocol.ErrorCustomAuthenticationFailed {
			dispatch(&c.targets, func(cb ConnectionCallbacks) { cb.OnCustomAuthenticationFailed(resp.DebugMessage) })
		}
		c.Disconnect(causeForAuthError(resp.ReturnCode, c.cause))
		return
	}

	if c.server == NameServer || c.server == MasterServer {
		if id, ok := protocol.AsString(resp.Get(protocol.ParamUserID)); ok && id != "" {
			c.ensureAuthValues().UserID = id
		}
		if nick, ok := protocol.AsString(resp.Get(protocol.ParamNickName)); ok && nick != "" {
			c.localPlayer.NickName = nick
		}
		if secret, ok := protocol.AsBytes(resp.Get(protocol.ParamEncryptionData)); ok && len(secret) > 0 {
			if enc, ok := c.peer.(peer.PayloadEncrypter); ok {
				if err := enc.InitPayloadEncryption(secret); err != nil {
					c.logger.Error().Err(err).Msg("failed to init payload encryption")
				}
			}
		}
	}

	if data := stringMap(resp.Get(protocol.ParamData)); data != nil {
		dispatch(&c.targets, func(cb ConnectionCallbacks) { cb.OnCustomAuthenticationResponse(data) })
	}

	switch c.server {
	case NameServer:
		c.currentCluster, _ = protocol.AsString(resp.Get(protocol.ParamCluster))
		c.masterServerAddress, _ = protocol.AsString(resp.Get(protocol.ParamAddress))
		c.logger.Info().Str("region", c.cloudRegion).Str("cluster", c.currentCluster).Str("master", c.masterServerAddress).Msg("authenticated on name server")
		c.disconnectToReconnect(hopToMaster)
	case MasterServer:
		c.setState(ConnectedToMasterServer)
		if failed := c.failedRoomEntry; failed != nil {
			c.failedRoomEntry = nil
			c.callbackRoomEnterFailed(failed)
		} else {
			dispatch(&c.targets, func(cb ConnectionCallbacks) { cb.OnConnectedToMaster() })
		}
		if c.authMode != AuthModeAuth {
			c.OpSettings(c.enableLobbyStats)
		}
	case GameServer:
		c.replayRoomEntry()
	}
}

// replayRoomEntry repeats the cached room request on the game server.
func (c *Client) replayRoomEntry() {
	c.setState(Joining)
	p := c.enterRoomParamsCache
	if p == nil {
		c.logger.Error().Msg("authenticated on game server without a room request")
		c.disconnectToReconnect(hopToMaster)
		return
	}

	if p.RejoinOnly() {
		p.PlayerProperties = nil
	} else {
		props := protocol.Hashtable{}
		props.Merge(c.localPlayer.CustomProperties)
		if c.localPlayer.NickName != "" {
			props[protocol.ActorPropNickName] = c.localPlayer.NickName
		}
		p.PlayerProperties = props
	}
	p.onGameServer = true
	c.roomEntryNotified = false

	if c.lastJoinType == JoinTypeCreateRoom {
		c.sendOperation(protocol.OpCreateGame, c.createRoomParams(p), peer.SendReliable)
		return
	}
	c.sendOperation(protocol.OpJoinGame, c.joinRoomParams(p), peer.SendReliable)
}

// stringMap converts a decoded custom authentication payload.
func stringMap(v interface{}) map[string]interface{} {
	switch m := v.(type) {
	case map[string]interface{}:
		return m
	case protocol.Hashtable, map[interface{}]interface{}:
		ht, _ := protocol.AsHashtable(m)
		out := make(map[string]interface{}, len(ht))
		for k, val := range ht {
			if key, ok := k.(string); ok {
				out[key] = val
			}
		}
		return out
	}
	return nil
}
