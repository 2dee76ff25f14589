package realtime

import (
	"sort"

	"github.com/energizer-project/matchlink/internal/protocol"
	"github.com/energizer-project/matchlink/internal/region"
)

func (c *Client) handleResponse(resp *protocol.OperationResponse) {
	result := OperationSucceeded
	if resp.ReturnCode != protocol.ErrorOk {
		result = OperationFailed
	}
	c.observeOperation(resp.OperationCode, result)

	if t, ok := protocol.AsString(resp.Get(protocol.ParamToken)); ok && t != "" {
		c.ensureAuthValues().Token = t
		c.tokenCache = t
	}

	if resp.ReturnCode == protocol.ErrorOperationLimitReached {
		c.logger.Error().Str("op", protocol.OpName(resp.OperationCode)).Msg("operation limit reached")
		c.Disconnect(DisconnectCauseDisconnectByOperationLimit)
		return
	}

	switch resp.OperationCode {
	case protocol.OpAuthenticate, protocol.OpAuthenticateOnce:
		c.onAuthenticateResponse(resp)
	case protocol.OpGetRegions:
		c.onRegionsResponse(resp)
	case protocol.OpCreateGame, protocol.OpJoinGame, protocol.OpJoinRandomGame:
		if c.server == GameServer {
			c.gameEntered(resp)
		} else {
			c.onMasterRoomResponse(resp)
		}
	case protocol.OpJoinLobby:
		c.onJoinLobbyResponse(resp)
	case protocol.OpLeaveLobby:
		if resp.ReturnCode == protocol.ErrorOk {
			c.setState(ConnectedToMasterServer)
			dispatch(&c.targets, func(cb LobbyCallbacks) { cb.OnLeftLobby() })
		}
	case protocol.OpLeave:
		c.disconnectToReconnect(hopToMaster)
	case protocol.OpGetGameList:
		if resp.ReturnCode != protocol.ErrorOk {
			c.logResponseError(resp)
			return
		}
		c.updateRoomList(resp.Get(protocol.ParamGameList))
	case protocol.OpFindFriends:
		c.onFindFriendsResponse(resp)
	case protocol.OpGetLobbyStats:
		if resp.ReturnCode != protocol.ErrorOk {
			c.logResponseError(resp)
			return
		}
		c.updateLobbyStatistics(resp.Parameters)
	case protocol.OpWebRPC:
		dispatch(&c.targets, func(cb WebRPCCallback) { cb.OnWebRPCResponse(resp) })
	default:
		if resp.ReturnCode != protocol.ErrorOk {
			c.logResponseError(resp)
		}
	}
}

func (c *Client) logResponseError(resp *protocol.OperationResponse) {
	c.logger.Error().
		Str("op", protocol.OpName(resp.OperationCode)).
		Int("code", int(resp.ReturnCode)).
		Str("message", resp.DebugMessage).
		Str("state", c.State().String()).
		Msg("operation failed")
}

func (c *Client) onRegionsResponse(resp *protocol.OperationResponse) {
	if resp.ReturnCode == protocol.ErrorInvalidAuthentication {
		c.logger.Error().Str("message", resp.DebugMessage).Msg("name server rejected the app id")
		c.Disconnect(DisconnectCauseInvalidAuthentication)
		return
	}
	if resp.ReturnCode != protocol.ErrorOk {
		c.logResponseError(resp)
		return
	}
	if c.regionHandler.IsPinging() {
		c.logger.Warn().Msg("region list received while pinging, ignored")
		return
	}
	if err := c.regionHandler.SetRegions(resp); err != nil {
		c.logger.Error().Err(err).Msg("invalid region list")
		return
	}
	c.logger.Info().Str("regions", c.regionHandler.AvailableRegionCodes()).Msg("region list received")
	dispatch(&c.targets, func(cb ConnectionCallbacks) { cb.OnRegionListReceived(c.regionHandler) })

	if !c.connectToBestRegion {
		return
	}
	started := c.regionHandler.PingMinimumOfRegions(func(h *region.Handler) {
		c.post(func() { c.onRegionPingCompleted(h) })
	}, c.summaryFromStorage)
	if !started {
		c.logger.Warn().Msg("region ping did not start")
	}
}

// onRegionPingCompleted runs on the pump once every pinger finished.
func (c *Client) onRegionPingCompleted(h *region.Handler) {
	c.summaryToCache = h.SummaryToCache()
	c.logger.Info().Str("summary", c.summaryToCache).Msg("region ping completed")
	dispatch(&c.targets, func(cb RegionPingCallback) { cb.OnRegionPingCompleted(h, c.summaryToCache) })

	if c.State() != ConnectedToNameServer {
		c.logger.Debug().Str("state", c.State().String()).Msg("region ping completed after leaving the name server")
		return
	}
	best := h.BestRegion()
	if best == nil {
		c.logger.Error().Msg("no region to connect to")
		c.Disconnect(DisconnectCauseInvalidRegion)
		return
	}
	c.ConnectToRegionMaster(best.Code)
}

// onMasterRoomResponse handles the master server's answer to a room
// request: either a failure or the game server to hop to.
func (c *Client) onMasterRoomResponse(resp *protocol.OperationResponse) {
	if resp.ReturnCode != protocol.ErrorOk {
		if c.inLobbyBeforeJoin {
			c.setState(JoinedLobby)
		} else {
			c.setState(ConnectedToMasterServer)
		}
		c.logResponseError(resp)
		c.callbackRoomEnterFailed(resp)
		return
	}

	c.gameServerAddress, _ = protocol.AsString(resp.Get(protocol.ParamAddress))
	if name, ok := protocol.AsString(resp.Get(protocol.ParamRoomName)); ok && name != "" && c.enterRoomParamsCache != nil {
		c.enterRoomParamsCache.RoomName = name
	}
	c.logger.Info().Str("game_server", c.gameServerAddress).Str("join_type", c.lastJoinType.String()).Msg("room assigned")
	c.disconnectToReconnect(hopToGame)
}

// callbackRoomEnterFailed reports a failed room request by operation.
func (c *Client) callbackRoomEnterFailed(resp *protocol.OperationResponse) {
	c.enterRoomParamsCache = nil
	code, msg := resp.ReturnCode, resp.DebugMessage
	switch resp.OperationCode {
	case protocol.OpCreateGame:
		dispatch(&c.targets, func(cb MatchmakingCallbacks) { cb.OnCreateRoomFailed(code, msg) })
	case protocol.OpJoinGame:
		dispatch(&c.targets, func(cb MatchmakingCallbacks) { cb.OnJoinRoomFailed(code, msg) })
	case protocol.OpJoinRandomGame:
		dispatch(&c.targets, func(cb MatchmakingCallbacks) { cb.OnJoinRandomFailed(code, msg) })
	}
}

func (c *Client) onJoinLobbyResponse(resp *protocol.OperationResponse) {
	if resp.ReturnCode != protocol.ErrorOk {
		c.logResponseError(resp)
		c.setState(ConnectedToMasterServer)
		return
	}
	c.setState(JoinedLobby)
	dispatch(&c.targets, func(cb LobbyCallbacks) { cb.OnJoinedLobby() })
}

func (c *Client) onFindFriendsResponse(resp *protocol.OperationResponse) {
	requested := c.friendListRequested
	c.friendListRequested = nil
	if resp.ReturnCode != protocol.ErrorOk {
		c.logResponseError(resp)
		return
	}

	online, _ := protocol.AsBools(resp.Get(protocol.ParamFindFriendsResponseOnline))
	rooms, _ := protocol.AsStrings(resp.Get(protocol.ParamFindFriendsResponseRoomID))
	friends := make([]FriendInfo, 0, len(requested))
	for i, id := range requested {
		f := FriendInfo{UserID: id}
		if i < len(online) {
			f.IsOnline = online[i]
		}
		if i < len(rooms) {
			f.Room = rooms[i]
		}
		friends = append(friends, f)
	}
	dispatch(&c.targets, func(cb MatchmakingCallbacks) { cb.OnFriendListUpdate(friends) })
}

// updateRoomList turns a game list into RoomInfos sorted by name.
func (c *Client) updateRoomList(v interface{}) {
	games, _ := protocol.AsHashtable(v)
	rooms := make([]*RoomInfo, 0, len(games))
	for k, val := range games {
		name, ok := k.(string)
		if !ok {
			continue
		}
		props, _ := protocol.AsHashtable(val)
		rooms = append(rooms, NewRoomInfo(name, props))
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	dispatch(&c.targets, func(cb LobbyCallbacks) { cb.OnRoomListUpdate(rooms) })
}

// updateLobbyStatistics reads the parallel lobby arrays of a LobbyStats
// event or GetLobbyStats response.
func (c *Client) updateLobbyStatistics(params protocol.Params) {
	names, _ := protocol.AsStrings(params[protocol.ParamLobbyName])
	types := lobbyTypes(params[protocol.ParamLobbyType])
	peers, _ := protocol.AsInts(params[protocol.ParamPeerCount])
	games, _ := protocol.AsInts(params[protocol.ParamGameCount])

	stats := make([]TypedLobbyInfo, 0, len(names))
	for i, name := range names {
		info := TypedLobbyInfo{TypedLobby: TypedLobby{Name: name}}
		if i < len(types) {
			info.Type = types[i]
		}
		if i < len(peers) {
			info.PlayerCount = peers[i]
		}
		if i < len(games) {
			info.RoomCount = games[i]
		}
		stats = append(stats, info)
	}
	c.lobbyStatistics = stats
	dispatch(&c.targets, func(cb LobbyCallbacks) { cb.OnLobbyStatisticsUpdate(stats) })
}

func lobbyTypes(v interface{}) []LobbyType {
	if raw, ok := v.([]byte); ok {
		out := make([]LobbyType, len(raw))
		for i, b := range raw {
			out[i] = LobbyType(b)
		}
		return out
	}
	ints, _ := protocol.AsInts(v)
	out := make([]LobbyType, len(ints))
	for i, n := range ints {
		out[i] = LobbyType(n)
	}
	return out
}
