package realtime

import (
	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/protocol"
)

// OpJoinLobby enters lobby on the master server to receive room lists.
func (c *Client) OpJoinLobby(lobby TypedLobby) bool {
	if !c.CheckIfOpCanBeSent(protocol.OpJoinLobby, c.server) {
		return false
	}
	var params protocol.Params
	if !lobby.IsDefault() {
		params = protocol.Params{
			protocol.ParamLobbyName: lobby.Name,
			protocol.ParamLobbyType: byte(lobby.Type),
		}
	}
	if !c.sendOperation(protocol.OpJoinLobby, params, peer.SendReliable) {
		return false
	}
	c.currentLobby = lobby
	c.setState(JoiningLobby)
	return true
}

// OpLeaveLobby leaves the current lobby.
func (c *Client) OpLeaveLobby() bool {
	return c.gatedSend(protocol.OpLeaveLobby, nil, peer.SendReliable)
}

// OpCreateRoom creates a room. On the master server this reserves the room
// and hops to its game server, where the request is repeated with all
// options. An empty RoomName lets the server pick one.
func (c *Client) OpCreateRoom(p *EnterRoomParams) bool {
	if p == nil {
		p = &EnterRoomParams{}
	}
	if !c.CheckIfOpCanBeSent(protocol.OpCreateGame, c.server) {
		return false
	}
	c.beginRoomEntry(p, JoinTypeCreateRoom)
	return c.sendRoomEntry(protocol.OpCreateGame, c.createRoomParams(p))
}

// OpJoinRoom joins an existing room by name.
func (c *Client) OpJoinRoom(p *EnterRoomParams) bool {
	if p == nil || p.RoomName == "" {
		c.logger.Error().Msg("OpJoinRoom() failed: a room name is required")
		return false
	}
	if !c.CheckIfOpCanBeSent(protocol.OpJoinGame, c.server) {
		return false
	}
	c.beginRoomEntry(p, JoinTypeJoinRoom)
	return c.sendRoomEntry(protocol.OpJoinGame, c.joinRoomParams(p))
}

// OpJoinOrCreateRoom joins the named room or creates it if missing.
func (c *Client) OpJoinOrCreateRoom(p *EnterRoomParams) bool {
	if p == nil || p.RoomName == "" {
		c.logger.Error().Msg("OpJoinOrCreateRoom() failed: a room name is required")
		return false
	}
	if !c.CheckIfOpCanBeSent(protocol.OpJoinGame, c.server) {
		return false
	}
	p.JoinMode = JoinModeCreateIfNotExists
	c.beginRoomEntry(p, JoinTypeJoinOrCreateRoom)
	return c.sendRoomEntry(protocol.OpJoinGame, c.joinRoomParams(p))
}

// OpRejoinRoom returns to a room the local user left as inactive actor.
func (c *Client) OpRejoinRoom(name string) bool {
	if name == "" {
		c.logger.Error().Msg("OpRejoinRoom() failed: a room name is required")
		return false
	}
	if !c.CheckIfOpCanBeSent(protocol.OpJoinGame, c.server) {
		return false
	}
	p := &EnterRoomParams{RoomName: name, JoinMode: JoinModeRejoinOnly}
	c.beginRoomEntry(p, JoinTypeJoinRoom)
	return c.sendRoomEntry(protocol.OpJoinGame, c.joinRoomParams(p))
}

// OpJoinRandomRoom joins any open room matching p.
func (c *Client) OpJoinRandomRoom(p *JoinRandomRoomParams) bool {
	if p == nil {
		p = &JoinRandomRoomParams{}
	}
	if !c.CheckIfOpCanBeSent(protocol.OpJoinRandomGame, c.server) {
		return false
	}
	c.beginRoomEntry(&EnterRoomParams{Lobby: p.Lobby, ExpectedUsers: p.ExpectedUsers}, JoinTypeJoinRandomRoom)
	return c.sendRoomEntry(protocol.OpJoinRandomGame, joinRandomParams(p, nil))
}

// OpJoinRandomOrCreateRoom joins a random matching room or creates one
// from create when none matches.
func (c *Client) OpJoinRandomOrCreateRoom(p *JoinRandomRoomParams, create *EnterRoomParams) bool {
	if p == nil {
		p = &JoinRandomRoomParams{}
	}
	if create == nil {
		create = &EnterRoomParams{}
	}
	if !c.CheckIfOpCanBeSent(protocol.OpJoinRandomGame, c.server) {
		return false
	}
	create.Lobby = p.Lobby
	create.ExpectedUsers = p.ExpectedUsers
	create.JoinMode = JoinModeCreateIfNotExists
	c.beginRoomEntry(create, JoinTypeJoinRandomOrCreateRoom)
	return c.sendRoomEntry(protocol.OpJoinRandomGame, joinRandomParams(p, create))
}

// OpLeaveRoom leaves the current room. With becomeInactive the actor stays
// in the room for its player TTL and may rejoin.
func (c *Client) OpLeaveRoom(becomeInactive bool) bool {
	var params protocol.Params
	if becomeInactive {
		params = protocol.Params{protocol.ParamIsInactive: true}
	}
	if !c.gatedSend(protocol.OpLeave, params, peer.SendReliable) {
		return false
	}
	// a room left on purpose is never rejoined by ReconnectAndRejoin
	c.enterRoomParamsCache = nil
	c.gameServerAddress = ""
	c.setState(Leaving)
	return true
}

// beginRoomEntry caches the request for the game server replay.
func (c *Client) beginRoomEntry(p *EnterRoomParams, jt JoinType) {
	p.onGameServer = c.server == GameServer
	c.enterRoomParamsCache = p
	c.lastJoinType = jt
	c.inLobbyBeforeJoin = c.InLobby()
	c.roomEntryNotified = false
	c.failedRoomEntry = nil
}

func (c *Client) sendRoomEntry(op byte, params protocol.Params) bool {
	if !c.sendOperation(op, params, peer.SendReliable) {
		return false
	}
	c.setState(Joining)
	return true
}

func (c *Client) createRoomParams(p *EnterRoomParams) protocol.Params {
	params := protocol.Params{}
	if p.RoomName != "" {
		params[protocol.ParamRoomName] = p.RoomName
	}
	addLobby(params, p.Lobby)
	if len(p.ExpectedUsers) > 0 {
		params[protocol.ParamExpectedUsers] = p.ExpectedUsers
	}
	if p.onGameServer {
		if len(p.PlayerProperties) > 0 {
			params[protocol.ParamPlayerProperties] = p.PlayerProperties
		}
		params[protocol.ParamBroadcast] = true
		roomOptionsToParams(params, p.RoomOptions)
	}
	return params
}

func (c *Client) joinRoomParams(p *EnterRoomParams) protocol.Params {
	params := protocol.Params{protocol.ParamRoomName: p.RoomName}
	switch p.JoinMode {
	case JoinModeCreateIfNotExists:
		params[protocol.ParamJoinMode] = byte(JoinModeCreateIfNotExists)
		addLobby(params, p.Lobby)
	case JoinModeRejoinOnly, JoinModeJoinOrRejoin:
		params[protocol.ParamJoinMode] = byte(p.JoinMode)
	}
	if len(p.ExpectedUsers) > 0 {
		params[protocol.ParamExpectedUsers] = p.ExpectedUsers
	}
	if p.onGameServer {
		if len(p.PlayerProperties) > 0 {
			params[protocol.ParamPlayerProperties] = p.PlayerProperties
		}
		params[protocol.ParamBroadcast] = true
		if p.JoinMode == JoinModeCreateIfNotExists {
			roomOptionsToParams(params, p.RoomOptions)
		}
	}
	return params
}

func joinRandomParams(p *JoinRandomRoomParams, create *EnterRoomParams) protocol.Params {
	params := protocol.Params{}
	expected := protocol.Hashtable{}
	expected.MergeStringKeys(p.ExpectedCustomRoomProperties)
	if p.ExpectedMaxPlayers > 0 {
		expected[protocol.GamePropMaxPlayers] = p.ExpectedMaxPlayers
	}
	if len(expected) > 0 {
		params[protocol.ParamGameProperties] = expected
	}
	if p.MatchingType != MatchmakingFillRoom {
		params[protocol.ParamMatchMakingType] = byte(p.MatchingType)
	}
	addLobby(params, p.Lobby)
	if p.SQLLobbyFilter != "" {
		params[protocol.ParamSQLLobbyFilter] = p.SQLLobbyFilter
	}
	if len(p.ExpectedUsers) > 0 {
		params[protocol.ParamExpectedUsers] = p.ExpectedUsers
	}
	if create != nil {
		params[protocol.ParamJoinMode] = byte(JoinModeCreateIfNotExists)
		if create.RoomName != "" {
			params[protocol.ParamRoomName] = create.RoomName
		}
	}
	return params
}

func roomOptionsToParams(params protocol.Params, opts *RoomOptions) {
	if opts == nil {
		opts = DefaultRoomOptions()
	}
	gameProps := protocol.Hashtable{}
	gameProps.MergeStringKeys(opts.CustomRoomProperties)
	gameProps[protocol.GamePropIsOpen] = opts.IsOpen
	gameProps[protocol.GamePropIsVisible] = opts.IsVisible
	lobbyProps := opts.CustomRoomPropertiesForLobby
	if lobbyProps == nil {
		lobbyProps = []string{}
	}
	gameProps[protocol.GamePropPropsListedInLobby] = lobbyProps
	if opts.MaxPlayers > 0 {
		gameProps[protocol.GamePropMaxPlayers] = opts.MaxPlayers
	}
	if opts.CleanupCacheOnLeave {
		gameProps[protocol.GamePropCleanupCacheOnLeave] = true
	}
	params[protocol.ParamGameProperties] = gameProps

	params[protocol.ParamCleanupCacheOnLeave] = opts.CleanupCacheOnLeave
	params[protocol.ParamCheckUserOnJoin] = true
	if opts.PlayerTTL > 0 || opts.PlayerTTL == -1 {
		params[protocol.ParamPlayerTTL] = opts.PlayerTTL
	}
	if opts.EmptyRoomTTL > 0 {
		params[protocol.ParamEmptyRoomTTL] = opts.EmptyRoomTTL
	}
	if opts.SuppressRoomEvents {
		params[protocol.ParamSuppressRoomEvents] = true
	}
	if opts.Plugins != nil {
		params[protocol.ParamPlugins] = opts.Plugins
	}
	if opts.PublishUserID {
		params[protocol.ParamPublishUserID] = true
	}
	params[protocol.ParamRoomOptionFlags] = roomFlags(opts)
}

func addLobby(params protocol.Params, lobby TypedLobby) {
	if lobby.IsDefault() {
		return
	}
	params[protocol.ParamLobbyName] = lobby.Name
	params[protocol.ParamLobbyType] = byte(lobby.Type)
}
