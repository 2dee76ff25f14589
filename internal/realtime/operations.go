package realtime

import (
	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/protocol"
)

// settingsLobbyStats is the ServerSettings flag requesting lobby statistics.
const settingsLobbyStats byte = 0

// OpRaiseEvent sends a custom event to other actors in the room.
func (c *Client) OpRaiseEvent(code byte, payload interface{}, opts *RaiseEventOptions, send peer.SendOptions) bool {
	params := protocol.Params{protocol.ParamCode: code}
	if payload != nil {
		params[protocol.ParamData] = payload
	}
	if opts != nil {
		if opts.CachingOption != EventCachingDoNotCache {
			params[protocol.ParamCache] = byte(opts.CachingOption)
		}
		if len(opts.TargetActors) > 0 {
			params[protocol.ParamActorList] = opts.TargetActors
		} else if opts.Receivers != ReceiverOthers {
			params[protocol.ParamReceiverGroup] = byte(opts.Receivers)
		}
		if opts.InterestGroup != 0 {
			params[protocol.ParamInterestGroup] = opts.InterestGroup
		}
		if opts.WebFlags != 0 {
			params[protocol.ParamEventForward] = opts.WebFlags
		}
	}
	return c.gatedSend(protocol.OpRaiseEvent, params, send)
}

// OpSetCustomPropertiesOfRoom updates custom room properties. Only string
// keys are sent. With expected values the update is a compare-and-set on
// the server.
func (c *Client) OpSetCustomPropertiesOfRoom(props, expected protocol.Hashtable) bool {
	custom := props.StripToStringKeys()
	if len(custom) == 0 {
		c.logger.Warn().Msg("OpSetCustomPropertiesOfRoom() called without custom properties")
		return false
	}
	params := protocol.Params{
		protocol.ParamProperties: custom,
		protocol.ParamBroadcast:  true,
	}
	if len(expected) > 0 {
		params[protocol.ParamExpectedValues] = expected
	}
	if !c.gatedSend(protocol.OpSetProperties, params, peer.SendReliable) {
		return false
	}

	room := c.currentRoom
	if !room.BroadcastPropertiesChangeToAll() && len(expected) == 0 {
		// the server will not echo the change back to us
		room.cacheProperties(custom)
		dispatch(&c.targets, func(cb InRoomCallbacks) { cb.OnRoomPropertiesUpdate(custom) })
	}
	return true
}

// OpSetCustomPropertiesOfActor updates custom properties of an actor.
func (c *Client) OpSetCustomPropertiesOfActor(actorNr int, props, expected protocol.Hashtable) bool {
	if actorNr <= 0 {
		c.logger.Warn().Int("actor", actorNr).Msg("OpSetCustomPropertiesOfActor() needs an actor number")
		return false
	}
	custom := props.StripToStringKeys()
	if len(custom) == 0 {
		c.logger.Warn().Msg("OpSetCustomPropertiesOfActor() called without custom properties")
		return false
	}
	params := protocol.Params{
		protocol.ParamProperties: custom,
		protocol.ParamActorNr:    actorNr,
		protocol.ParamBroadcast:  true,
	}
	if len(expected) > 0 {
		params[protocol.ParamExpectedValues] = expected
	}
	if !c.gatedSend(protocol.OpSetProperties, params, peer.SendReliable) {
		return false
	}

	room := c.currentRoom
	if !room.BroadcastPropertiesChangeToAll() && len(expected) == 0 {
		if p := room.GetPlayer(actorNr); p != nil {
			p.cacheProperties(custom)
			dispatch(&c.targets, func(cb InRoomCallbacks) { cb.OnPlayerPropertiesUpdate(p, custom) })
		}
	}
	return true
}

// OpChangeGroups changes interest group subscriptions. A nil slice leaves
// that side unchanged; an empty slice means all groups.
func (c *Client) OpChangeGroups(remove, add []byte) bool {
	params := protocol.Params{}
	if remove != nil {
		params[protocol.ParamRemove] = remove
	}
	if add != nil {
		params[protocol.ParamAdd] = add
	}
	return c.gatedSend(protocol.OpChangeGroups, params, peer.SendReliable)
}

// OpWebRPC calls a web service configured for the application.
func (c *Client) OpWebRPC(path string, params interface{}, sendAuthCookie bool) bool {
	if path == "" {
		c.logger.Error().Msg("OpWebRPC() failed: empty path")
		return false
	}
	p := protocol.Params{protocol.ParamURIPath: path}
	if params != nil {
		p[protocol.ParamWebRPCParameters] = params
	}
	if sendAuthCookie {
		p[protocol.ParamEventForward] = webFlagSendAuthCookie
	}
	return c.gatedSend(protocol.OpWebRPC, p, peer.SendReliable)
}

// OpSettings tells the master server which optional updates to send.
func (c *Client) OpSettings(lobbyStats bool) bool {
	params := protocol.Params{}
	if lobbyStats {
		params[settingsLobbyStats] = true
	}
	return c.gatedSend(protocol.OpServerSettings, params, peer.SendReliable)
}

// OpGetRegions asks the name server for the region list.
func (c *Client) OpGetRegions() bool {
	params := protocol.Params{protocol.ParamAppID: c.appID}
	return c.gatedSend(protocol.OpGetRegions, params, c.secureSendOptions())
}

// OpGetGameList queries rooms of a SQL lobby with a filter.
func (c *Client) OpGetGameList(lobby TypedLobby, sqlFilter string) bool {
	if lobby.Type != LobbySQL {
		c.logger.Error().Str("lobby", lobby.String()).Msg("OpGetGameList() is only available for SQL lobbies")
		return false
	}
	if sqlFilter == "" {
		c.logger.Error().Msg("OpGetGameList() failed: empty filter")
		return false
	}
	params := protocol.Params{
		protocol.ParamLobbyName:      lobby.Name,
		protocol.ParamLobbyType:      byte(lobby.Type),
		protocol.ParamSQLLobbyFilter: sqlFilter,
	}
	return c.gatedSend(protocol.OpGetGameList, params, peer.SendReliable)
}

// OpFindFriends looks up which of userIDs are online and in which room.
// Empty ids, duplicates and the local user are dropped. Only one lookup can
// run at a time.
func (c *Client) OpFindFriends(userIDs []string, opts *FindFriendsOptions) bool {
	if c.friendListRequested != nil {
		c.logger.Warn().Msg("OpFindFriends() skipped: a lookup is still running")
		return false
	}
	if len(userIDs) == 0 {
		c.logger.Warn().Msg("OpFindFriends() skipped: no user ids")
		return false
	}
	if len(userIDs) > maxFriendRequestList {
		c.logger.Error().Int("count", len(userIDs)).Int("max", maxFriendRequestList).Msg("OpFindFriends() skipped: too many user ids")
		return false
	}

	self := c.UserID()
	seen := make(map[string]struct{}, len(userIDs))
	filtered := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" || id == self {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		filtered = append(filtered, id)
	}
	if len(filtered) == 0 {
		c.logger.Warn().Msg("OpFindFriends() skipped: nothing left after filtering")
		return false
	}

	params := protocol.Params{protocol.ParamFindFriendsRequestList: filtered}
	if m := opts.mask(); m != 0 {
		params[protocol.ParamFindFriendsOptions] = m
	}
	if !c.gatedSend(protocol.OpFindFriends, params, peer.SendReliable) {
		return false
	}
	c.friendListRequested = filtered
	return true
}

// OpGetLobbyStats requests statistics for lobbies, or for all lobbies when
// none are given.
func (c *Client) OpGetLobbyStats(lobbies []TypedLobby) bool {
	params := protocol.Params{}
	if len(lobbies) > 0 {
		names := make([]string, len(lobbies))
		types := make([]byte, len(lobbies))
		for i, l := range lobbies {
			names[i] = l.Name
			types[i] = byte(l.Type)
		}
		params[protocol.ParamLobbyName] = names
		params[protocol.ParamLobbyType] = types
	}
	return c.gatedSend(protocol.OpGetLobbyStats, params, peer.SendReliable)
}
