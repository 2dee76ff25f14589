package realtime

import (
	"github.com/energizer-project/matchlink/internal/protocol"
)

func (c *Client) handleEvent(ev *protocol.EventData) {
	switch ev.Code {
	case protocol.EvGameList, protocol.EvGameListUpdate:
		c.updateRoomList(ev.Get(protocol.ParamGameList))
	case protocol.EvJoin:
		c.onJoinEvent(ev)
	case protocol.EvLeave:
		c.onLeaveEvent(ev)
	case protocol.EvPropertiesChanged:
		c.onPropertiesChangedEvent(ev)
	case protocol.EvAppStats:
		c.playersInRoomsCount, _ = protocol.AsInt(ev.Get(protocol.ParamPeerCount))
		c.roomsCount, _ = protocol.AsInt(ev.Get(protocol.ParamGameCount))
		c.playersOnMasterCount, _ = protocol.AsInt(ev.Get(protocol.ParamMasterPeerCount))
	case protocol.EvLobbyStats:
		c.updateLobbyStatistics(ev.Parameters)
	case protocol.EvErrorInfo:
		info, _ := protocol.AsString(ev.Get(protocol.ParamInfo))
		c.logger.Warn().Str("info", info).Msg("server error info")
		dispatch(&c.targets, func(cb ErrorInfoCallback) { cb.OnErrorInfo(ErrorInfo{Info: info}) })
	case protocol.EvAuthEvent:
		if t, ok := protocol.AsString(ev.Get(protocol.ParamToken)); ok && t != "" {
			c.ensureAuthValues().Token = t
			c.tokenCache = t
		}
	}

	dispatch(&c.targets, func(cb OnEventCallback) { cb.OnEvent(ev) })
}

func (c *Client) onJoinEvent(ev *protocol.EventData) {
	room := c.currentRoom
	if room == nil {
		c.logger.Warn().Int("actor", ev.Sender()).Msg("join event outside of a room")
		return
	}
	actorNr := ev.Sender()
	props, _ := protocol.AsHashtable(ev.Get(protocol.ParamPlayerProperties))

	if actorNr == c.localPlayer.ActorNumber {
		if actors, ok := protocol.AsInts(ev.Get(protocol.ParamActorList)); ok {
			c.reconcileActors(actors)
		}
		c.notifyRoomEntered()
		return
	}

	p := room.GetPlayer(actorNr)
	if p == nil {
		p = room.StorePlayer(c.playerFactory("", actorNr, false, props))
	} else {
		p.cacheProperties(props)
		p.IsInactive = false
		p.HasRejoined = true
	}
	dispatch(&c.targets, func(cb InRoomCallbacks) { cb.OnPlayerEnteredRoom(p) })
}

func (c *Client) onLeaveEvent(ev *protocol.EventData) {
	room := c.currentRoom
	if room == nil {
		return
	}
	actorNr := ev.Sender()
	p := room.GetPlayer(actorNr)
	inactive, _ := protocol.AsBool(ev.Get(protocol.ParamIsInactive))

	if p != nil {
		if inactive {
			p.IsInactive = true
		} else {
			room.RemovePlayer(actorNr)
		}
	}

	previousMaster := room.MasterClientID
	if nr, ok := protocol.AsInt(ev.Get(protocol.ParamMasterClientID)); ok {
		room.MasterClientID = nr
	} else if previousMaster == actorNr {
		room.MasterClientID = lowestActiveActor(room)
	}

	if p != nil {
		dispatch(&c.targets, func(cb InRoomCallbacks) { cb.OnPlayerLeftRoom(p) })
	}
	if room.MasterClientID != previousMaster {
		c.masterClientSwitched(room)
	}
}

func (c *Client) onPropertiesChangedEvent(ev *protocol.EventData) {
	room := c.currentRoom
	if room == nil {
		return
	}
	target, _ := protocol.AsInt(ev.Get(protocol.ParamTargetActorNr))
	props, _ := protocol.AsHashtable(ev.Get(protocol.ParamProperties))

	if target == 0 {
		previousMaster := room.MasterClientID
		room.cacheProperties(props)
		dispatch(&c.targets, func(cb InRoomCallbacks) { cb.OnRoomPropertiesUpdate(props) })
		if room.MasterClientID != previousMaster {
			c.masterClientSwitched(room)
		}
		return
	}

	p := c.playerOrCreate(target, props)
	dispatch(&c.targets, func(cb InRoomCallbacks) { cb.OnPlayerPropertiesUpdate(p, props) })
}

func (c *Client) masterClientSwitched(room *Room) {
	newMaster := room.GetPlayer(room.MasterClientID)
	c.logger.Debug().Int("master", room.MasterClientID).Msg("master client switched")
	dispatch(&c.targets, func(cb InRoomCallbacks) { cb.OnMasterClientSwitched(newMaster) })
}

func lowestActiveActor(room *Room) int {
	for _, nr := range room.SortedActorNumbers() {
		if p := room.GetPlayer(nr); p != nil && !p.IsInactive {
			return nr
		}
	}
	return 0
}
