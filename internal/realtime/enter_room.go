package realtime

import (
	"github.com/energizer-project/matchlink/internal/protocol"
)

// gameEntered finalizes a room entry on the game server. A failure is kept
// until the client is back on the master server and reported there.
func (c *Client) gameEntered(resp *protocol.OperationResponse) {
	if resp.ReturnCode != protocol.ErrorOk {
		c.logResponseError(resp)
		c.failedRoomEntry = resp
		c.disconnectToReconnect(hopToMaster)
		return
	}

	var (
		name string
		opts *RoomOptions
	)
	if p := c.enterRoomParamsCache; p != nil {
		name = p.RoomName
		opts = p.RoomOptions
	}
	if n, ok := protocol.AsString(resp.Get(protocol.ParamRoomName)); ok && n != "" {
		name = n
	}

	c.currentRoom = c.roomFactory(name, opts)
	actorNr, _ := protocol.AsInt(resp.Get(protocol.ParamActorNr))
	c.changeLocalID(actorNr)

	if actors, ok := protocol.AsInts(resp.Get(protocol.ParamActorList)); ok {
		c.reconcileActors(actors)
	}
	gameProps, _ := protocol.AsHashtable(resp.Get(protocol.ParamGameProperties))
	actorProps, _ := protocol.AsHashtable(resp.Get(protocol.ParamPlayerProperties))
	c.readoutProperties(gameProps, actorProps, 0)
	if flags, ok := protocol.AsInt(resp.Get(protocol.ParamRoomOptionFlags)); ok {
		c.currentRoom.setFlags(flags)
	}

	c.setState(Joined)
	c.logger.Info().Str("room", c.currentRoom.Name).Int("actor", actorNr).Int("players", c.currentRoom.ActorCount()).Msg("joined room")
	c.notifyRoomEntered()
}

// notifyRoomEntered fires created (when this client made the room) and
// joined, at most once per entry.
func (c *Client) notifyRoomEntered() {
	if c.roomEntryNotified {
		return
	}
	c.roomEntryNotified = true

	created := c.lastJoinType == JoinTypeCreateRoom
	switch c.lastJoinType {
	case JoinTypeJoinOrCreateRoom, JoinTypeJoinRandomOrCreateRoom:
		created = c.localPlayer.ActorNumber == 1
	}
	if created {
		dispatch(&c.targets, func(cb MatchmakingCallbacks) { cb.OnCreatedRoom() })
	}
	dispatch(&c.targets, func(cb MatchmakingCallbacks) { cb.OnJoinedRoom() })
}

// reconcileActors adds placeholder players for actor numbers not yet known.
// Applying the same list twice changes nothing.
func (c *Client) reconcileActors(actors []int) {
	if c.currentRoom == nil {
		return
	}
	for _, nr := range actors {
		if nr <= 0 || c.currentRoom.GetPlayer(nr) != nil {
			continue
		}
		c.currentRoom.StorePlayer(c.playerFactory("", nr, false, nil))
	}
}

// readoutProperties caches room and actor properties. With targetActor 0
// actorProps maps actor numbers to property sets; otherwise it holds the
// properties of targetActor.
func (c *Client) readoutProperties(gameProps, actorProps protocol.Hashtable, targetActor int) {
	room := c.currentRoom
	if room == nil {
		return
	}
	if len(gameProps) > 0 {
		room.cacheProperties(gameProps)
	}
	if len(actorProps) == 0 {
		return
	}

	if targetActor > 0 {
		c.playerOrCreate(targetActor, actorProps)
		return
	}
	for k, v := range actorProps {
		nr, ok := protocol.AsInt(k)
		if !ok || nr <= 0 {
			continue
		}
		props, ok := protocol.AsHashtable(v)
		if !ok {
			continue
		}
		c.playerOrCreate(nr, props)
	}
}

// playerOrCreate applies props to the player, creating it if unknown.
func (c *Client) playerOrCreate(actorNr int, props protocol.Hashtable) *Player {
	if p := c.currentRoom.GetPlayer(actorNr); p != nil {
		p.cacheProperties(props)
		return p
	}
	p := c.playerFactory("", actorNr, false, props)
	return c.currentRoom.StorePlayer(p)
}
