package realtime

import (
	"fmt"

	"github.com/energizer-project/matchlink/internal/protocol"
)

// Player is an actor in a room. The local player exists for the whole
// client lifetime and carries actor number -1 outside of rooms.
type Player struct {
	ActorNumber      int
	IsLocal          bool
	NickName         string
	UserID           string
	IsInactive       bool
	HasRejoined      bool
	CustomProperties protocol.Hashtable

	room *Room
}

// PlayerFactory creates players. Embedding applications may return players
// pre-populated with their own defaults.
type PlayerFactory func(nickName string, actorNumber int, isLocal bool, props protocol.Hashtable) *Player

// NewPlayer is the default PlayerFactory.
func NewPlayer(nickName string, actorNumber int, isLocal bool, props protocol.Hashtable) *Player {
	p := &Player{
		ActorNumber:      actorNumber,
		IsLocal:          isLocal,
		NickName:         nickName,
		CustomProperties: protocol.Hashtable{},
	}
	p.cacheProperties(props)
	return p
}

// Room returns the room the player is stored in, or nil.
func (p *Player) Room() *Room { return p.room }

// IsMasterClient reports whether the player is the room's master client.
func (p *Player) IsMasterClient() bool {
	return p.room != nil && p.room.MasterClientID == p.ActorNumber
}

// cacheProperties applies a property update from the server. Well-known
// keys update fields, string keys go into CustomProperties.
func (p *Player) cacheProperties(props protocol.Hashtable) {
	if len(props) == 0 {
		return
	}
	if v, ok := props[protocol.ActorPropNickName]; ok {
		if name, ok := protocol.AsString(v); ok {
			p.NickName = name
		}
	}
	if v, ok := props[protocol.ActorPropUserID]; ok {
		if id, ok := protocol.AsString(v); ok {
			p.UserID = id
		}
	}
	if v, ok := props[protocol.ActorPropIsInactive]; ok {
		if inactive, ok := protocol.AsBool(v); ok {
			p.IsInactive = inactive
		}
	}
	if p.CustomProperties == nil {
		p.CustomProperties = protocol.Hashtable{}
	}
	p.CustomProperties.MergeStringKeys(props)
}

func (p *Player) String() string {
	name := p.NickName
	if name == "" {
		name = "-"
	}
	local := ""
	if p.IsLocal {
		local = " local"
	}
	return fmt.Sprintf("#%02d '%s'%s", p.ActorNumber, name, local)
}
