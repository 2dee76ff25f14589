package realtime

import (
	"fmt"
	"sort"

	"github.com/energizer-project/matchlink/internal/protocol"
)

// RoomInfo is a room as listed in a lobby.
type RoomInfo struct {
	Name             string             `json:"name"`
	RemovedFromList  bool               `json:"removed,omitempty"`
	MaxPlayers       int                `json:"max_players"`
	PlayerCount      int                `json:"player_count"`
	IsOpen           bool               `json:"is_open"`
	IsVisible        bool               `json:"is_visible"`
	MasterClientID   int                `json:"master_client_id,omitempty"`
	ExpectedUsers    []string           `json:"expected_users,omitempty"`
	PlayerTTL        int                `json:"player_ttl,omitempty"`
	EmptyRoomTTL     int                `json:"empty_room_ttl,omitempty"`
	PropsInLobby     []string           `json:"props_in_lobby,omitempty"`
	CustomProperties protocol.Hashtable `json:"-"`
}

// NewRoomInfo builds a listing entry from the server's property set.
func NewRoomInfo(name string, props protocol.Hashtable) *RoomInfo {
	ri := &RoomInfo{Name: name, IsOpen: true, IsVisible: true, CustomProperties: protocol.Hashtable{}}
	ri.cacheProperties(props)
	return ri
}

func (ri *RoomInfo) cacheProperties(props protocol.Hashtable) {
	if len(props) == 0 {
		return
	}
	if v, ok := props[protocol.GamePropRemoved]; ok {
		ri.RemovedFromList, _ = protocol.AsBool(v)
		if ri.RemovedFromList {
			return
		}
	}
	if v, ok := protocol.AsInt(props[protocol.GamePropMaxPlayers]); ok {
		ri.MaxPlayers = v
	}
	if v, ok := protocol.AsBool(props[protocol.GamePropIsOpen]); ok {
		ri.IsOpen = v
	}
	if v, ok := protocol.AsBool(props[protocol.GamePropIsVisible]); ok {
		ri.IsVisible = v
	}
	if v, ok := protocol.AsInt(props[protocol.GamePropPlayerCount]); ok {
		ri.PlayerCount = v
	}
	if v, ok := protocol.AsInt(props[protocol.GamePropMasterClientID]); ok {
		ri.MasterClientID = v
	}
	if v, ok := props[protocol.GamePropExpectedUsers]; ok {
		ri.ExpectedUsers, _ = protocol.AsStrings(v)
	}
	if v, ok := protocol.AsInt(props[protocol.GamePropPlayerTTL]); ok {
		ri.PlayerTTL = v
	}
	if v, ok := protocol.AsInt(props[protocol.GamePropEmptyRoomTTL]); ok {
		ri.EmptyRoomTTL = v
	}
	if v, ok := protocol.AsStrings(props[protocol.GamePropPropsListedInLobby]); ok {
		ri.PropsInLobby = v
	}
	if ri.CustomProperties == nil {
		ri.CustomProperties = protocol.Hashtable{}
	}
	ri.CustomProperties.MergeStringKeys(props)
}

func (ri *RoomInfo) String() string {
	return fmt.Sprintf("Room: '%s' visible: %t open: %t max: %d count: %d",
		ri.Name, ri.IsVisible, ri.IsOpen, ri.MaxPlayers, ri.PlayerCount)
}

// Room is the room the client is in. Players are keyed by actor number.
type Room struct {
	RoomInfo

	Players map[int]*Player
	flags   int
}

// RoomFactory creates the room object on successful entry.
type RoomFactory func(name string, opts *RoomOptions) *Room

// NewRoom is the default RoomFactory.
func NewRoom(name string, opts *RoomOptions) *Room {
	if opts == nil {
		opts = DefaultRoomOptions()
	}
	r := &Room{
		RoomInfo: RoomInfo{
			Name:             name,
			IsOpen:           opts.IsOpen,
			IsVisible:        opts.IsVisible,
			MaxPlayers:       opts.MaxPlayers,
			PlayerTTL:        opts.PlayerTTL,
			EmptyRoomTTL:     opts.EmptyRoomTTL,
			PropsInLobby:     opts.CustomRoomPropertiesForLobby,
			CustomProperties: protocol.Hashtable{},
		},
		Players: make(map[int]*Player),
		flags:   roomFlags(opts),
	}
	r.CustomProperties.MergeStringKeys(opts.CustomRoomProperties)
	return r
}

// GetPlayer returns the player with the given actor number or nil.
func (r *Room) GetPlayer(actorNumber int) *Player {
	return r.Players[actorNumber]
}

// StorePlayer adds or replaces a player and links it to the room.
func (r *Room) StorePlayer(p *Player) *Player {
	r.Players[p.ActorNumber] = p
	p.room = r
	return p
}

// RemovePlayer drops a player.
func (r *Room) RemovePlayer(actorNumber int) {
	if p, ok := r.Players[actorNumber]; ok {
		p.room = nil
		delete(r.Players, actorNumber)
	}
}

// SortedActorNumbers returns the known actor numbers in ascending order.
func (r *Room) SortedActorNumbers() []int {
	out := make([]int, 0, len(r.Players))
	for nr := range r.Players {
		out = append(out, nr)
	}
	sort.Ints(out)
	return out
}

// SuppressRoomEvents reports whether the server sends no join/leave events.
func (r *Room) SuppressRoomEvents() bool {
	return r.flags&roomFlagSuppressRoomEvents != 0
}

// BroadcastPropertiesChangeToAll reports whether property changes are echoed
// to the sender too.
func (r *Room) BroadcastPropertiesChangeToAll() bool {
	return r.flags&roomFlagBroadcastPropsChangeToAll != 0
}

func (r *Room) setFlags(flags int) {
	r.flags = flags
}

// ActorCount returns the number of known players.
func (r *Room) ActorCount() int {
	return len(r.Players)
}

func roomFlags(opts *RoomOptions) int {
	flags := roomFlagCheckUserOnJoin
	if opts.CleanupCacheOnLeave {
		flags |= roomFlagDeleteCacheOnLeave
	}
	if opts.SuppressRoomEvents {
		flags |= roomFlagSuppressRoomEvents
	}
	if opts.PublishUserID {
		flags |= roomFlagPublishUserID
	}
	if opts.DeleteNullProperties {
		flags |= roomFlagDeleteNullProps
	}
	if opts.BroadcastPropsChangeToAll {
		flags |= roomFlagBroadcastPropsChangeToAll
	}
	return flags
}
