// Package events defines the application events published by a matchlink
// client and the asynchronous bus that carries them to the API, telemetry
// and persistence layers.
package events

import (
	"time"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection lifecycle
	EventStateChanged      EventType = "state_changed"
	EventConnectedToMaster EventType = "connected_to_master"
	EventDisconnected      EventType = "disconnected"
	EventRegionsPinged     EventType = "regions_pinged"
	EventAuthFailed        EventType = "auth_failed"

	// Matchmaking
	EventJoinedLobby     EventType = "joined_lobby"
	EventRoomListUpdated EventType = "room_list_updated"
	EventJoinedRoom      EventType = "joined_room"
	EventLeftRoom        EventType = "left_room"
	EventRoomEntryFailed EventType = "room_entry_failed"
	EventFriendList      EventType = "friend_list"

	// In room
	EventPlayerEntered  EventType = "player_entered"
	EventPlayerLeft     EventType = "player_left"
	EventMasterSwitched EventType = "master_switched"
	EventServerError    EventType = "server_error"

	// System
	EventOperationResult EventType = "operation_result"
	EventConfigChanged   EventType = "config_changed"
	EventHeartbeat       EventType = "heartbeat"
	EventShutdown        EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now(), Payload: payload}
}

// StateChangedPayload carries a client state transition.
type StateChangedPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Server string `json:"server"`
}

// DisconnectedPayload is emitted once the client settled in Disconnected.
type DisconnectedPayload struct {
	Cause  string `json:"cause"`
	Server string `json:"server"`
	Region string `json:"region"`
}

// RegionsPingedPayload carries the best region and the summary to persist.
type RegionsPingedPayload struct {
	BestRegion string         `json:"best_region"`
	Summary    string         `json:"summary"`
	Pings      map[string]int `json:"pings"`
}

// RoomPayload describes the room the client entered or left.
type RoomPayload struct {
	Name       string `json:"name"`
	Created    bool   `json:"created"`
	ActorNr    int    `json:"actor_nr"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
}

// RoomEntryFailedPayload reports a failed create or join.
type RoomEntryFailedPayload struct {
	Operation string `json:"operation"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
}

// PlayerPayload identifies an actor in the current room.
type PlayerPayload struct {
	ActorNr  int    `json:"actor_nr"`
	NickName string `json:"nick_name"`
	Inactive bool   `json:"inactive"`
}

// OperationResultPayload reports the outcome of a sent or rejected operation.
type OperationResultPayload struct {
	Operation string `json:"operation"`
	Result    string `json:"result"`
}

// HeartbeatPayload is a periodic snapshot of the client and its host.
type HeartbeatPayload struct {
	State         string  `json:"state"`
	Server        string  `json:"server"`
	Region        string  `json:"region"`
	Room          string  `json:"room,omitempty"`
	Players       int     `json:"players"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
