package realtime

import (
	"reflect"
	"sync"

	"github.com/energizer-project/matchlink/internal/protocol"
	"github.com/energizer-project/matchlink/internal/region"
)

// ConnectionCallbacks reports connection lifecycle changes.
type ConnectionCallbacks interface {
	OnConnected()
	OnConnectedToMaster()
	OnDisconnected(cause DisconnectCause)
	OnRegionListReceived(regions *region.Handler)
	OnCustomAuthenticationResponse(data map[string]interface{})
	OnCustomAuthenticationFailed(debugMessage string)
}

// LobbyCallbacks reports lobby changes.
type LobbyCallbacks interface {
	OnJoinedLobby()
	OnLeftLobby()
	OnRoomListUpdate(rooms []*RoomInfo)
	OnLobbyStatisticsUpdate(stats []TypedLobbyInfo)
}

// MatchmakingCallbacks reports room entry and exit.
type MatchmakingCallbacks interface {
	OnFriendListUpdate(friends []FriendInfo)
	OnCreatedRoom()
	OnCreateRoomFailed(code protocol.ErrorCode, message string)
	OnJoinedRoom()
	OnJoinRoomFailed(code protocol.ErrorCode, message string)
	OnJoinRandomFailed(code protocol.ErrorCode, message string)
	OnLeftRoom()
}

// InRoomCallbacks reports changes inside the current room.
type InRoomCallbacks interface {
	OnPlayerEnteredRoom(p *Player)
	OnPlayerLeftRoom(p *Player)
	OnRoomPropertiesUpdate(changed protocol.Hashtable)
	OnPlayerPropertiesUpdate(p *Player, changed protocol.Hashtable)
	OnMasterClientSwitched(newMaster *Player)
}

// OnEventCallback receives every event after internal handling.
type OnEventCallback interface {
	OnEvent(ev *protocol.EventData)
}

// WebRPCCallback receives web RPC responses.
type WebRPCCallback interface {
	OnWebRPCResponse(resp *protocol.OperationResponse)
}

// ErrorInfoCallback receives server error info events.
type ErrorInfoCallback interface {
	OnErrorInfo(info ErrorInfo)
}

// RegionPingCallback is told when a region ping workflow finished and the
// summary is ready to persist.
type RegionPingCallback interface {
	OnRegionPingCompleted(regions *region.Handler, summary string)
}

type targetChange struct {
	target interface{}
	add    bool
}

// callbackTargets holds registered targets. Changes are queued and only
// applied between dispatches so the active list is never mutated while
// it is iterated.
type callbackTargets struct {
	mu      sync.Mutex
	pending []targetChange

	active []interface{}
}

func (t *callbackTargets) queue(target interface{}, add bool) bool {
	if target == nil || !reflect.TypeOf(target).Comparable() {
		return false
	}
	t.mu.Lock()
	t.pending = append(t.pending, targetChange{target: target, add: add})
	t.mu.Unlock()
	return true
}

// apply merges queued changes into the active list.
func (t *callbackTargets) apply() {
	t.mu.Lock()
	changes := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, ch := range changes {
		idx := -1
		for i, existing := range t.active {
			if existing == ch.target {
				idx = i
				break
			}
		}
		switch {
		case ch.add && idx < 0:
			t.active = append(t.active, ch.target)
		case !ch.add && idx >= 0:
			next := make([]interface{}, 0, len(t.active)-1)
			next = append(next, t.active[:idx]...)
			t.active = append(next, t.active[idx+1:]...)
		}
	}
}

func (t *callbackTargets) count() int {
	return len(t.active)
}

// dispatch calls fn for every active target implementing T.
func dispatch[T any](t *callbackTargets, fn func(T)) {
	for _, target := range t.active {
		if cb, ok := target.(T); ok {
			fn(cb)
		}
	}
}

// AddCallbackTarget registers target for every callback interface it
// implements. The change takes effect before the next callback delivery.
// Targets must be comparable, typically pointers.
func (c *Client) AddCallbackTarget(target interface{}) {
	if !c.targets.queue(target, true) {
		c.logger.Warn().Msgf("ignoring callback target of type %T", target)
	}
}

// RemoveCallbackTarget unregisters target before the next delivery.
func (c *Client) RemoveCallbackTarget(target interface{}) {
	c.targets.queue(target, false)
}
