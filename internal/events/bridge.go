package events

import (
	"context"

	"github.com/energizer-project/matchlink/internal/protocol"
	"github.com/energizer-project/matchlink/internal/realtime"
	"github.com/energizer-project/matchlink/internal/region"
)

const bridgeSource = "realtime"

// Bridge republishes realtime client callbacks on the EventBus. It runs on
// the client's pump goroutine and only ever calls Emit, which never blocks
// on subscribers.
type Bridge struct {
	bus    *EventBus
	ctx    context.Context
	client *realtime.Client

	created bool
}

// NewBridge creates a bridge publishing to bus. Call Attach once the client
// exists.
func NewBridge(ctx context.Context, bus *EventBus) *Bridge {
	return &Bridge{bus: bus, ctx: ctx}
}

// Attach registers the bridge as callback target of c.
func (b *Bridge) Attach(c *realtime.Client) {
	b.client = c
	c.AddCallbackTarget(b)
}

// Detach unregisters the bridge.
func (b *Bridge) Detach() {
	if b.client != nil {
		b.client.RemoveCallbackTarget(b)
	}
}

func (b *Bridge) emit(t EventType, payload interface{}) {
	b.bus.Emit(b.ctx, NewEvent(t, bridgeSource, payload))
}

// StateObserver is passed to realtime.WithStateObserver.
func (b *Bridge) StateObserver(from, to realtime.ClientState) {
	p := StateChangedPayload{From: from.String(), To: to.String()}
	if b.client != nil {
		p.Server = b.client.Server().String()
	}
	b.emit(EventStateChanged, p)
}

// OperationObserver is passed to realtime.WithOperationObserver.
func (b *Bridge) OperationObserver(op byte, result realtime.OperationResult) {
	b.emit(EventOperationResult, OperationResultPayload{Operation: protocol.OpName(op), Result: result.String()})
}

// ConnectionCallbacks

func (b *Bridge) OnConnected() {}

func (b *Bridge) OnConnectedToMaster() {
	b.emit(EventConnectedToMaster, nil)
}

func (b *Bridge) OnDisconnected(cause realtime.DisconnectCause) {
	p := DisconnectedPayload{Cause: cause.String()}
	if b.client != nil {
		p.Server = b.client.Server().String()
		p.Region = b.client.CloudRegion()
	}
	b.emit(EventDisconnected, p)
}

func (b *Bridge) OnRegionListReceived(*region.Handler) {}

func (b *Bridge) OnCustomAuthenticationResponse(map[string]interface{}) {}

func (b *Bridge) OnCustomAuthenticationFailed(msg string) {
	b.emit(EventAuthFailed, msg)
}

// LobbyCallbacks

func (b *Bridge) OnJoinedLobby() {
	lobby := realtime.DefaultLobby
	if b.client != nil {
		lobby = b.client.CurrentLobby()
	}
	b.emit(EventJoinedLobby, lobby)
}

func (b *Bridge) OnLeftLobby() {}

func (b *Bridge) OnRoomListUpdate(rooms []*realtime.RoomInfo) {
	b.emit(EventRoomListUpdated, rooms)
}

func (b *Bridge) OnLobbyStatisticsUpdate([]realtime.TypedLobbyInfo) {}

// MatchmakingCallbacks

func (b *Bridge) OnFriendListUpdate(friends []realtime.FriendInfo) {
	b.emit(EventFriendList, friends)
}

func (b *Bridge) OnCreatedRoom() {
	b.created = true
}

func (b *Bridge) OnJoinedRoom() {
	p := b.roomPayload()
	p.Created = b.created
	b.created = false
	b.emit(EventJoinedRoom, p)
}

func (b *Bridge) OnCreateRoomFailed(code protocol.ErrorCode, msg string) {
	b.roomEntryFailed("create", code, msg)
}

func (b *Bridge) OnJoinRoomFailed(code protocol.ErrorCode, msg string) {
	b.roomEntryFailed("join", code, msg)
}

func (b *Bridge) OnJoinRandomFailed(code protocol.ErrorCode, msg string) {
	b.roomEntryFailed("join_random", code, msg)
}

func (b *Bridge) roomEntryFailed(op string, code protocol.ErrorCode, msg string) {
	b.created = false
	b.emit(EventRoomEntryFailed, RoomEntryFailedPayload{Operation: op, Code: int(code), Message: msg})
}

func (b *Bridge) OnLeftRoom() {
	b.emit(EventLeftRoom, nil)
}

// InRoomCallbacks

func (b *Bridge) OnPlayerEnteredRoom(p *realtime.Player) {
	b.emit(EventPlayerEntered, playerPayload(p))
}

func (b *Bridge) OnPlayerLeftRoom(p *realtime.Player) {
	b.emit(EventPlayerLeft, playerPayload(p))
}

func (b *Bridge) OnRoomPropertiesUpdate(protocol.Hashtable) {}

func (b *Bridge) OnPlayerPropertiesUpdate(*realtime.Player, protocol.Hashtable) {}

func (b *Bridge) OnMasterClientSwitched(p *realtime.Player) {
	if p == nil {
		b.emit(EventMasterSwitched, PlayerPayload{})
		return
	}
	b.emit(EventMasterSwitched, playerPayload(p))
}

// ErrorInfoCallback

func (b *Bridge) OnErrorInfo(info realtime.ErrorInfo) {
	b.emit(EventServerError, info.Info)
}

// RegionPingCallback

func (b *Bridge) OnRegionPingCompleted(h *region.Handler, summary string) {
	p := RegionsPingedPayload{Summary: summary, Pings: make(map[string]int)}
	if best := h.BestRegion(); best != nil {
		p.BestRegion = best.Code
	}
	for _, info := range h.Infos() {
		p.Pings[info.Code] = info.Ping
	}
	b.emit(EventRegionsPinged, p)
}

func (b *Bridge) roomPayload() RoomPayload {
	if b.client == nil {
		return RoomPayload{}
	}
	room := b.client.CurrentRoom()
	if room == nil {
		return RoomPayload{}
	}
	return RoomPayload{
		Name:       room.Name,
		ActorNr:    b.client.LocalPlayer().ActorNumber,
		Players:    room.ActorCount(),
		MaxPlayers: room.MaxPlayers,
	}
}

func playerPayload(p *realtime.Player) PlayerPayload {
	return PlayerPayload{ActorNr: p.ActorNumber, NickName: p.NickName, Inactive: p.IsInactive}
}
