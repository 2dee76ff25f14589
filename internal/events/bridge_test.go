package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/protocol"
	"github.com/energizer-project/matchlink/internal/realtime"
	"github.com/energizer-project/matchlink/internal/region"
)

// collect subscribes to t and returns a channel of its events.
func collect(bus *EventBus, t EventType) <-chan Event {
	ch := make(chan Event, 8)
	bus.Subscribe(t, "collector", func(_ context.Context, e Event) error {
		ch <- e
		return nil
	})
	return ch
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		require.FailNow(t, "no event received")
		return Event{}
	}
}

func TestBridgeRoomLifecycle(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()
	joined := collect(bus, EventJoinedRoom)
	failed := collect(bus, EventRoomEntryFailed)
	left := collect(bus, EventLeftRoom)

	b := NewBridge(context.Background(), bus)
	b.OnCreatedRoom()
	b.OnJoinedRoom()
	e := next(t, joined)
	assert.Equal(t, bridgeSource, e.Source)
	assert.True(t, e.Payload.(RoomPayload).Created)

	b.OnJoinedRoom()
	assert.False(t, next(t, joined).Payload.(RoomPayload).Created)

	b.OnJoinRandomFailed(protocol.ErrorNoRandomMatchFound, "no match")
	p := next(t, failed).Payload.(RoomEntryFailedPayload)
	assert.Equal(t, "join_random", p.Operation)
	assert.Equal(t, int(protocol.ErrorNoRandomMatchFound), p.Code)
	assert.Equal(t, "no match", p.Message)

	b.OnLeftRoom()
	assert.Equal(t, EventLeftRoom, next(t, left).Type)
}

func TestBridgePlayersAndObservers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()
	entered := collect(bus, EventPlayerEntered)
	master := collect(bus, EventMasterSwitched)
	states := collect(bus, EventStateChanged)
	ops := collect(bus, EventOperationResult)

	b := NewBridge(context.Background(), bus)
	b.OnPlayerEnteredRoom(&realtime.Player{ActorNumber: 3, NickName: "cid"})
	assert.Equal(t, PlayerPayload{ActorNr: 3, NickName: "cid"}, next(t, entered).Payload)

	b.OnMasterClientSwitched(nil)
	assert.Equal(t, PlayerPayload{}, next(t, master).Payload)

	b.StateObserver(realtime.ConnectingToNameServer, realtime.ConnectedToNameServer)
	s := next(t, states).Payload.(StateChangedPayload)
	assert.Equal(t, "ConnectingToNameServer", s.From)
	assert.Equal(t, "ConnectedToNameServer", s.To)

	b.OperationObserver(protocol.OpJoinLobby, realtime.OperationRejected)
	assert.Equal(t, OperationResultPayload{Operation: "JoinLobby", Result: "rejected"}, next(t, ops).Payload)
}

func TestBridgeRegionsPinged(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()
	pinged := collect(bus, EventRegionsPinged)

	h := region.NewHandler(nil, nil, region.DefaultPingConfig())
	require.NoError(t, h.SetRegionList([]string{"eu", "us"}, []string{"10.0.0.1:5055", "10.0.0.2:5055"}))

	b := NewBridge(context.Background(), bus)
	b.OnRegionPingCompleted(h, "eu;30;eu,us")

	p := next(t, pinged).Payload.(RegionsPingedPayload)
	assert.Equal(t, "eu;30;eu,us", p.Summary)
	assert.Len(t, p.Pings, 2)
	assert.Contains(t, p.Pings, "us")
}

func TestBridgeAttachReportsDisconnect(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()
	disconnected := collect(bus, EventDisconnected)

	c := realtime.NewClient(peer.NewWSPeer(peer.ProtocolWebSocket), realtime.WithLogger(zerolog.Nop()))
	defer c.Close()
	b := NewBridge(context.Background(), bus)
	b.Attach(c)

	b.OnDisconnected(realtime.DisconnectCauseClientTimeout)
	p := next(t, disconnected).Payload.(DisconnectedPayload)
	assert.Equal(t, "ClientTimeout", p.Cause)
	assert.Equal(t, "MasterServer", p.Server)
	b.Detach()
}
