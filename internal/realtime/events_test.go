package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/matchlink/internal/protocol"
)

// enterRoom joins room "r1" as actorNr with the given actors and master.
func (e *testEnv) enterRoom(t *testing.T, actorNr int, actors []int, master int) {
	t.Helper()
	e.connectToMaster(t)
	require.True(t, e.c.OpJoinRoom(&EnterRoomParams{RoomName: "r1"}))
	e.hopToGame(t, protocol.OpJoinGame, "r1")
	e.respond(protocol.OpJoinGame, protocol.Params{
		protocol.ParamActorNr:        actorNr,
		protocol.ParamActorList:      actors,
		protocol.ParamGameProperties: protocol.Hashtable{protocol.GamePropMasterClientID: master},
	})
	require.True(t, e.c.InRoom())
}

func TestReconcileActorsIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	e.enterRoom(t, 2, []int{1, 2, 3}, 1)
	room := e.c.CurrentRoom()
	first := room.GetPlayer(3)
	require.NotNil(t, first)

	e.c.reconcileActors([]int{1, 2, 3})
	e.c.reconcileActors([]int{3, 0, -1})

	assert.Equal(t, []int{1, 2, 3}, room.SortedActorNumbers())
	assert.Same(t, first, room.GetPlayer(3))
	assert.Same(t, e.c.LocalPlayer(), room.GetPlayer(2))
}

func TestJoinEventAddsAndReactivatesPlayers(t *testing.T) {
	e := newTestEnv(t)
	e.enterRoom(t, 1, []int{1}, 1)

	e.event(protocol.EvJoin, protocol.Params{
		protocol.ParamActorNr:          4,
		protocol.ParamPlayerProperties: protocol.Hashtable{protocol.ActorPropNickName: "dave"},
	})
	p := e.c.CurrentRoom().GetPlayer(4)
	require.NotNil(t, p)
	assert.Equal(t, "dave", p.NickName)
	assert.False(t, p.HasRejoined)

	e.event(protocol.EvLeave, protocol.Params{protocol.ParamActorNr: 4, protocol.ParamIsInactive: true})
	assert.True(t, p.IsInactive)
	assert.Same(t, p, e.c.CurrentRoom().GetPlayer(4))

	e.event(protocol.EvJoin, protocol.Params{protocol.ParamActorNr: 4})
	assert.Same(t, p, e.c.CurrentRoom().GetPlayer(4))
	assert.False(t, p.IsInactive)
	assert.True(t, p.HasRejoined)
	assert.Equal(t, 2, e.rec.count("player_entered"))
	assert.Equal(t, 1, e.rec.count("player_left"))
}

func TestLeaveEventRemovesPlayer(t *testing.T) {
	e := newTestEnv(t)
	e.enterRoom(t, 1, []int{1, 2}, 1)

	e.event(protocol.EvLeave, protocol.Params{protocol.ParamActorNr: 2})

	assert.Nil(t, e.c.CurrentRoom().GetPlayer(2))
	require.Len(t, e.rec.left, 1)
	assert.Equal(t, 2, e.rec.left[0].ActorNumber)
	assert.Equal(t, 0, e.rec.count("master_switched"))
}

func TestMasterClientSwitch(t *testing.T) {
	t.Run("from leave event parameter", func(t *testing.T) {
		e := newTestEnv(t)
		e.enterRoom(t, 3, []int{1, 2, 3}, 1)

		e.event(protocol.EvLeave, protocol.Params{
			protocol.ParamActorNr:        1,
			protocol.ParamMasterClientID: 3,
		})

		assert.Equal(t, 3, e.c.CurrentRoom().MasterClientID)
		assert.True(t, e.c.LocalPlayer().IsMasterClient())
		require.Len(t, e.rec.masters, 1)
		assert.Same(t, e.c.LocalPlayer(), e.rec.masters[0])
	})

	t.Run("lowest active actor when not announced", func(t *testing.T) {
		e := newTestEnv(t)
		e.enterRoom(t, 3, []int{1, 2, 3}, 1)
		e.event(protocol.EvLeave, protocol.Params{protocol.ParamActorNr: 2, protocol.ParamIsInactive: true})

		e.event(protocol.EvLeave, protocol.Params{protocol.ParamActorNr: 1})

		assert.Equal(t, 3, e.c.CurrentRoom().MasterClientID)
		assert.Equal(t, 1, e.rec.count("master_switched"))
	})

	t.Run("from room properties", func(t *testing.T) {
		e := newTestEnv(t)
		e.enterRoom(t, 2, []int{1, 2}, 1)

		e.event(protocol.EvPropertiesChanged, protocol.Params{
			protocol.ParamTargetActorNr: 0,
			protocol.ParamProperties:    protocol.Hashtable{protocol.GamePropMasterClientID: 2},
		})

		assert.True(t, e.c.LocalPlayer().IsMasterClient())
		assert.Equal(t, 1, e.rec.count("room_props"))
		assert.Equal(t, 1, e.rec.count("master_switched"))
	})
}

func TestPropertiesChangedEvent(t *testing.T) {
	e := newTestEnv(t)
	e.enterRoom(t, 1, []int{1, 2}, 1)

	e.event(protocol.EvPropertiesChanged, protocol.Params{
		protocol.ParamTargetActorNr: 0,
		protocol.ParamProperties:    protocol.Hashtable{"map": "forest", protocol.GamePropIsOpen: false},
	})
	room := e.c.CurrentRoom()
	assert.Equal(t, "forest", room.CustomProperties["map"])
	assert.False(t, room.IsOpen)

	e.event(protocol.EvPropertiesChanged, protocol.Params{
		protocol.ParamTargetActorNr: 2,
		protocol.ParamProperties:    protocol.Hashtable{"score": 10},
	})
	assert.Equal(t, 10, room.GetPlayer(2).CustomProperties["score"])

	// an unknown actor is created on the fly
	e.event(protocol.EvPropertiesChanged, protocol.Params{
		protocol.ParamTargetActorNr: 7,
		protocol.ParamProperties:    protocol.Hashtable{"score": 1},
	})
	require.NotNil(t, room.GetPlayer(7))
	assert.Equal(t, 2, e.rec.count("player_props"))
	assert.Equal(t, 0, e.rec.count("master_switched"))
}

func TestEventsOutsideRoom(t *testing.T) {
	e := newTestEnv(t)
	e.connectToMaster(t)

	e.event(protocol.EvAppStats, protocol.Params{
		protocol.ParamPeerCount:       12,
		protocol.ParamGameCount:       3,
		protocol.ParamMasterPeerCount: 5,
	})
	assert.Equal(t, 12, e.c.PlayersInRoomsCount())
	assert.Equal(t, 3, e.c.RoomsCount())
	assert.Equal(t, 5, e.c.PlayersOnMasterCount())

	e.event(protocol.EvGameList, protocol.Params{
		protocol.ParamGameList: protocol.Hashtable{
			"b": protocol.Hashtable{protocol.GamePropMaxPlayers: 4},
			"a": protocol.Hashtable{protocol.GamePropRemoved: true},
		},
	})
	require.Len(t, e.rec.rooms, 2)
	assert.Equal(t, "a", e.rec.rooms[0].Name)
	assert.Equal(t, "b", e.rec.rooms[1].Name)

	e.event(protocol.EvErrorInfo, protocol.Params{protocol.ParamInfo: "plugin failed"})
	assert.Equal(t, []string{"plugin failed"}, e.rec.errInfo)

	e.event(protocol.EvAuthEvent, protocol.Params{protocol.ParamToken: "refreshed"})
	assert.Equal(t, "refreshed", e.c.AuthValues().Token)

	e.event(protocol.EvJoin, protocol.Params{protocol.ParamActorNr: 2})
	assert.Equal(t, 0, e.rec.count("player_entered"))

	assert.Equal(t, []byte{
		protocol.EvAppStats,
		protocol.EvGameList,
		protocol.EvErrorInfo,
		protocol.EvAuthEvent,
		protocol.EvJoin,
	}, e.rec.events)
}

func TestLobbyStatisticsEvent(t *testing.T) {
	e := newTestEnv(t)
	e.connectToMaster(t)

	e.event(protocol.EvLobbyStats, protocol.Params{
		protocol.ParamLobbyName: []string{"", "ranked"},
		protocol.ParamLobbyType: []byte{0, 2},
		protocol.ParamPeerCount: []int{10, 4},
		protocol.ParamGameCount: []int{3},
	})

	stats := e.c.LobbyStatistics()
	require.Len(t, stats, 2)
	assert.Equal(t, TypedLobbyInfo{TypedLobby: TypedLobby{Name: "", Type: LobbyDefault}, PlayerCount: 10, RoomCount: 3}, stats[0])
	assert.Equal(t, TypedLobbyInfo{TypedLobby: TypedLobby{Name: "ranked", Type: LobbySQL}, PlayerCount: 4}, stats[1])
	assert.Equal(t, 1, e.rec.count("lobby_stats"))
}
