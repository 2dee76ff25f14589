package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/protocol"
)

func TestNewClientStartsInPeerCreated(t *testing.T) {
	e := newTestEnv(t)

	assert.Equal(t, PeerCreated, e.c.State())
	assert.False(t, e.c.IsConnected())
	assert.False(t, e.c.IsConnectedAndReady())
	assert.Equal(t, -1, e.c.LocalPlayer().ActorNumber)
	assert.Nil(t, e.c.CurrentRoom())
}

func TestConnectToBestRegionAndCreateRoom(t *testing.T) {
	e := newTestEnv(t)

	require.True(t, e.c.ConnectUsingSettings(defaultSettings()))
	assert.Equal(t, ConnectingToNameServer, e.c.State())
	assert.Equal(t, "ns.photonengine.io:5058", e.fp.lastConnect())

	e.accept()
	require.Equal(t, ConnectedToNameServer, e.c.State())
	assert.Equal(t, NameServer, e.c.Server())
	assert.Equal(t, protocol.OpGetRegions, e.fp.lastOp().code)

	e.respond(protocol.OpGetRegions, protocol.Params{
		protocol.ParamRegion:  []string{"eu", "us"},
		protocol.ParamAddress: []string{euAddr, usAddr},
	})
	assert.Equal(t, 1, e.rec.count("region_list"))

	e.waitFor(t, func() bool { return e.c.State() == Authenticating }, "authenticate for best region")
	assert.Equal(t, "eu", e.c.CloudRegion())
	assert.Equal(t, "eu", e.fp.lastOp().params[protocol.ParamRegion])
	assert.Equal(t, "eu;10;eu,us", e.c.SummaryToCache())
	assert.Equal(t, "eu;10;eu,us", e.rec.summary)

	e.authenticateOnNameServer(t)
	assert.Equal(t, "default", e.c.CurrentCluster())
	assert.Equal(t, "user-1", e.c.UserID())
	e.authenticateOnMaster(t)
	assert.Equal(t, 1, e.rec.count("connected_to_master"))

	opts := DefaultRoomOptions()
	opts.MaxPlayers = 4
	require.True(t, e.c.OpCreateRoom(&EnterRoomParams{RoomName: "r1", RoomOptions: opts}))
	assert.Equal(t, Joining, e.c.State())
	masterCreate := e.fp.lastOp()
	assert.Equal(t, protocol.OpCreateGame, masterCreate.code)
	assert.NotContains(t, masterCreate.params, protocol.ParamGameProperties)

	e.hopToGame(t, protocol.OpCreateGame, "r1")
	replay := e.fp.lastOp()
	require.Equal(t, protocol.OpCreateGame, replay.code)
	assert.Equal(t, true, replay.params[protocol.ParamBroadcast])
	gameProps, ok := replay.params[protocol.ParamGameProperties].(protocol.Hashtable)
	require.True(t, ok)
	assert.Equal(t, 4, gameProps[protocol.GamePropMaxPlayers])

	e.respond(protocol.OpCreateGame, protocol.Params{
		protocol.ParamActorNr:        1,
		protocol.ParamActorList:      []int{1},
		protocol.ParamGameProperties: protocol.Hashtable{protocol.GamePropMaxPlayers: 4, protocol.GamePropMasterClientID: 1},
	})
	require.Equal(t, Joined, e.c.State())
	require.True(t, e.c.InRoom())
	assert.Equal(t, GameServer, e.c.Server())
	assert.Equal(t, "r1", e.c.CurrentRoom().Name)
	assert.Equal(t, 1, e.c.LocalPlayer().ActorNumber)
	assert.True(t, e.c.LocalPlayer().IsMasterClient())

	// the local join event must not notify a second time
	e.event(protocol.EvJoin, protocol.Params{
		protocol.ParamActorNr:   1,
		protocol.ParamActorList: []int{1},
	})
	assert.Equal(t, 1, e.rec.count("created"))
	assert.Equal(t, 1, e.rec.count("joined"))
	assert.Equal(t, 1, e.c.CurrentRoom().ActorCount())
}

func TestLeaveRoomReturnsToMaster(t *testing.T) {
	e := newTestEnv(t)
	e.connectToMaster(t)
	require.True(t, e.c.OpJoinRoom(&EnterRoomParams{RoomName: "r1"}))
	e.hopToGame(t, protocol.OpJoinGame, "r1")
	e.respond(protocol.OpJoinGame, protocol.Params{protocol.ParamActorNr: 2, protocol.ParamActorList: []int{1, 2}})
	require.True(t, e.c.InRoom())
	assert.Equal(t, 0, e.rec.count("created"))

	require.True(t, e.c.OpLeaveRoom(false))
	assert.Equal(t, Leaving, e.c.State())

	e.respond(protocol.OpLeave, nil)
	assert.Equal(t, ConnectingToMasterServer, e.c.State())
	assert.Nil(t, e.c.CurrentRoom())
	assert.Equal(t, -1, e.c.LocalPlayer().ActorNumber)
	assert.Equal(t, 1, e.rec.count("left_room"))

	e.authenticateOnMaster(t)
	assert.Equal(t, 2, e.rec.count("connected_to_master"))
	assert.Equal(t, 1, e.rec.count("left_room"))
}

func TestLeaveRoomDropsRejoinTarget(t *testing.T) {
	e := newTestEnv(t)
	e.connectToMaster(t)
	require.True(t, e.c.OpJoinRoom(&EnterRoomParams{RoomName: "r1"}))
	e.hopToGame(t, protocol.OpJoinGame, "r1")
	e.respond(protocol.OpJoinGame, protocol.Params{protocol.ParamActorNr: 2})
	require.True(t, e.c.InRoom())
	require.Equal(t, gameAddr, e.c.GameServerAddress())

	require.True(t, e.c.OpLeaveRoom(false))
	assert.Nil(t, e.c.enterRoomParamsCache)
	assert.Empty(t, e.c.GameServerAddress())

	e.respond(protocol.OpLeave, nil)
	e.authenticateOnMaster(t)
	e.c.Disconnect(DisconnectCauseDisconnectByClientLogic)
	e.pump()
	require.Equal(t, Disconnected, e.c.State())

	connects := len(e.fp.connects)
	assert.False(t, e.c.ReconnectAndRejoin())
	assert.Len(t, e.fp.connects, connects)
	assert.Equal(t, Disconnected, e.c.State())
}

func TestGatingRejectsWithoutSending(t *testing.T) {
	e := newTestEnv(t)
	e.connectToMaster(t)
	before := len(e.fp.ops())

	assert.False(t, e.c.OpRaiseEvent(1, "payload", nil, peer.SendReliable))
	assert.False(t, e.c.OpLeaveRoom(false))
	assert.False(t, e.c.OpLeaveLobby())
	assert.False(t, e.c.OpGetRegions())
	assert.Len(t, e.fp.ops(), before)
	assert.Equal(t, ConnectedToMasterServer, e.c.State())
}

func TestJoinFailureOnGameServerIsReportedOnMaster(t *testing.T) {
	e := newTestEnv(t)
	e.connectToMaster(t)
	require.True(t, e.c.OpJoinRoom(&EnterRoomParams{RoomName: "full"}))
	e.hopToGame(t, protocol.OpJoinGame, "full")

	e.respondError(protocol.OpJoinGame, protocol.ErrorGameFull)
	assert.Equal(t, ConnectingToMasterServer, e.c.State())
	assert.Equal(t, 0, e.rec.count("join_failed"))
	assert.Equal(t, 0, e.rec.count("left_room"))

	e.authenticateOnMaster(t)
	assert.Equal(t, 1, e.rec.count("join_failed"))
	assert.Equal(t, []protocol.ErrorCode{protocol.ErrorGameFull}, e.rec.failures)
	// the failure replaces the connected-to-master notification
	assert.Equal(t, 1, e.rec.count("connected_to_master"))
	assert.Nil(t, e.c.enterRoomParamsCache)
}

func TestJoinFailureOnMasterRevertsState(t *testing.T) {
	e := newTestEnv(t)
	e.connectToMaster(t)
	require.True(t, e.c.OpJoinLobby(DefaultLobby))
	e.respond(protocol.OpJoinLobby, nil)
	require.True(t, e.c.InLobby())

	require.True(t, e.c.OpJoinRandomRoom(nil))
	assert.Equal(t, Joining, e.c.State())
	e.respondError(protocol.OpJoinRandomGame, protocol.ErrorNoRandomMatchFound)
	assert.Equal(t, JoinedLobby, e.c.State())
	assert.Equal(t, 1, e.rec.count("join_random_failed"))

	require.True(t, e.c.OpCreateRoom(&EnterRoomParams{RoomName: "taken"}))
	e.respondError(protocol.OpCreateGame, protocol.ErrorGameIDAlreadyExists)
	assert.Equal(t, JoinedLobby, e.c.State())
	assert.Equal(t, 1, e.rec.count("create_failed"))
}

func TestProtocolFallbackRetriesNameServer(t *testing.T) {
	e := newTestEnv(t)
	s := defaultSettings()
	s.EnableProtocolFallback = true
	require.True(t, e.c.ConnectUsingSettings(s))

	e.fp.fail(peer.StatusExceptionOnConnect)
	e.pump()

	assert.Equal(t, ConnectingToNameServer, e.c.State())
	assert.Equal(t, peer.ProtocolTCP, e.fp.TransportProtocol())
	assert.Equal(t, "ns.photonengine.io:4533", e.fp.lastConnect())
	assert.Equal(t, 0, e.rec.count("disconnected"))

	// fallback is used once
	e.fp.fail(peer.StatusExceptionOnConnect)
	e.pump()
	assert.Equal(t, Disconnected, e.c.State())
	assert.Equal(t, DisconnectCauseExceptionOnConnect, e.c.DisconnectedCause())
	assert.Equal(t, 1, e.rec.count("disconnected"))
}

func TestConnectFailureWithoutFallback(t *testing.T) {
	e := newTestEnv(t)
	require.True(t, e.c.ConnectUsingSettings(defaultSettings()))

	e.fp.fail(peer.StatusDnsExceptionOnConnect)
	e.pump()

	assert.Equal(t, Disconnected, e.c.State())
	assert.Equal(t, []DisconnectCause{DisconnectCauseDnsExceptionOnConnect}, e.rec.causes)
	assert.Len(t, e.fp.connects, 1)
}

func TestServerMatchesStateDuringFullFlow(t *testing.T) {
	var c *Client
	var violations []string
	observer := WithStateObserver(func(_, to ClientState) {
		if want, ok := ServerFor(to); ok && c.Server() != want {
			violations = append(violations, to.String()+" on "+c.Server().String())
		}
	})
	e := newTestEnv(t, observer)
	c = e.c

	e.connectToMaster(t)
	require.True(t, e.c.OpCreateRoom(&EnterRoomParams{RoomName: "r1"}))
	e.hopToGame(t, protocol.OpCreateGame, "r1")
	e.respond(protocol.OpCreateGame, protocol.Params{protocol.ParamActorNr: 1})
	require.True(t, e.c.OpLeaveRoom(false))
	e.respond(protocol.OpLeave, nil)
	e.authenticateOnMaster(t)
	e.c.Disconnect(DisconnectCauseDisconnectByClientLogic)
	e.pump()

	assert.Empty(t, violations)
	assert.Equal(t, Disconnected, e.c.State())
	assert.Equal(t, DisconnectCauseDisconnectByClientLogic, e.c.DisconnectedCause())
}

func TestHopTargetIsConsumedOnce(t *testing.T) {
	e := newTestEnv(t)
	e.connectToMaster(t)
	assert.Equal(t, hopNone, e.c.hop)

	require.True(t, e.c.OpJoinRoom(&EnterRoomParams{RoomName: "r1"}))
	e.fp.respond(&protocol.OperationResponse{
		OperationCode: protocol.OpJoinGame,
		Parameters:    protocol.Params{protocol.ParamAddress: gameAddr},
	})
	e.fp.Service()
	assert.Equal(t, DisconnectingFromMasterServer, e.c.State())
	assert.Equal(t, hopToGame, e.c.hop)

	e.pump()
	assert.Equal(t, hopNone, e.c.hop)
	assert.Equal(t, ConnectingToGameServer, e.c.State())
}

func TestDisconnectIsNoOpWhenDisconnecting(t *testing.T) {
	e := newTestEnv(t)
	e.c.Disconnect(DisconnectCauseDisconnectByClientLogic)
	assert.Equal(t, PeerCreated, e.c.State())

	e.connectToMaster(t)
	before := e.fp.disconnects
	e.c.Disconnect(DisconnectCauseDisconnectByClientLogic)
	assert.Equal(t, Disconnecting, e.c.State())
	e.c.Disconnect(DisconnectCauseApplicationQuit)
	assert.Equal(t, DisconnectCauseDisconnectByClientLogic, e.c.DisconnectedCause())
	assert.Equal(t, before+1, e.fp.disconnects)

	e.pump()
	assert.Equal(t, Disconnected, e.c.State())
	assert.Equal(t, "", e.c.AuthValues().Token)
	e.c.Disconnect(DisconnectCauseApplicationQuit)
	assert.Equal(t, Disconnected, e.c.State())
	assert.Equal(t, 1, e.rec.count("disconnected"))
}

func TestAuthenticationFailureDisconnects(t *testing.T) {
	e := newTestEnv(t)
	s := defaultSettings()
	s.FixedRegion = "eu"
	require.True(t, e.c.ConnectUsingSettings(s))
	e.accept()

	e.respondError(protocol.OpAuthenticate, protocol.ErrorCustomAuthenticationFailed)
	assert.Equal(t, Disconnected, e.c.State())
	assert.Equal(t, DisconnectCauseCustomAuthenticationFailed, e.c.DisconnectedCause())
	assert.Equal(t, 1, e.rec.count("custom_auth_failed"))
}

func TestAuthenticationErrorsMapToCause(t *testing.T) {
	tests := []struct {
		name string
		code protocol.ErrorCode
		want DisconnectCause
	}{
		{"invalid region", protocol.ErrorInvalidRegion, DisconnectCauseInvalidRegion},
		{"invalid authentication", protocol.ErrorInvalidAuthentication, DisconnectCauseInvalidAuthentication},
		{"custom authentication", protocol.ErrorCustomAuthenticationFailed, DisconnectCauseCustomAuthenticationFailed},
		{"max ccu", protocol.ErrorMaxCcuReached, DisconnectCauseMaxCcuReached},
		{"not allowed", protocol.ErrorOperationNotAllowedInCurrentState, DisconnectCauseOperationNotAllowedInCurrentState},
		{"ticket expired", protocol.ErrorAuthenticationTicketExpired, DisconnectCauseAuthenticationTicketExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var transitions []ClientState
			e := newTestEnv(t, WithStateObserver(func(_, to ClientState) { transitions = append(transitions, to) }))
			s := defaultSettings()
			s.FixedRegion = "eu"
			require.True(t, e.c.ConnectUsingSettings(s))
			e.accept()
			require.Equal(t, Authenticating, e.c.State())

			e.respondError(protocol.OpAuthenticate, tt.code)
			require.GreaterOrEqual(t, len(transitions), 2)
			assert.Equal(t, []ClientState{Disconnecting, Disconnected}, transitions[len(transitions)-2:])
			assert.Equal(t, tt.want, e.c.DisconnectedCause())
			assert.Equal(t, []DisconnectCause{tt.want}, e.rec.causes)
		})
	}
}

func TestOperationLimitDisconnects(t *testing.T) {
	e := newTestEnv(t)
	e.connectToMaster(t)
	require.True(t, e.c.OpJoinLobby(DefaultLobby))

	e.respondError(protocol.OpJoinLobby, protocol.ErrorOperationLimitReached)
	assert.Equal(t, Disconnected, e.c.State())
	assert.Equal(t, DisconnectCauseDisconnectByOperationLimit, e.c.DisconnectedCause())
	assert.Equal(t, 0, e.rec.count("joined_lobby"))
}

func TestAuthOnceWssSwitchesProtocolAfterNameServer(t *testing.T) {
	e := newTestEnv(t)
	s := defaultSettings()
	s.FixedRegion = "us"
	s.AuthMode = AuthModeAuthOnceWss
	require.True(t, e.c.ConnectUsingSettings(s))
	assert.Equal(t, peer.ProtocolWebSocketSecure, e.fp.TransportProtocol())
	assert.Equal(t, "ns.photonengine.io:19093", e.fp.lastConnect())

	e.accept()
	require.Equal(t, Authenticating, e.c.State())
	assert.Equal(t, 0, e.fp.encryptions)
	auth := e.fp.lastOp()
	assert.Equal(t, protocol.OpAuthenticateOnce, auth.code)
	assert.Equal(t, byte(peer.ProtocolUDP), auth.params[protocol.ParamExpectedProtocol])
	assert.False(t, auth.opts.Encrypt)

	e.respond(protocol.OpAuthenticateOnce, protocol.Params{
		protocol.ParamAddress:        masterAddr,
		protocol.ParamToken:          "once",
		protocol.ParamEncryptionData: []byte("secret"),
	})
	assert.Equal(t, ConnectingToMasterServer, e.c.State())
	assert.Equal(t, peer.ProtocolUDP, e.fp.TransportProtocol())
	assert.Equal(t, "once", e.fp.tokens[len(e.fp.tokens)-1])
	assert.Len(t, e.fp.secrets, 1)

	// the master answers the token from the connect request
	e.accept()
	assert.Equal(t, 0, e.fp.encryptions)
	e.respond(protocol.OpAuthenticateOnce, nil)
	assert.Equal(t, ConnectedToMasterServer, e.c.State())
	assert.Equal(t, protocol.OpServerSettings, e.fp.lastOp().code)
}

func TestConnectToMasterDirectly(t *testing.T) {
	e := newTestEnv(t)
	require.True(t, e.c.ConnectUsingSettings(AppSettings{Server: "127.0.0.1", Protocol: peer.ProtocolUDP}))
	assert.Equal(t, "127.0.0.1:5055", e.fp.lastConnect())
	assert.Equal(t, ConnectingToMasterServer, e.c.State())

	e.accept()
	auth := e.fp.lastOp()
	assert.Equal(t, protocol.OpAuthenticate, auth.code)
	assert.NotContains(t, auth.params, protocol.ParamToken)
	e.respond(protocol.OpAuthenticate, nil)
	assert.Equal(t, ConnectedToMasterServer, e.c.State())
}

func TestReconnectAndRejoin(t *testing.T) {
	e := newTestEnv(t)
	assert.False(t, e.c.ReconnectAndRejoin())
	assert.False(t, e.c.ReconnectToMaster())

	e.connectToMaster(t)
	require.True(t, e.c.OpJoinRoom(&EnterRoomParams{RoomName: "r1"}))
	e.hopToGame(t, protocol.OpJoinGame, "r1")
	e.respond(protocol.OpJoinGame, protocol.Params{protocol.ParamActorNr: 3})
	require.True(t, e.c.InRoom())

	e.fp.fail(peer.StatusTimeoutDisconnect)
	e.pump()
	require.Equal(t, Disconnected, e.c.State())
	assert.Equal(t, DisconnectCauseClientTimeout, e.c.DisconnectedCause())
	assert.Equal(t, 1, e.rec.count("left_room"))

	require.True(t, e.c.ReconnectAndRejoin())
	assert.Equal(t, gameAddr, e.fp.lastConnect())
	e.accept()
	e.respond(protocol.OpAuthenticate, nil)
	rejoin := e.fp.lastOp()
	assert.Equal(t, protocol.OpJoinGame, rejoin.code)
	assert.Equal(t, byte(JoinModeRejoinOnly), rejoin.params[protocol.ParamJoinMode])
	assert.NotContains(t, rejoin.params, protocol.ParamPlayerProperties)
}

func TestJoinRandomOrCreateDetectsCreation(t *testing.T) {
	e := newTestEnv(t)
	e.connectToMaster(t)

	require.True(t, e.c.OpJoinRandomOrCreateRoom(&JoinRandomRoomParams{ExpectedMaxPlayers: 2}, &EnterRoomParams{RoomName: "new"}))
	sent := e.fp.lastOp()
	assert.Equal(t, protocol.OpJoinRandomGame, sent.code)
	assert.Equal(t, byte(JoinModeCreateIfNotExists), sent.params[protocol.ParamJoinMode])

	e.hopToGame(t, protocol.OpJoinRandomGame, "new")
	replay := e.fp.lastOp()
	assert.Equal(t, protocol.OpJoinGame, replay.code)
	assert.Equal(t, byte(JoinModeCreateIfNotExists), replay.params[protocol.ParamJoinMode])
	assert.Contains(t, replay.params, protocol.ParamGameProperties)

	e.respond(protocol.OpJoinGame, protocol.Params{protocol.ParamActorNr: 1})
	assert.Equal(t, 1, e.rec.count("created"))
	assert.Equal(t, 1, e.rec.count("joined"))
}

func TestStateObserverAndOperationObserver(t *testing.T) {
	var transitions []ClientState
	results := map[OperationResult]int{}
	e := newTestEnv(t,
		WithStateObserver(func(_, to ClientState) { transitions = append(transitions, to) }),
		WithOperationObserver(func(_ byte, r OperationResult) { results[r]++ }),
	)
	e.connectToMaster(t)
	e.c.OpRaiseEvent(1, nil, nil, peer.SendReliable)

	assert.Equal(t, ConnectingToNameServer, transitions[0])
	assert.Equal(t, ConnectedToMasterServer, transitions[len(transitions)-1])
	assert.Equal(t, 1, results[OperationRejected])
	assert.Equal(t, 2, results[OperationSent])
	assert.Equal(t, 2, results[OperationSucceeded])
}
