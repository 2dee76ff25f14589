package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/protocol"
	"github.com/energizer-project/matchlink/internal/region"
)

type sentOp struct {
	code   byte
	params protocol.Params
	opts   peer.SendOptions
}

// fakePeer records sends and lets tests inject callbacks. Callbacks are
// queued and delivered from Service like a real peer.
type fakePeer struct {
	mu       sync.Mutex
	listener peer.Listener
	queue    []func(peer.Listener)
	sent     []sentOp
	connects []string
	tokens   []interface{}
	secrets  [][]byte
	proto    peer.ConnectionProtocol

	state       atomic.Int32
	lastSend    atomic.Int64
	acks        atomic.Int64
	encryptions int
	disconnects int

	refuseSend    bool
	refuseConnect bool
}

func newFakePeer(p peer.ConnectionProtocol) *fakePeer {
	return &fakePeer{proto: p}
}

func (f *fakePeer) enqueue(fn func(peer.Listener)) {
	f.mu.Lock()
	f.queue = append(f.queue, fn)
	f.mu.Unlock()
}

func (f *fakePeer) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *fakePeer) Connect(address, proxy, appID string, token interface{}) bool {
	if f.refuseConnect || f.State() != peer.StateDisconnected {
		return false
	}
	f.mu.Lock()
	f.connects = append(f.connects, address)
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
	f.state.Store(int32(peer.StateConnecting))
	return true
}

func (f *fakePeer) Disconnect() {
	if f.State() == peer.StateDisconnected {
		return
	}
	f.disconnects++
	f.state.Store(int32(peer.StateDisconnected))
	f.enqueue(func(l peer.Listener) { l.OnStatusChanged(peer.StatusDisconnect) })
}

func (f *fakePeer) SendOperation(code byte, params protocol.Params, opts peer.SendOptions) bool {
	if f.refuseSend || f.State() != peer.StateConnected {
		return false
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentOp{code: code, params: params, opts: opts})
	f.mu.Unlock()
	f.lastSend.Store(time.Now().UnixNano())
	return true
}

func (f *fakePeer) Service() {
	f.mu.Lock()
	pending := f.queue
	f.queue = nil
	l := f.listener
	f.mu.Unlock()
	for _, fn := range pending {
		fn(l)
	}
}

func (f *fakePeer) SendAcksOnly() bool {
	if f.State() != peer.StateConnected {
		return false
	}
	f.acks.Add(1)
	f.lastSend.Store(time.Now().UnixNano())
	return true
}

func (f *fakePeer) State() peer.State { return peer.State(f.state.Load()) }

func (f *fakePeer) TransportProtocol() peer.ConnectionProtocol {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proto
}

func (f *fakePeer) SetTransportProtocol(p peer.ConnectionProtocol) {
	f.mu.Lock()
	f.proto = p
	f.mu.Unlock()
}

func (f *fakePeer) EstablishEncryption() bool {
	f.encryptions++
	f.enqueue(func(l peer.Listener) { l.OnStatusChanged(peer.StatusEncryptionEstablished) })
	return true
}

func (f *fakePeer) SetListener(l peer.Listener) {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
}

func (f *fakePeer) LastSendOutgoing() time.Time {
	return time.Unix(0, f.lastSend.Load())
}

func (f *fakePeer) InitPayloadEncryption(secret []byte) error {
	f.mu.Lock()
	f.secrets = append(f.secrets, secret)
	f.mu.Unlock()
	return nil
}

// accept completes a pending connect.
func (f *fakePeer) accept() {
	f.state.Store(int32(peer.StateConnected))
	f.enqueue(func(l peer.Listener) { l.OnStatusChanged(peer.StatusConnect) })
}

// fail reports a transport failure followed by Disconnect.
func (f *fakePeer) fail(status peer.StatusCode) {
	f.state.Store(int32(peer.StateDisconnected))
	f.enqueue(func(l peer.Listener) { l.OnStatusChanged(status) })
	f.enqueue(func(l peer.Listener) { l.OnStatusChanged(peer.StatusDisconnect) })
}

func (f *fakePeer) respond(resp *protocol.OperationResponse) {
	f.enqueue(func(l peer.Listener) { l.OnOperationResponse(resp) })
}

func (f *fakePeer) event(ev *protocol.EventData) {
	f.enqueue(func(l peer.Listener) { l.OnEvent(ev) })
}

func (f *fakePeer) ops() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.code
	}
	return out
}

func (f *fakePeer) lastOp() sentOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentOp{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakePeer) lastConnect() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connects) == 0 {
		return ""
	}
	return f.connects[len(f.connects)-1]
}

// rttProber answers with a fixed round trip per address.
type rttProber map[string]time.Duration

func (p rttProber) Probe(_ context.Context, addr string) (time.Duration, error) {
	if rtt, ok := p[addr]; ok {
		return rtt, nil
	}
	return 0, errors.New("unreachable")
}

// recorder implements every callback interface and logs calls by name.
type recorder struct {
	calls    []string
	causes   []DisconnectCause
	failures []protocol.ErrorCode
	friends  []FriendInfo
	rooms    []*RoomInfo
	entered  []*Player
	left     []*Player
	masters  []*Player
	events   []byte
	summary  string
	errInfo  []string
}

func (r *recorder) add(name string) { r.calls = append(r.calls, name) }

func (r *recorder) count(name string) int {
	n := 0
	for _, c := range r.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (r *recorder) OnConnected()                        { r.add("connected") }
func (r *recorder) OnConnectedToMaster()                { r.add("connected_to_master") }
func (r *recorder) OnRegionListReceived(*region.Handler) { r.add("region_list") }
func (r *recorder) OnDisconnected(cause DisconnectCause) {
	r.add("disconnected")
	r.causes = append(r.causes, cause)
}
func (r *recorder) OnCustomAuthenticationResponse(map[string]interface{}) {
	r.add("custom_auth_response")
}
func (r *recorder) OnCustomAuthenticationFailed(string) { r.add("custom_auth_failed") }

func (r *recorder) OnJoinedLobby() { r.add("joined_lobby") }
func (r *recorder) OnLeftLobby()   { r.add("left_lobby") }
func (r *recorder) OnRoomListUpdate(rooms []*RoomInfo) {
	r.add("room_list")
	r.rooms = rooms
}
func (r *recorder) OnLobbyStatisticsUpdate([]TypedLobbyInfo) { r.add("lobby_stats") }

func (r *recorder) OnFriendListUpdate(friends []FriendInfo) {
	r.add("friends")
	r.friends = friends
}
func (r *recorder) OnCreatedRoom() { r.add("created") }
func (r *recorder) OnCreateRoomFailed(code protocol.ErrorCode, _ string) {
	r.add("create_failed")
	r.failures = append(r.failures, code)
}
func (r *recorder) OnJoinedRoom() { r.add("joined") }
func (r *recorder) OnJoinRoomFailed(code protocol.ErrorCode, _ string) {
	r.add("join_failed")
	r.failures = append(r.failures, code)
}
func (r *recorder) OnJoinRandomFailed(code protocol.ErrorCode, _ string) {
	r.add("join_random_failed")
	r.failures = append(r.failures, code)
}
func (r *recorder) OnLeftRoom() { r.add("left_room") }

func (r *recorder) OnPlayerEnteredRoom(p *Player) {
	r.add("player_entered")
	r.entered = append(r.entered, p)
}
func (r *recorder) OnPlayerLeftRoom(p *Player) {
	r.add("player_left")
	r.left = append(r.left, p)
}
func (r *recorder) OnRoomPropertiesUpdate(protocol.Hashtable) { r.add("room_props") }
func (r *recorder) OnPlayerPropertiesUpdate(*Player, protocol.Hashtable) {
	r.add("player_props")
}
func (r *recorder) OnMasterClientSwitched(p *Player) {
	r.add("master_switched")
	r.masters = append(r.masters, p)
}

func (r *recorder) OnEvent(ev *protocol.EventData) { r.events = append(r.events, ev.Code) }

func (r *recorder) OnWebRPCResponse(*protocol.OperationResponse) { r.add("webrpc") }

func (r *recorder) OnErrorInfo(info ErrorInfo) { r.errInfo = append(r.errInfo, info.Info) }

func (r *recorder) OnRegionPingCompleted(_ *region.Handler, summary string) {
	r.add("pinged")
	r.summary = summary
}

const (
	euAddr     = "10.0.0.1:5055"
	usAddr     = "10.0.0.2:5055"
	masterAddr = "master.test:5055"
	gameAddr   = "game.test:5056"
)

func testPingConfig() region.PingConfig {
	return region.PingConfig{
		Attempts:      2,
		MaxPerAttempt: 200 * time.Millisecond,
		AttemptDelay:  time.Millisecond,
	}
}

type testEnv struct {
	c   *Client
	fp  *fakePeer
	rec *recorder
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	fp := newFakePeer(peer.ProtocolUDP)
	prober := rttProber{euAddr: 10 * time.Millisecond, usAddr: 50 * time.Millisecond}
	base := []Option{
		WithLogger(zerolog.Nop()),
		WithProber(prober),
		WithPingerConfig(testPingConfig()),
	}
	c := NewClient(fp, append(base, opts...)...)
	rec := &recorder{}
	c.AddCallbackTarget(rec)
	c.Service()
	t.Cleanup(c.regionHandler.Stop)
	return &testEnv{c: c, fp: fp, rec: rec}
}

// pump services the client until nothing is queued.
func (e *testEnv) pump() {
	for i := 0; i < 50; i++ {
		e.c.Service()
		e.c.deferredMu.Lock()
		deferred := len(e.c.deferred)
		e.c.deferredMu.Unlock()
		if e.fp.pending() == 0 && deferred == 0 {
			return
		}
	}
}

// waitFor pumps until cond holds.
func (e *testEnv) waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		e.pump()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.FailNow(t, fmt.Sprintf("timed out waiting for %s (state %s)", msg, e.c.State()))
}

func (e *testEnv) respond(op byte, params protocol.Params) {
	e.fp.respond(&protocol.OperationResponse{OperationCode: op, Parameters: params})
	e.pump()
}

func (e *testEnv) respondError(op byte, code protocol.ErrorCode) {
	e.fp.respond(&protocol.OperationResponse{OperationCode: op, ReturnCode: code, DebugMessage: "failed"})
	e.pump()
}

func (e *testEnv) event(code byte, params protocol.Params) {
	e.fp.event(&protocol.EventData{Code: code, Parameters: params})
	e.pump()
}

func (e *testEnv) accept() {
	e.fp.accept()
	e.pump()
}

func defaultSettings() AppSettings {
	return AppSettings{
		AppID:         "app",
		AppVersion:    "1.0",
		UseNameServer: true,
		Protocol:      peer.ProtocolUDP,
	}
}

// connectToMaster walks the name server and master server hops with a
// fixed region.
func (e *testEnv) connectToMaster(t *testing.T) {
	t.Helper()
	s := defaultSettings()
	s.FixedRegion = "eu"
	require.True(t, e.c.ConnectUsingSettings(s))
	e.accept()
	require.Equal(t, Authenticating, e.c.State())
	e.authenticateOnNameServer(t)
	e.authenticateOnMaster(t)
}

func (e *testEnv) authenticateOnNameServer(t *testing.T) {
	t.Helper()
	e.respond(protocol.OpAuthenticate, protocol.Params{
		protocol.ParamAddress: masterAddr,
		protocol.ParamCluster: "default",
		protocol.ParamToken:   "token-1",
		protocol.ParamUserID:  "user-1",
	})
	require.Equal(t, ConnectingToMasterServer, e.c.State())
	require.Equal(t, masterAddr, e.fp.lastConnect())
}

func (e *testEnv) authenticateOnMaster(t *testing.T) {
	t.Helper()
	e.accept()
	require.Equal(t, Authenticating, e.c.State())
	e.respond(protocol.OpAuthenticate, protocol.Params{protocol.ParamToken: "token-2"})
	require.Equal(t, ConnectedToMasterServer, e.c.State())
}

// hopToGame answers a master room request and authenticates on the game
// server, leaving the replayed request unanswered.
func (e *testEnv) hopToGame(t *testing.T, op byte, roomName string) {
	t.Helper()
	e.respond(op, protocol.Params{
		protocol.ParamAddress:  gameAddr,
		protocol.ParamRoomName: roomName,
	})
	require.Equal(t, ConnectingToGameServer, e.c.State())
	require.Equal(t, gameAddr, e.fp.lastConnect())
	e.accept()
	require.Equal(t, Authenticating, e.c.State())
	e.respond(protocol.OpAuthenticate, protocol.Params{protocol.ParamToken: "token-3"})
	require.Equal(t, Joining, e.c.State())
}
