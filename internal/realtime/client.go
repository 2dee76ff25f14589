package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/protocol"
	"github.com/energizer-project/matchlink/internal/region"
)

// OperationResult classifies an operation for observers.
type OperationResult int

const (
	// OperationSent was handed to the peer.
	OperationSent OperationResult = iota
	// OperationRejected failed local gating and was never sent.
	OperationRejected
	// OperationSendFailed was accepted by gating but refused by the peer.
	OperationSendFailed
	// OperationSucceeded got a response with ReturnCode Ok.
	OperationSucceeded
	// OperationFailed got a response with an error ReturnCode.
	OperationFailed
)

// String returns the string representation of OperationResult.
func (r OperationResult) String() string {
	switch r {
	case OperationSent:
		return "sent"
	case OperationRejected:
		return "rejected"
	case OperationSendFailed:
		return "send_failed"
	case OperationSucceeded:
		return "ok"
	case OperationFailed:
		return "error"
	default:
		return "unknown"
	}
}

// Option configures a Client.
type Option func(*Client)

// WithPlayerFactory replaces the default player constructor.
func WithPlayerFactory(f PlayerFactory) Option {
	return func(c *Client) {
		if f != nil {
			c.playerFactory = f
		}
	}
}

// WithRoomFactory replaces the default room constructor.
func WithRoomFactory(f RoomFactory) Option {
	return func(c *Client) {
		if f != nil {
			c.roomFactory = f
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithStateObserver is called on every state change, on the pump goroutine.
func WithStateObserver(fn func(from, to ClientState)) Option {
	return func(c *Client) { c.stateObserver = fn }
}

// WithOperationObserver is called for every operation outcome.
func WithOperationObserver(fn func(op byte, result OperationResult)) Option {
	return func(c *Client) { c.opObserver = fn }
}

// WithPingerConfig tunes region pinging.
func WithPingerConfig(cfg region.PingConfig) Option {
	return func(c *Client) { c.pingConfig = cfg }
}

// WithProber sets how regions are probed. Defaults to UDP echo probes.
func WithProber(p region.Prober) Option {
	return func(c *Client) { c.prober = p }
}

// WithResolver sets the host resolver used for region addresses.
func WithResolver(r region.Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// Client is the connection and matchmaking state machine.
type Client struct {
	peer   peer.Peer
	logger zerolog.Logger

	state  atomic.Int32
	server ServerConnection
	cause  DisconnectCause
	hop    hopTarget

	appID                  string
	appVersion             string
	proxyAddress           string
	nameServerHost         string
	nameServerPort         int
	masterServerAddress    string
	gameServerAddress      string
	isUsingNameServer      bool
	cloudRegion            string
	currentCluster         string
	connectToBestRegion    bool
	summaryFromStorage     string
	summaryToCache         string
	authMode               AuthMode
	expectedProtocol       *peer.ConnectionProtocol
	enableProtocolFallback bool
	enableLobbyStats       bool

	authValues *AuthenticationValues
	tokenCache string

	localPlayer  *Player
	currentRoom  *Room
	currentLobby TypedLobby

	enterRoomParamsCache *EnterRoomParams
	lastJoinType         JoinType
	failedRoomEntry      *protocol.OperationResponse
	roomEntryNotified    bool
	inLobbyBeforeJoin    bool

	friendListRequested []string
	lobbyStatistics     []TypedLobbyInfo

	playersInRoomsCount  int
	roomsCount           int
	playersOnMasterCount int

	regionHandler *region.Handler
	prober        region.Prober
	resolver      region.Resolver
	pingConfig    region.PingConfig

	targets callbackTargets

	deferredMu sync.Mutex
	deferred   []func()

	lastService atomic.Int64

	playerFactory PlayerFactory
	roomFactory   RoomFactory
	stateObserver func(from, to ClientState)
	opObserver    func(op byte, result OperationResult)
}

// NewClient creates a client driving p. The client registers itself as
// the peer's listener.
func NewClient(p peer.Peer, opts ...Option) *Client {
	c := &Client{
		peer:          p,
		logger:        log.With().Str("component", "realtime").Logger(),
		pingConfig:    region.DefaultPingConfig(),
		playerFactory: NewPlayer,
		roomFactory:   NewRoom,
		authMode:      AuthModeAuth,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.prober == nil {
		c.prober = &region.UDPProber{}
	}
	c.regionHandler = region.NewHandler(c.prober, c.resolver, c.pingConfig)
	c.localPlayer = c.playerFactory("", -1, true, nil)
	c.state.Store(int32(PeerCreated))
	c.lastService.Store(time.Now().UnixNano())
	p.SetListener(c)
	return c
}

// State returns the current state. Safe from any goroutine.
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) setState(next ClientState) {
	prev := ClientState(c.state.Swap(int32(next)))
	if prev == next {
		return
	}
	c.logger.Debug().Str("from", prev.String()).Str("state", next.String()).Msg("state changed")
	if c.stateObserver != nil {
		c.stateObserver(prev, next)
	}
}

// Server returns the tier of the current or last connection.
func (c *Client) Server() ServerConnection { return c.server }

// IsConnected reports whether the peer has a live connection. Safe from any
// goroutine.
func (c *Client) IsConnected() bool {
	if c.peer.State() != peer.StateConnected {
		return false
	}
	switch c.State() {
	case PeerCreated, Disconnected:
		return false
	}
	return true
}

// IsConnectedAndReady reports whether the client is connected and not in
// the middle of a transition.
func (c *Client) IsConnectedAndReady() bool {
	if !c.IsConnected() {
		return false
	}
	switch c.State() {
	case ConnectingToNameServer,
		Authenticating,
		ConnectingToMasterServer,
		ConnectingToGameServer,
		Joining,
		Leaving,
		DisconnectingFromNameServer,
		DisconnectingFromMasterServer,
		DisconnectingFromGameServer,
		Disconnecting,
		ConnectWithFallbackProtocol:
		return false
	}
	return true
}

// InRoom reports whether the client is in a room.
func (c *Client) InRoom() bool {
	return c.State() == Joined && c.currentRoom != nil
}

// InLobby reports whether the client is in a lobby.
func (c *Client) InLobby() bool {
	return c.State() == JoinedLobby
}

// DisconnectedCause returns the reason for the last disconnect.
func (c *Client) DisconnectedCause() DisconnectCause { return c.cause }

// CurrentRoom returns the room the client is in, or nil.
func (c *Client) CurrentRoom() *Room { return c.currentRoom }

// CurrentLobby returns the lobby of the last lobby operation.
func (c *Client) CurrentLobby() TypedLobby { return c.currentLobby }

// LocalPlayer returns the local player. It is never nil.
func (c *Client) LocalPlayer() *Player { return c.localPlayer }

// RegionHandler returns the handler holding the last region list.
func (c *Client) RegionHandler() *region.Handler { return c.regionHandler }

// CloudRegion returns the region the client connects or is connected to.
func (c *Client) CloudRegion() string { return c.cloudRegion }

// CurrentCluster returns the cluster assigned by the name server.
func (c *Client) CurrentCluster() string { return c.currentCluster }

// SummaryToCache returns the region summary to persist, or "".
func (c *Client) SummaryToCache() string { return c.summaryToCache }

// MasterServerAddress returns the master address used for the next hop.
func (c *Client) MasterServerAddress() string { return c.masterServerAddress }

// GameServerAddress returns the game server address of the current room entry.
func (c *Client) GameServerAddress() string { return c.gameServerAddress }

// AuthValues returns the credentials in use, or nil.
func (c *Client) AuthValues() *AuthenticationValues { return c.authValues }

// SetAuthValues replaces the credentials used for the next authentication.
func (c *Client) SetAuthValues(v *AuthenticationValues) { c.authValues = v }

// UserID returns the user id of the credentials.
func (c *Client) UserID() string {
	if c.authValues == nil {
		return ""
	}
	return c.authValues.UserID
}

// SetUserID sets the user id used by the next authentication.
func (c *Client) SetUserID(id string) {
	if c.authValues == nil {
		c.authValues = NewAuthenticationValues(id)
		return
	}
	c.authValues.UserID = id
}

// NickName returns the local player's nickname.
func (c *Client) NickName() string { return c.localPlayer.NickName }

// SetNickName sets the nickname sent when entering rooms.
func (c *Client) SetNickName(name string) { c.localPlayer.NickName = name }

// LobbyStatistics returns the last lobby statistics update.
func (c *Client) LobbyStatistics() []TypedLobbyInfo { return c.lobbyStatistics }

// PlayersInRoomsCount is the app-wide number of players in rooms.
func (c *Client) PlayersInRoomsCount() int { return c.playersInRoomsCount }

// PlayersOnMasterCount is the app-wide number of players on master servers.
func (c *Client) PlayersOnMasterCount() int { return c.playersOnMasterCount }

// RoomsCount is the app-wide number of rooms.
func (c *Client) RoomsCount() int { return c.roomsCount }

// Peer returns the underlying transport.
func (c *Client) Peer() peer.Peer { return c.peer }

// SendAcksOnly keeps the connection alive without flushing operations.
// Safe from any goroutine.
func (c *Client) SendAcksOnly() bool {
	return c.peer.SendAcksOnly()
}

// LastService returns when Service last ran. Safe from any goroutine.
func (c *Client) LastService() time.Time {
	return time.Unix(0, c.lastService.Load())
}

// Service applies pending callback target changes, runs deferred calls and
// lets the peer deliver queued callbacks. Call it regularly from a single
// goroutine.
func (c *Client) Service() {
	c.lastService.Store(time.Now().UnixNano())
	c.targets.apply()
	c.runDeferred()
	c.peer.Service()
}

// post queues fn to run on the pump goroutine during the next Service.
func (c *Client) post(fn func()) {
	c.deferredMu.Lock()
	c.deferred = append(c.deferred, fn)
	c.deferredMu.Unlock()
}

func (c *Client) runDeferred() {
	c.deferredMu.Lock()
	queue := c.deferred
	c.deferred = nil
	c.deferredMu.Unlock()
	for _, fn := range queue {
		fn()
	}
}

func (c *Client) observeOperation(op byte, result OperationResult) {
	if c.opObserver != nil {
		c.opObserver(op, result)
	}
}

// sendOperation hands an already gated operation to the peer.
func (c *Client) sendOperation(op byte, params protocol.Params, opts peer.SendOptions) bool {
	sent := c.peer.SendOperation(op, params, opts)
	if !sent {
		c.logger.Error().Str("op", protocol.OpName(op)).Msg("peer refused operation")
		c.observeOperation(op, OperationSendFailed)
		return false
	}
	c.logger.Debug().Str("op", protocol.OpName(op)).Str("state", c.State().String()).Msg("operation sent")
	c.observeOperation(op, OperationSent)
	return true
}

// gatedSend checks op against the current server before sending it.
func (c *Client) gatedSend(op byte, params protocol.Params, opts peer.SendOptions) bool {
	if !c.CheckIfOpCanBeSent(op, c.server) {
		return false
	}
	return c.sendOperation(op, params, opts)
}

// changeLocalID re-keys the local player. In a room the player is moved to
// the new actor number.
func (c *Client) changeLocalID(actorNumber int) {
	if c.currentRoom != nil {
		c.currentRoom.RemovePlayer(c.localPlayer.ActorNumber)
	}
	c.localPlayer.ActorNumber = actorNumber
	if c.currentRoom != nil && actorNumber >= 0 {
		c.currentRoom.StorePlayer(c.localPlayer)
	}
}

// OnStatusChanged implements peer.Listener.
func (c *Client) OnStatusChanged(status peer.StatusCode) {
	c.targets.apply()
	c.handleStatus(status)
}

// OnOperationResponse implements peer.Listener.
func (c *Client) OnOperationResponse(resp *protocol.OperationResponse) {
	c.targets.apply()
	c.handleResponse(resp)
}

// OnEvent implements peer.Listener.
func (c *Client) OnEvent(ev *protocol.EventData) {
	c.targets.apply()
	c.handleEvent(ev)
}
