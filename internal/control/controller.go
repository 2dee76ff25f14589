// Package control exposes the realtime client to the HTTP API and the
// console. Every call is marshalled onto the client's pump goroutine.
package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/matchlink/internal/config"
	"github.com/energizer-project/matchlink/internal/events"
	"github.com/energizer-project/matchlink/internal/realtime"
	"github.com/energizer-project/matchlink/internal/region"
	"github.com/energizer-project/matchlink/internal/store"
	"github.com/energizer-project/matchlink/internal/util"
)

// DefaultTimeout bounds a call when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

var (
	// ErrRejected means the client refused the request in its current state.
	ErrRejected = errors.New("rejected by client state")
	// ErrNoStore is returned by history queries when persistence is off.
	ErrNoStore = errors.New("storage is not configured")
)

// Controller drives a realtime client through its Runner.
type Controller struct {
	runner *realtime.Runner
	cfg    *config.Config
	store  *store.Store
	userID string
	logger zerolog.Logger

	mu         sync.RWMutex
	rooms      map[string]realtime.RoomInfo
	friends    []realtime.FriendInfo
	lobbyStats []realtime.TypedLobbyInfo
}

// New creates a controller. st may be nil.
func New(runner *realtime.Runner, cfg *config.Config, st *store.Store, userID string) *Controller {
	return &Controller{
		runner: runner,
		cfg:    cfg,
		store:  st,
		userID: userID,
		logger: util.ComponentLogger("control"),
		rooms:  make(map[string]realtime.RoomInfo),
	}
}

// PlayerStatus describes one actor of the current room.
type PlayerStatus struct {
	ActorNr  int    `json:"actor_nr"`
	NickName string `json:"nick_name"`
	UserID   string `json:"user_id,omitempty"`
	IsLocal  bool   `json:"is_local"`
	IsMaster bool   `json:"is_master"`
	Inactive bool   `json:"inactive"`
}

// RoomStatus describes the current room.
type RoomStatus struct {
	Name       string         `json:"name"`
	MaxPlayers int            `json:"max_players"`
	IsOpen     bool           `json:"is_open"`
	IsVisible  bool           `json:"is_visible"`
	MasterID   int            `json:"master_client_id"`
	Players    []PlayerStatus `json:"players"`
}

// Status is a snapshot of the client taken on the pump.
type Status struct {
	State           string      `json:"state"`
	Server          string      `json:"server"`
	Connected       bool        `json:"connected"`
	Ready           bool        `json:"ready"`
	Region          string      `json:"region"`
	Cluster         string      `json:"cluster,omitempty"`
	UserID          string      `json:"user_id"`
	NickName        string      `json:"nick_name"`
	InLobby         bool        `json:"in_lobby"`
	Lobby           string      `json:"lobby"`
	Room            *RoomStatus `json:"room,omitempty"`
	DisconnectCause string      `json:"disconnect_cause"`
	PlayersInRooms  int         `json:"players_in_rooms"`
	PlayersOnMaster int         `json:"players_on_master"`
	Rooms           int         `json:"rooms"`
}

// RegionStatus lists the pinged regions.
type RegionStatus struct {
	Best    string        `json:"best,omitempty"`
	Summary string        `json:"summary,omitempty"`
	Pinging bool          `json:"pinging"`
	Regions []region.Info `json:"regions"`
}

// CreateRoomRequest carries the options of CreateRoom.
type CreateRoomRequest struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"max_players"`
	Hidden     bool   `json:"hidden"`
	PlayerTTL  int    `json:"player_ttl"`
}

// do runs fn on the pump with a deadline.
func (ctl *Controller) do(ctx context.Context, fn func(*realtime.Client)) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	return ctl.runner.Do(ctx, fn)
}

// request runs an operation and maps a false return to ErrRejected.
func (ctl *Controller) request(ctx context.Context, name string, fn func(*realtime.Client) bool) error {
	var (
		ok    bool
		state realtime.ClientState
	)
	err := ctl.do(ctx, func(c *realtime.Client) {
		ok = fn(c)
		state = c.State()
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !ok {
		ctl.logger.Debug().Str("op", name).Str("state", state.String()).Msg("request rejected")
		return fmt.Errorf("%s in state %s: %w", name, state, ErrRejected)
	}
	ctl.logger.Debug().Str("op", name).Msg("request accepted")
	return nil
}

// Status returns a snapshot of the client.
func (ctl *Controller) Status(ctx context.Context) (Status, error) {
	var s Status
	err := ctl.do(ctx, func(c *realtime.Client) {
		s = Status{
			State:           c.State().String(),
			Server:          c.Server().String(),
			Connected:       c.IsConnected(),
			Ready:           c.IsConnectedAndReady(),
			Region:          c.CloudRegion(),
			Cluster:         c.CurrentCluster(),
			UserID:          c.UserID(),
			NickName:        c.NickName(),
			InLobby:         c.InLobby(),
			Lobby:           c.CurrentLobby().String(),
			DisconnectCause: c.DisconnectedCause().String(),
			PlayersInRooms:  c.PlayersInRoomsCount(),
			PlayersOnMaster: c.PlayersOnMasterCount(),
			Rooms:           c.RoomsCount(),
		}
		if c.InRoom() {
			s.Room = roomStatus(c.CurrentRoom(), c.LocalPlayer())
		}
	})
	return s, err
}

func roomStatus(room *realtime.Room, local *realtime.Player) *RoomStatus {
	rs := &RoomStatus{
		Name:       room.Name,
		MaxPlayers: room.MaxPlayers,
		IsOpen:     room.IsOpen,
		IsVisible:  room.IsVisible,
		MasterID:   room.MasterClientID,
	}
	for _, nr := range room.SortedActorNumbers() {
		p := room.GetPlayer(nr)
		if p == nil {
			continue
		}
		rs.Players = append(rs.Players, PlayerStatus{
			ActorNr:  p.ActorNumber,
			NickName: p.NickName,
			UserID:   p.UserID,
			IsLocal:  local != nil && p.ActorNumber == local.ActorNumber,
			IsMaster: p.ActorNumber == room.MasterClientID,
			Inactive: p.IsInactive,
		})
	}
	return rs
}

// Regions returns the region list with the latest pings.
func (ctl *Controller) Regions(ctx context.Context) (RegionStatus, error) {
	var rs RegionStatus
	err := ctl.do(ctx, func(c *realtime.Client) {
		rs.Summary = c.SummaryToCache()
		h := c.RegionHandler()
		if h == nil {
			return
		}
		rs.Regions = h.Infos()
		rs.Pinging = h.IsPinging()
		if best := h.BestRegion(); best != nil {
			rs.Best = best.Code
		}
		if rs.Summary == "" {
			rs.Summary = h.SummaryToCache()
		}
	})
	return rs, err
}

// Connect starts the configured connection flow. A non-empty region
// overrides the configured fixed region.
func (ctl *Controller) Connect(ctx context.Context, regionCode string) error {
	d := ctl.cfg.GetClientData()
	if regionCode = strings.TrimSpace(regionCode); regionCode != "" {
		d.FixedRegion = regionCode
	}

	var summary string
	if ctl.store != nil {
		var err error
		if summary, err = ctl.store.RegionSummary(); err != nil {
			ctl.logger.Warn().Err(err).Msg("failed to load region summary")
		}
	}

	settings, err := d.AppSettings(summary)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	return ctl.request(ctx, "connect", func(c *realtime.Client) bool {
		if ctl.userID != "" {
			c.SetUserID(ctl.userID)
		}
		if d.NickName != "" {
			c.SetNickName(d.NickName)
		}
		return c.ConnectUsingSettings(settings)
	})
}

// Disconnect leaves the current server on purpose.
func (ctl *Controller) Disconnect(ctx context.Context) error {
	return ctl.request(ctx, "disconnect", func(c *realtime.Client) bool {
		if !c.IsConnected() {
			return false
		}
		c.Disconnect(realtime.DisconnectCauseDisconnectByClientLogic)
		return true
	})
}

// Reconnect returns to the last master server, reusing the cached token.
func (ctl *Controller) Reconnect(ctx context.Context) error {
	return ctl.request(ctx, "reconnect", func(c *realtime.Client) bool {
		return c.ReconnectToMaster()
	})
}

// Rejoin reconnects to the last game server and rejoins its room.
func (ctl *Controller) Rejoin(ctx context.Context) error {
	return ctl.request(ctx, "rejoin", func(c *realtime.Client) bool {
		return c.ReconnectAndRejoin()
	})
}

// JoinLobby enters the default lobby.
func (ctl *Controller) JoinLobby(ctx context.Context) error {
	return ctl.request(ctx, "join_lobby", func(c *realtime.Client) bool {
		return c.OpJoinLobby(realtime.DefaultLobby)
	})
}

// LeaveLobby leaves the current lobby.
func (ctl *Controller) LeaveLobby(ctx context.Context) error {
	return ctl.request(ctx, "leave_lobby", func(c *realtime.Client) bool {
		return c.OpLeaveLobby()
	})
}

// CreateRoom creates a room. An empty name lets the server pick one.
func (ctl *Controller) CreateRoom(ctx context.Context, req CreateRoomRequest) error {
	if req.MaxPlayers < 0 || req.MaxPlayers > 255 {
		return fmt.Errorf("create_room: max players %d out of range", req.MaxPlayers)
	}
	opts := realtime.DefaultRoomOptions()
	opts.MaxPlayers = req.MaxPlayers
	opts.IsVisible = !req.Hidden
	opts.PlayerTTL = req.PlayerTTL

	return ctl.request(ctx, "create_room", func(c *realtime.Client) bool {
		return c.OpCreateRoom(&realtime.EnterRoomParams{RoomName: req.Name, RoomOptions: opts})
	})
}

// JoinRoom joins a room by name.
func (ctl *Controller) JoinRoom(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("join_room: room name is required")
	}
	return ctl.request(ctx, "join_room", func(c *realtime.Client) bool {
		return c.OpJoinRoom(&realtime.EnterRoomParams{RoomName: name})
	})
}

// JoinRandom joins a random room, creating one when create is set and none
// matches.
func (ctl *Controller) JoinRandom(ctx context.Context, maxPlayers int, create bool) error {
	params := &realtime.JoinRandomRoomParams{ExpectedMaxPlayers: maxPlayers}
	if !create {
		return ctl.request(ctx, "join_random", func(c *realtime.Client) bool {
			return c.OpJoinRandomRoom(params)
		})
	}

	opts := realtime.DefaultRoomOptions()
	opts.MaxPlayers = maxPlayers
	return ctl.request(ctx, "join_random_or_create", func(c *realtime.Client) bool {
		return c.OpJoinRandomOrCreateRoom(params, &realtime.EnterRoomParams{RoomOptions: opts})
	})
}

// LeaveRoom leaves the current room for good.
func (ctl *Controller) LeaveRoom(ctx context.Context) error {
	return ctl.request(ctx, "leave_room", func(c *realtime.Client) bool {
		return c.OpLeaveRoom(false)
	})
}

// FindFriends asks the master server where the given users are. Results
// arrive asynchronously; see Friends.
func (ctl *Controller) FindFriends(ctx context.Context, ids []string) error {
	return ctl.request(ctx, "find_friends", func(c *realtime.Client) bool {
		return c.OpFindFriends(ids, nil)
	})
}

// History returns the newest n recorded disconnects.
func (ctl *Controller) History(n int) ([]store.Disconnect, error) {
	if ctl.store == nil {
		return nil, ErrNoStore
	}
	return ctl.store.RecentDisconnects(n)
}

// LobbyRooms returns the cached lobby room list sorted by name.
func (ctl *Controller) LobbyRooms() []realtime.RoomInfo {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()

	out := make([]realtime.RoomInfo, 0, len(ctl.rooms))
	for _, r := range ctl.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Friends returns the result of the last friend lookup.
func (ctl *Controller) Friends() []realtime.FriendInfo {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()

	out := make([]realtime.FriendInfo, len(ctl.friends))
	copy(out, ctl.friends)
	return out
}

// Attach registers the controller for lobby callbacks of c, so the room
// cache follows the order the client delivers updates in.
func (ctl *Controller) Attach(c *realtime.Client) {
	c.AddCallbackTarget(ctl)
}

// LobbyStats returns the last lobby statistics.
func (ctl *Controller) LobbyStats() []realtime.TypedLobbyInfo {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	return append([]realtime.TypedLobbyInfo(nil), ctl.lobbyStats...)
}

func (ctl *Controller) resetRooms() {
	ctl.mu.Lock()
	ctl.rooms = make(map[string]realtime.RoomInfo)
	ctl.mu.Unlock()
}

// OnJoinedLobby implements realtime.LobbyCallbacks.
func (ctl *Controller) OnJoinedLobby() { ctl.resetRooms() }

// OnLeftLobby implements realtime.LobbyCallbacks.
func (ctl *Controller) OnLeftLobby() { ctl.resetRooms() }

// OnRoomListUpdate merges a full or partial game list into the cache.
func (ctl *Controller) OnRoomListUpdate(rooms []*realtime.RoomInfo) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	for _, r := range rooms {
		if r == nil {
			continue
		}
		if r.RemovedFromList {
			delete(ctl.rooms, r.Name)
			continue
		}
		ctl.rooms[r.Name] = *r
	}
}

// OnLobbyStatisticsUpdate implements realtime.LobbyCallbacks.
func (ctl *Controller) OnLobbyStatisticsUpdate(stats []realtime.TypedLobbyInfo) {
	ctl.mu.Lock()
	ctl.lobbyStats = append([]realtime.TypedLobbyInfo(nil), stats...)
	ctl.mu.Unlock()
}

// Subscribe keeps the friend cache current and drops the room cache once
// the client disconnected.
func (ctl *Controller) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventDisconnected, "control", func(context.Context, events.Event) error {
		ctl.resetRooms()
		return nil
	})

	bus.Subscribe(events.EventFriendList, "control", func(_ context.Context, e events.Event) error {
		friends, ok := e.Payload.([]realtime.FriendInfo)
		if !ok {
			return nil
		}
		ctl.mu.Lock()
		ctl.friends = append([]realtime.FriendInfo(nil), friends...)
		ctl.mu.Unlock()
		return nil
	})
}
