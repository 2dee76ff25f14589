package realtime

import (
	"fmt"

	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/protocol"
)

// DefaultNameServerHost is used when AppSettings.Server is empty.
const DefaultNameServerHost = "ns.photonengine.io"

// DefaultMasterServerPort is used for direct master connections without a port.
const DefaultMasterServerPort = 5055

// AppSettings is everything ConnectUsingSettings needs.
type AppSettings struct {
	AppID      string
	AppVersion string

	// UseNameServer selects the name server flow. When false, Server and
	// Port address a master server directly.
	UseNameServer bool
	// FixedRegion skips region pinging when set.
	FixedRegion string
	Server      string
	Port        int
	ProxyServer string
	Protocol    peer.ConnectionProtocol
	AuthMode    AuthMode

	EnableProtocolFallback bool
	EnableLobbyStatistics  bool

	// BestRegionSummaryFromStorage is a summary persisted by a previous run.
	BestRegionSummaryFromStorage string
}

// IsDefaultNameServer reports whether no name server host override is set.
func (s AppSettings) IsDefaultNameServer() bool {
	return s.UseNameServer && s.Server == ""
}

// CustomAuthenticationType selects a custom authentication provider.
type CustomAuthenticationType byte

const (
	CustomAuthCustom CustomAuthenticationType = 0
	CustomAuthSteam  CustomAuthenticationType = 1
	CustomAuthNone   CustomAuthenticationType = 255
)

// AuthenticationValues carries credentials. Token is rewritten by every
// authenticate response.
type AuthenticationValues struct {
	UserID            string
	AuthType          CustomAuthenticationType
	AuthGetParameters string
	AuthPostData      interface{}
	Token             string
}

// NewAuthenticationValues creates values without custom authentication.
func NewAuthenticationValues(userID string) *AuthenticationValues {
	return &AuthenticationValues{UserID: userID, AuthType: CustomAuthNone}
}

// LobbyType selects lobby listing semantics.
type LobbyType byte

const (
	LobbyDefault     LobbyType = 0
	LobbySQL         LobbyType = 2
	LobbyAsyncRandom LobbyType = 3
)

// TypedLobby names a lobby.
type TypedLobby struct {
	Name string    `json:"name"`
	Type LobbyType `json:"type"`
}

// DefaultLobby is the unnamed default lobby.
var DefaultLobby = TypedLobby{}

// IsDefault reports whether l is the default lobby.
func (l TypedLobby) IsDefault() bool {
	return l.Name == "" && l.Type == LobbyDefault
}

func (l TypedLobby) String() string {
	if l.IsDefault() {
		return "default"
	}
	return fmt.Sprintf("%s(%d)", l.Name, l.Type)
}

// TypedLobbyInfo is a lobby with its statistics.
type TypedLobbyInfo struct {
	TypedLobby
	PlayerCount int `json:"player_count"`
	RoomCount   int `json:"room_count"`
}

// JoinMode tells the server how to treat a join.
type JoinMode byte

const (
	JoinModeDefault           JoinMode = 0
	JoinModeCreateIfNotExists JoinMode = 1
	JoinModeJoinOrRejoin      JoinMode = 2
	JoinModeRejoinOnly        JoinMode = 3
)

// MatchmakingMode selects how a random room is picked.
type MatchmakingMode byte

const (
	MatchmakingFillRoom MatchmakingMode = iota
	MatchmakingSerialMatching
	MatchmakingRandomMatching
)

// Room option flags sent alongside the individual parameters.
const (
	roomFlagCheckUserOnJoin           = 0x01
	roomFlagDeleteCacheOnLeave        = 0x02
	roomFlagSuppressRoomEvents        = 0x04
	roomFlagPublishUserID             = 0x08
	roomFlagDeleteNullProps           = 0x10
	roomFlagBroadcastPropsChangeToAll = 0x20
)

// RoomOptions configures a room on creation. Use DefaultRoomOptions as the
// starting point; several defaults are true.
type RoomOptions struct {
	IsVisible                    bool
	IsOpen                       bool
	MaxPlayers                   int
	PlayerTTL                    int
	EmptyRoomTTL                 int
	CleanupCacheOnLeave          bool
	CustomRoomProperties         protocol.Hashtable
	CustomRoomPropertiesForLobby []string
	Plugins                      []string
	SuppressRoomEvents           bool
	PublishUserID                bool
	DeleteNullProperties         bool
	BroadcastPropsChangeToAll    bool
}

// DefaultRoomOptions returns a visible, open room that cleans up on leave.
func DefaultRoomOptions() *RoomOptions {
	return &RoomOptions{
		IsVisible:                 true,
		IsOpen:                    true,
		CleanupCacheOnLeave:       true,
		BroadcastPropsChangeToAll: true,
	}
}

// EnterRoomParams is the request for creating or joining a room. The most
// recent one is cached across the master to game server hop.
type EnterRoomParams struct {
	RoomName         string
	RoomOptions      *RoomOptions
	Lobby            TypedLobby
	PlayerProperties protocol.Hashtable
	ExpectedUsers    []string
	JoinMode         JoinMode

	onGameServer bool
}

// RejoinOnly reports whether the request may only rejoin as an inactive actor.
func (p *EnterRoomParams) RejoinOnly() bool {
	return p.JoinMode == JoinModeRejoinOnly
}

// JoinRandomRoomParams filters random matchmaking.
type JoinRandomRoomParams struct {
	ExpectedCustomRoomProperties protocol.Hashtable
	ExpectedMaxPlayers           int
	MatchingType                 MatchmakingMode
	Lobby                        TypedLobby
	SQLLobbyFilter               string
	ExpectedUsers                []string
}

// EventCaching controls server-side event caching.
type EventCaching byte

const (
	EventCachingDoNotCache           EventCaching = 0
	EventCachingAddToRoomCache       EventCaching = 4
	EventCachingAddToRoomCacheGlobal EventCaching = 5
	EventCachingRemoveFromRoomCache  EventCaching = 6
)

// ReceiverGroup selects who receives a raised event.
type ReceiverGroup byte

const (
	ReceiverOthers ReceiverGroup = iota
	ReceiverAll
	ReceiverMasterClient
)

// RaiseEventOptions addresses a raised event.
type RaiseEventOptions struct {
	CachingOption EventCaching
	InterestGroup byte
	TargetActors  []int
	Receivers     ReceiverGroup
	WebFlags      byte
}

// FindFriendsOptions filters the friends result.
type FindFriendsOptions struct {
	CreatedOnGameServer bool
	Visible             bool
	Open                bool
}

func (o *FindFriendsOptions) mask() int {
	if o == nil {
		return 0
	}
	m := 0
	if o.CreatedOnGameServer {
		m |= 0x01
	}
	if o.Visible {
		m |= 0x02
	}
	if o.Open {
		m |= 0x04
	}
	return m
}

// FriendInfo is one entry of a friends lookup.
type FriendInfo struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
	Room     string `json:"room,omitempty"`
}

// IsInRoom reports whether the friend is online and inside a room.
func (f FriendInfo) IsInRoom() bool {
	return f.IsOnline && f.Room != ""
}

// ErrorInfo is an out-of-band error pushed by the server.
type ErrorInfo struct {
	Info string
}

// webFlagSendAuthCookie forwards the auth cookie with a web RPC.
const webFlagSendAuthCookie byte = 0x02

// maxFriendRequestList bounds a single friends lookup.
const maxFriendRequestList = 512
