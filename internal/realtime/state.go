// Package realtime implements the client-side connection and matchmaking
// state machine. A Client walks the name server, master server and game
// server tiers, gates operations per tier and state, and reports progress
// to registered callback targets. All methods except State, IsConnected
// and SendAcksOnly must be called from the goroutine that pumps Service.
package realtime

import (
	"encoding/json"
	"fmt"
)

// ClientState is the high-level state of a Client.
type ClientState int

const (
	PeerCreated ClientState = iota
	ConnectingToNameServer
	ConnectedToNameServer
	Authenticating
	ConnectingToMasterServer
	ConnectedToMasterServer
	JoiningLobby
	JoinedLobby
	Joining
	Joined
	Leaving
	ConnectingToGameServer
	ConnectedToGameServer
	DisconnectingFromNameServer
	DisconnectingFromMasterServer
	DisconnectingFromGameServer
	Disconnecting
	Disconnected
	ConnectWithFallbackProtocol
)

var clientStateNames = map[ClientState]string{
	PeerCreated:                   "PeerCreated",
	ConnectingToNameServer:        "ConnectingToNameServer",
	ConnectedToNameServer:         "ConnectedToNameServer",
	Authenticating:                "Authenticating",
	ConnectingToMasterServer:      "ConnectingToMasterServer",
	ConnectedToMasterServer:       "ConnectedToMasterServer",
	JoiningLobby:                  "JoiningLobby",
	JoinedLobby:                   "JoinedLobby",
	Joining:                       "Joining",
	Joined:                        "Joined",
	Leaving:                       "Leaving",
	ConnectingToGameServer:        "ConnectingToGameServer",
	ConnectedToGameServer:         "ConnectedToGameServer",
	DisconnectingFromNameServer:   "DisconnectingFromNameServer",
	DisconnectingFromMasterServer: "DisconnectingFromMasterServer",
	DisconnectingFromGameServer:   "DisconnectingFromGameServer",
	Disconnecting:                 "Disconnecting",
	Disconnected:                  "Disconnected",
	ConnectWithFallbackProtocol:   "ConnectWithFallbackProtocol",
}

// AllClientStates lists every state in declaration order.
func AllClientStates() []ClientState {
	out := make([]ClientState, 0, len(clientStateNames))
	for s := PeerCreated; s <= ConnectWithFallbackProtocol; s++ {
		out = append(out, s)
	}
	return out
}

// String returns the string representation of ClientState.
func (s ClientState) String() string {
	if name, ok := clientStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ClientState(%d)", int(s))
}

// MarshalJSON implements json.Marshaler.
func (s ClientState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ServerConnection identifies the server tier the client talks to.
type ServerConnection int

const (
	MasterServer ServerConnection = iota
	GameServer
	NameServer
)

// String returns the string representation of ServerConnection.
func (s ServerConnection) String() string {
	switch s {
	case MasterServer:
		return "MasterServer"
	case GameServer:
		return "GameServer"
	case NameServer:
		return "NameServer"
	default:
		return fmt.Sprintf("ServerConnection(%d)", int(s))
	}
}

// MarshalJSON implements json.Marshaler.
func (s ServerConnection) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ServerFor returns the tier implied by a state. ok is false for states
// that do not pin a tier.
func ServerFor(s ClientState) (ServerConnection, bool) {
	switch s {
	case ConnectingToNameServer, ConnectedToNameServer, DisconnectingFromNameServer:
		return NameServer, true
	case ConnectingToMasterServer, ConnectedToMasterServer, JoiningLobby, JoinedLobby, DisconnectingFromMasterServer:
		return MasterServer, true
	case Joined, Leaving, ConnectingToGameServer, ConnectedToGameServer, DisconnectingFromGameServer:
		return GameServer, true
	}
	return 0, false
}

// JoinType records which matchmaking call started a room entry so the same
// operation can be replayed on the game server.
type JoinType int

const (
	JoinTypeCreateRoom JoinType = iota
	JoinTypeJoinRoom
	JoinTypeJoinRandomRoom
	JoinTypeJoinRandomOrCreateRoom
	JoinTypeJoinOrCreateRoom
)

// String returns the string representation of JoinType.
func (j JoinType) String() string {
	switch j {
	case JoinTypeCreateRoom:
		return "CreateRoom"
	case JoinTypeJoinRoom:
		return "JoinRoom"
	case JoinTypeJoinRandomRoom:
		return "JoinRandomRoom"
	case JoinTypeJoinRandomOrCreateRoom:
		return "JoinRandomOrCreateRoom"
	case JoinTypeJoinOrCreateRoom:
		return "JoinOrCreateRoom"
	default:
		return fmt.Sprintf("JoinType(%d)", int(j))
	}
}

// AuthMode selects how often the client authenticates.
type AuthMode int

const (
	// AuthModeAuth authenticates on every server.
	AuthModeAuth AuthMode = iota
	// AuthModeAuthOnce authenticates on the name server only; later hops
	// carry the token in the connect request.
	AuthModeAuthOnce
	// AuthModeAuthOnceWss is AuthOnce with the name server reached over
	// secure websockets and the configured protocol used afterwards.
	AuthModeAuthOnceWss
)

// String returns the string representation of AuthMode.
func (m AuthMode) String() string {
	switch m {
	case AuthModeAuth:
		return "Auth"
	case AuthModeAuthOnce:
		return "AuthOnce"
	case AuthModeAuthOnceWss:
		return "AuthOnceWss"
	default:
		return fmt.Sprintf("AuthMode(%d)", int(m))
	}
}

// ParseAuthMode maps a configured name to an AuthMode.
func ParseAuthMode(name string) (AuthMode, bool) {
	switch name {
	case "auth", "Auth":
		return AuthModeAuth, true
	case "auth_once", "AuthOnce":
		return AuthModeAuthOnce, true
	case "auth_once_wss", "AuthOnceWss":
		return AuthModeAuthOnceWss, true
	}
	return AuthModeAuth, false
}
