package realtime

import (
	"errors"
	"fmt"

	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/protocol"
)

// Gating failures. Operations rejected locally are never sent and never
// queued for retry.
var (
	ErrOpNotAllowedOnServer = errors.New("operation not allowed on this server")
	ErrClientNotReady       = errors.New("client not ready for operation")
	ErrPeerNotConnected     = errors.New("peer not connected")
)

// OperationError describes why an operation was not sent.
type OperationError struct {
	Op     byte
	Server ServerConnection
	State  ClientState
	Err    error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s rejected on %s in state %s: %v", protocol.OpName(e.Op), e.Server, e.State, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// opAllowedOnServer is the fixed tier whitelist.
func opAllowedOnServer(op byte, server ServerConnection) bool {
	switch server {
	case MasterServer:
		switch op {
		case protocol.OpCreateGame,
			protocol.OpAuthenticate,
			protocol.OpAuthenticateOnce,
			protocol.OpFindFriends,
			protocol.OpGetGameList,
			protocol.OpGetLobbyStats,
			protocol.OpJoinGame,
			protocol.OpJoinLobby,
			protocol.OpLeaveLobby,
			protocol.OpWebRPC,
			protocol.OpServerSettings,
			protocol.OpJoinRandomGame:
			return true
		}
	case GameServer:
		switch op {
		case protocol.OpCreateGame,
			protocol.OpAuthenticate,
			protocol.OpAuthenticateOnce,
			protocol.OpChangeGroups,
			protocol.OpGetProperties,
			protocol.OpJoinGame,
			protocol.OpLeave,
			protocol.OpWebRPC,
			protocol.OpServerSettings,
			protocol.OpSetProperties,
			protocol.OpRaiseEvent:
			return true
		}
	case NameServer:
		switch op {
		case protocol.OpAuthenticate,
			protocol.OpAuthenticateOnce,
			protocol.OpGetRegions,
			protocol.OpServerSettings:
			return true
		}
	}
	return false
}

// clientReadyForOperation is the state readiness table.
func (c *Client) clientReadyForOperation(op byte) bool {
	state := c.State()
	switch op {
	case protocol.OpAuthenticate, protocol.OpAuthenticateOnce:
		// Authentication runs before the Connected* state is reached.
		return c.IsConnectedAndReady() ||
			state == ConnectingToNameServer ||
			state == ConnectingToMasterServer ||
			state == ConnectingToGameServer
	case protocol.OpChangeGroups, protocol.OpGetProperties, protocol.OpSetProperties, protocol.OpRaiseEvent, protocol.OpLeave:
		return c.InRoom()
	case protocol.OpJoinGame, protocol.OpCreateGame:
		return state == ConnectedToMasterServer || c.InLobby() || state == ConnectedToGameServer
	case protocol.OpLeaveLobby:
		return c.InLobby()
	case protocol.OpJoinRandomGame, protocol.OpJoinLobby:
		return state == ConnectedToMasterServer || c.InLobby()
	case protocol.OpGetRegions:
		return state == ConnectedToNameServer
	}
	return c.IsConnected()
}

// ValidateOperation runs the three gating checks in order and returns the
// first failure as an *OperationError.
func (c *Client) ValidateOperation(op byte, server ServerConnection) error {
	fail := func(err error) error {
		return &OperationError{Op: op, Server: server, State: c.State(), Err: err}
	}
	if !opAllowedOnServer(op, server) {
		return fail(ErrOpNotAllowedOnServer)
	}
	if !c.clientReadyForOperation(op) {
		return fail(ErrClientNotReady)
	}
	if c.peer.State() != peer.StateConnected {
		return fail(ErrPeerNotConnected)
	}
	return nil
}

// CheckIfOpCanBeSent reports whether op may be sent to server now.
func (c *Client) CheckIfOpCanBeSent(op byte, server ServerConnection) bool {
	err := c.ValidateOperation(op, server)
	if err == nil {
		return true
	}

	ev := c.logger.Error()
	// Events raised while leaving are expected noise.
	if op == protocol.OpRaiseEvent {
		switch c.State() {
		case Leaving, Disconnecting, DisconnectingFromGameServer:
			ev = c.logger.Info()
		}
	}
	ev.Err(err).Str("op", protocol.OpName(op)).Msg("operation not sent")
	c.observeOperation(op, OperationRejected)
	return false
}
