package realtime

import (
	"net"
	"strconv"
	"strings"

	"github.com/energizer-project/matchlink/internal/peer"
)

// hopTarget is where the Disconnect status handler continues after the
// client left a server on purpose.
type hopTarget int

const (
	hopNone hopTarget = iota
	hopToMaster
	hopToGame
	hopFallback
)

func (h hopTarget) String() string {
	switch h {
	case hopToMaster:
		return "master"
	case hopToGame:
		return "game"
	case hopFallback:
		return "fallback"
	default:
		return "none"
	}
}

// ConnectUsingSettings starts the connection flow described by s. With a
// name server it authenticates there and continues to the fixed region or
// to the best pinged region. Without one it connects to s.Server as a
// master server.
func (c *Client) ConnectUsingSettings(s AppSettings) bool {
	if c.peer.State() != peer.StateDisconnected {
		c.logger.Warn().Str("peer", c.peer.State().String()).Msg("ConnectUsingSettings() failed: peer is not disconnected")
		return false
	}
	if s.UseNameServer && s.AppID == "" {
		c.logger.Error().Msg("ConnectUsingSettings() failed: app id is required for the name server")
		return false
	}

	c.appID = s.AppID
	c.appVersion = s.AppVersion
	c.proxyAddress = s.ProxyServer
	c.authMode = s.AuthMode
	c.enableProtocolFallback = s.EnableProtocolFallback
	c.enableLobbyStats = s.EnableLobbyStatistics
	c.expectedProtocol = nil
	c.peer.SetTransportProtocol(s.Protocol)

	if !s.UseNameServer {
		c.isUsingNameServer = false
		addr := s.Server
		if s.Port > 0 {
			addr = net.JoinHostPort(hostOnly(s.Server), strconv.Itoa(s.Port))
		} else if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, strconv.Itoa(DefaultMasterServerPort))
		}
		c.masterServerAddress = addr
		return c.ConnectToMasterServer()
	}

	c.isUsingNameServer = true
	c.nameServerHost = s.Server
	c.nameServerPort = s.Port
	c.summaryFromStorage = s.BestRegionSummaryFromStorage
	c.cloudRegion = strings.ToLower(strings.TrimSpace(s.FixedRegion))
	c.connectToBestRegion = c.cloudRegion == ""
	return c.connectToNameServer()
}

// ConnectToMasterServer connects to the configured master address. Outside
// of AuthModeAuth a token from a previous name server authentication is
// required.
func (c *Client) ConnectToMasterServer() bool {
	if c.authMode != AuthModeAuth && c.token() == "" {
		c.logger.Error().Str("auth_mode", c.authMode.String()).Msg("connecting to master requires a token from the name server")
		return false
	}
	if c.masterServerAddress == "" {
		c.logger.Error().Msg("no master server address to connect to")
		return false
	}
	return c.connect(c.masterServerAddress, MasterServer)
}

// ConnectToNameServer connects to the name server without selecting a
// region. Once connected the region list is fetched and reported through
// OnRegionListReceived; pick a region with ConnectToRegionMaster.
func (c *Client) ConnectToNameServer() bool {
	c.isUsingNameServer = true
	c.cloudRegion = ""
	c.connectToBestRegion = false
	return c.connectToNameServer()
}

// ConnectToRegionMaster authenticates for region code. When already on the
// name server this is a single authenticate call; otherwise the name server
// is contacted first.
func (c *Client) ConnectToRegionMaster(code string) bool {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		c.logger.Error().Msg("ConnectToRegionMaster() failed: empty region")
		return false
	}
	if c.server == NameServer && c.State() == ConnectedToNameServer && c.IsConnectedAndReady() {
		c.cloudRegion = code
		return c.callAuthenticate()
	}
	c.isUsingNameServer = true
	c.cloudRegion = code
	c.connectToBestRegion = false
	return c.connectToNameServer()
}

// ReconnectToMaster reconnects to the last master server with the cached
// token. It fails when no previous master connection exists.
func (c *Client) ReconnectToMaster() bool {
	if c.masterServerAddress == "" {
		c.logger.Warn().Msg("ReconnectToMaster() failed: no previous master server")
		return false
	}
	if c.tokenCache == "" {
		c.logger.Warn().Msg("ReconnectToMaster() failed: no cached token")
		return false
	}
	c.ensureAuthValues().Token = c.tokenCache
	return c.ConnectToMasterServer()
}

// ReconnectAndRejoin connects straight to the last game server and rejoins
// the cached room as an inactive actor.
func (c *Client) ReconnectAndRejoin() bool {
	if c.gameServerAddress == "" || c.enterRoomParamsCache == nil {
		c.logger.Warn().Msg("ReconnectAndRejoin() failed: no previous room")
		return false
	}
	if c.tokenCache == "" {
		c.logger.Warn().Msg("ReconnectAndRejoin() failed: no cached token")
		return false
	}
	c.ensureAuthValues().Token = c.tokenCache
	c.lastJoinType = JoinTypeJoinRoom
	c.enterRoomParamsCache.JoinMode = JoinModeRejoinOnly
	return c.connect(c.gameServerAddress, GameServer)
}

// Disconnect leaves the current server and records cause. It does nothing
// while already disconnecting or disconnected.
func (c *Client) Disconnect(cause DisconnectCause) {
	switch c.State() {
	case Disconnecting, Disconnected, PeerCreated:
		c.logger.Debug().Str("state", c.State().String()).Msg("Disconnect() ignored")
		return
	}
	c.hop = hopNone
	c.cause = cause
	c.setState(Disconnecting)
	if c.peer.State() == peer.StateDisconnected {
		// Nothing left to close; the peer will not report another Disconnect.
		c.settleDisconnected()
		return
	}
	c.peer.Disconnect()
}

// Close disconnects and stops region pinging for good.
func (c *Client) Close() {
	c.Disconnect(DisconnectCauseApplicationQuit)
	c.regionHandler.Stop()
}

func (c *Client) connectToNameServer() bool {
	if c.peer.State() != peer.StateDisconnected {
		c.logger.Warn().Str("peer", c.peer.State().String()).Msg("cannot connect to name server: peer is not disconnected")
		return false
	}
	if c.authMode == AuthModeAuthOnceWss && c.peer.TransportProtocol() != peer.ProtocolWebSocketSecure {
		expected := c.peer.TransportProtocol()
		c.expectedProtocol = &expected
		c.peer.SetTransportProtocol(peer.ProtocolWebSocketSecure)
	}
	return c.connect(c.nameServerAddress(), NameServer)
}

// connect dials address and moves to the matching Connecting state.
func (c *Client) connect(address string, target ServerConnection) bool {
	if c.peer.State() != peer.StateDisconnected {
		c.logger.Warn().Str("peer", c.peer.State().String()).Str("server", target.String()).Msg("cannot connect: peer is not disconnected")
		return false
	}

	var token interface{}
	if c.authMode != AuthModeAuth {
		if t := c.token(); t != "" {
			token = t
		}
	}

	c.cause = DisconnectCauseNone
	c.hop = hopNone
	if !c.peer.Connect(address, c.proxyAddress, c.appID, token) {
		c.logger.Error().Str("address", address).Str("server", target.String()).Msg("peer refused to connect")
		return false
	}

	c.server = target
	switch target {
	case NameServer:
		c.setState(ConnectingToNameServer)
	case MasterServer:
		c.setState(ConnectingToMasterServer)
	case GameServer:
		c.setState(ConnectingToGameServer)
	}
	c.logger.Info().Str("address", address).Str("server", target.String()).Str("protocol", c.peer.TransportProtocol().String()).Msg("connecting")
	return true
}

// disconnectToReconnect leaves the current server so the Disconnect status
// handler continues to target.
func (c *Client) disconnectToReconnect(target hopTarget) {
	switch c.server {
	case NameServer:
		c.setState(DisconnectingFromNameServer)
	case MasterServer:
		c.setState(DisconnectingFromMasterServer)
	case GameServer:
		c.setState(DisconnectingFromGameServer)
	}
	c.hop = target
	c.peer.Disconnect()
}

func (c *Client) nameServerAddress() string {
	host := c.nameServerHost
	if host == "" {
		host = DefaultNameServerHost
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	port := c.nameServerPort
	if port == 0 {
		port = peer.NameServerPort(c.peer.TransportProtocol())
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (c *Client) token() string {
	if c.authValues == nil {
		return ""
	}
	return c.authValues.Token
}

func (c *Client) ensureAuthValues() *AuthenticationValues {
	if c.authValues == nil {
		c.authValues = NewAuthenticationValues("")
	}
	return c.authValues
}

func hostOnly(address string) string {
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}
	return address
}
