// Package protocol defines the operation, event and parameter codes spoken
// between a matchmaking client and the name, master and game servers, the
// message types carried by a peer, and the msgpack frame codec used by the
// websocket transport.
package protocol

// Operation codes.
const (
	OpExchangeKeys     byte = 250
	OpAuthenticateOnce byte = 231
	OpAuthenticate     byte = 230
	OpJoinLobby        byte = 229
	OpLeaveLobby       byte = 228
	OpCreateGame       byte = 227
	OpJoinGame         byte = 226
	OpJoinRandomGame   byte = 225
	OpLeave            byte = 254
	OpRaiseEvent       byte = 253
	OpSetProperties    byte = 252
	OpGetProperties    byte = 251
	OpChangeGroups     byte = 248
	OpFindFriends      byte = 222
	OpGetLobbyStats    byte = 221
	OpGetRegions       byte = 220
	OpWebRPC           byte = 219
	OpServerSettings   byte = 218
	OpGetGameList      byte = 217
)

var opNames = map[byte]string{
	OpExchangeKeys:     "ExchangeKeys",
	OpAuthenticateOnce: "AuthenticateOnce",
	OpAuthenticate:     "Authenticate",
	OpJoinLobby:        "JoinLobby",
	OpLeaveLobby:       "LeaveLobby",
	OpCreateGame:       "CreateGame",
	OpJoinGame:         "JoinGame",
	OpJoinRandomGame:   "JoinRandomGame",
	OpLeave:            "Leave",
	OpRaiseEvent:       "RaiseEvent",
	OpSetProperties:    "SetProperties",
	OpGetProperties:    "GetProperties",
	OpChangeGroups:     "ChangeGroups",
	OpFindFriends:      "FindFriends",
	OpGetLobbyStats:    "GetLobbyStats",
	OpGetRegions:       "GetRegions",
	OpWebRPC:           "WebRpc",
	OpServerSettings:   "ServerSettings",
	OpGetGameList:      "GetGameList",
}

// OpName returns a readable name for an operation code, used in logs and metrics.
func OpName(code byte) string {
	if name, ok := opNames[code]; ok {
		return name
	}
	return "Unknown"
}

// Event codes pushed by the servers.
const (
	EvGameList          byte = 230
	EvGameListUpdate    byte = 229
	EvQueueState        byte = 228
	EvMatch             byte = 227
	EvAppStats          byte = 226
	EvLobbyStats        byte = 224
	EvAuthEvent         byte = 223
	EvJoin              byte = 255
	EvLeave             byte = 254
	EvPropertiesChanged byte = 253
	EvErrorInfo         byte = 251
	EvCacheSliceChanged byte = 250
)

// Parameter codes. Several codes are reused across operations with a
// different meaning, mirroring the server's numbering.
const (
	ParamFindFriendsRequestList    byte = 1
	ParamFindFriendsOptions        byte = 2
	ParamFindFriendsResponseOnline byte = 1
	ParamFindFriendsResponseRoomID byte = 2

	ParamEncryptionData       byte = 192
	ParamEncryptionMode       byte = 193
	ParamExpectedProtocol     byte = 195
	ParamCluster              byte = 196
	ParamClientKey            byte = 197
	ParamServerKey            byte = 198
	ParamNickName             byte = 202
	ParamMasterClientID       byte = 203
	ParamPlugins              byte = 204
	ParamWebRPCReturnMessage  byte = 206
	ParamWebRPCReturnCode     byte = 207
	ParamWebRPCParameters     byte = 208
	ParamURIPath              byte = 209
	ParamRegion               byte = 210
	ParamLobbyStats           byte = 211
	ParamLobbyType            byte = 212
	ParamLobbyName            byte = 213
	ParamClientAuthData       byte = 214
	ParamJoinMode             byte = 215
	ParamClientAuthParams     byte = 216
	ParamClientAuthType       byte = 217
	ParamAppVersion           byte = 220
	ParamToken                byte = 221
	ParamGameList             byte = 222
	ParamMatchMakingType      byte = 223
	ParamAppID                byte = 224
	ParamUserID               byte = 225
	ParamMasterPeerCount      byte = 227
	ParamGameCount            byte = 228
	ParamPeerCount            byte = 229
	ParamAddress              byte = 230
	ParamExpectedValues       byte = 231
	ParamCheckUserOnJoin      byte = 232
	ParamIsInactive           byte = 233
	ParamPlayerTTL            byte = 235
	ParamEmptyRoomTTL         byte = 236
	ParamSuppressRoomEvents   byte = 237
	ParamAdd                  byte = 238
	ParamRemove               byte = 239
	ParamPublishUserID        byte = 239
	ParamCleanupCacheOnLeave  byte = 241
	ParamCode                 byte = 244
	ParamData                 byte = 245
	ParamReceiverGroup        byte = 246
	ParamCache                byte = 247
	ParamGameProperties       byte = 248
	ParamPlayerProperties     byte = 249
	ParamBroadcast            byte = 250
	ParamProperties           byte = 251
	ParamActorList            byte = 252
	ParamTargetActorNr        byte = 253
	ParamActorNr              byte = 254
	ParamRoomName             byte = 255
	ParamSQLLobbyFilter       byte = 245
	ParamEventForward         byte = 234
	ParamInterestGroup        byte = 240
	ParamRoomOptionFlags      byte = 191
	ParamExpectedUsers        byte = 238
	ParamInfo                 byte = 218
)

// ErrorCode is the return code of an operation response.
type ErrorCode int16

// Return codes.
const (
	ErrorOk                                ErrorCode = 0
	ErrorOperationNotAllowedInCurrentState ErrorCode = -3
	ErrorInvalidOperation                  ErrorCode = -2
	ErrorInternalServerError               ErrorCode = -1

	ErrorInvalidAuthentication          ErrorCode = 0x7FFF
	ErrorGameIDAlreadyExists            ErrorCode = 0x7FFF - 1
	ErrorGameFull                       ErrorCode = 0x7FFF - 2
	ErrorGameClosed                     ErrorCode = 0x7FFF - 3
	ErrorServerFull                     ErrorCode = 0x7FFF - 5
	ErrorUserBlocked                    ErrorCode = 0x7FFF - 6
	ErrorNoRandomMatchFound             ErrorCode = 0x7FFF - 7
	ErrorGameDoesNotExist               ErrorCode = 0x7FFF - 9
	ErrorMaxCcuReached                  ErrorCode = 0x7FFF - 10
	ErrorInvalidRegion                  ErrorCode = 0x7FFF - 11
	ErrorCustomAuthenticationFailed     ErrorCode = 0x7FFF - 12
	ErrorAuthenticationTicketExpired    ErrorCode = 0x7FF1
	ErrorPluginReportedError            ErrorCode = 0x7FFF - 15
	ErrorPluginMismatch                 ErrorCode = 0x7FFF - 16
	ErrorJoinFailedPeerAlreadyJoined    ErrorCode = 0x7FFF - 17
	ErrorJoinFailedFoundInactive        ErrorCode = 0x7FFF - 18
	ErrorJoinFailedWithRejoinerNotFound ErrorCode = 0x7FFF - 19
	ErrorJoinFailedFoundExcludedUserID  ErrorCode = 0x7FFF - 20
	ErrorJoinFailedFoundActiveJoiner    ErrorCode = 0x7FFF - 21
	ErrorHTTPLimitReached               ErrorCode = 0x7FFF - 22
	ErrorExternalHTTPCallFailed         ErrorCode = 0x7FFF - 23
	ErrorOperationLimitReached          ErrorCode = 0x7FFF - 24
	ErrorSlotError                      ErrorCode = 0x7FFF - 25
	ErrorInvalidEncryptionParameters    ErrorCode = 0x7FFF - 26
)

// Well-known room property keys. Custom properties use string keys.
const (
	GamePropMaxPlayers          byte = 255
	GamePropIsVisible           byte = 254
	GamePropIsOpen              byte = 253
	GamePropPlayerCount         byte = 252
	GamePropRemoved             byte = 251
	GamePropPropsListedInLobby  byte = 250
	GamePropCleanupCacheOnLeave byte = 249
	GamePropMasterClientID      byte = 248
	GamePropExpectedUsers       byte = 247
	GamePropPlayerTTL           byte = 246
	GamePropEmptyRoomTTL        byte = 245
)

// Well-known actor property keys.
const (
	ActorPropIsInactive byte = 254
	ActorPropUserID     byte = 253
	ActorPropNickName   byte = 255
)
