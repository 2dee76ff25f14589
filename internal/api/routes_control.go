package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/control"
)

// accepted reports a request the client took on. Results arrive through
// callbacks, so callers poll /api/client/status.
func accepted(c *gin.Context, op string, err error) {
	if err != nil {
		log.Debug().Err(err).Str("op", op).Msg("API: request failed")
		respondError(c, err)
		return
	}
	log.Info().Str("op", op).Str("client_ip", c.ClientIP()).Msg("API: request accepted")
	c.JSON(http.StatusAccepted, gin.H{
		"status":    "accepted",
		"operation": op,
	})
}

// handleConnect starts the connection flow, optionally to a given region.
func (s *Server) handleConnect(c *gin.Context) {
	var body struct {
		Region string `json:"region"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	accepted(c, "connect", s.control.Connect(c.Request.Context(), body.Region))
}

func (s *Server) handleDisconnect(c *gin.Context) {
	accepted(c, "disconnect", s.control.Disconnect(c.Request.Context()))
}

func (s *Server) handleReconnect(c *gin.Context) {
	accepted(c, "reconnect", s.control.Reconnect(c.Request.Context()))
}

func (s *Server) handleRejoin(c *gin.Context) {
	accepted(c, "rejoin", s.control.Rejoin(c.Request.Context()))
}

func (s *Server) handleJoinLobby(c *gin.Context) {
	accepted(c, "join_lobby", s.control.JoinLobby(c.Request.Context()))
}

func (s *Server) handleLeaveLobby(c *gin.Context) {
	accepted(c, "leave_lobby", s.control.LeaveLobby(c.Request.Context()))
}

// handleCreateRoom creates a room from a JSON body.
func (s *Server) handleCreateRoom(c *gin.Context) {
	var req control.CreateRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	accepted(c, "create_room", s.control.CreateRoom(c.Request.Context(), req))
}

func (s *Server) handleJoinRoom(c *gin.Context) {
	accepted(c, "join_room", s.control.JoinRoom(c.Request.Context(), c.Param("name")))
}

// handleJoinRandom joins any matching room; "create" falls back to a new one.
func (s *Server) handleJoinRandom(c *gin.Context) {
	var body struct {
		MaxPlayers int  `json:"max_players"`
		Create     bool `json:"create"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	accepted(c, "join_random", s.control.JoinRandom(c.Request.Context(), body.MaxPlayers, body.Create))
}

func (s *Server) handleLeaveRoom(c *gin.Context) {
	accepted(c, "leave_room", s.control.LeaveRoom(c.Request.Context()))
}

// handleFindFriends looks up where the given users are.
func (s *Server) handleFindFriends(c *gin.Context) {
	var body struct {
		UserIDs []string `json:"user_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accepted(c, "find_friends", s.control.FindFriends(c.Request.Context(), body.UserIDs))
}
