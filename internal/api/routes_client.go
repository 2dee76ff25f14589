package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/control"
	"github.com/energizer-project/matchlink/internal/realtime"
	"github.com/energizer-project/matchlink/internal/util"
)

const maxHistory = 500

// respondError maps controller errors to HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, control.ErrRejected):
		status = http.StatusConflict
	case errors.Is(err, realtime.ErrRunnerStopped), errors.Is(err, control.ErrNoStore):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// handleStatus returns the client snapshot plus host load.
func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.control.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	usage, err := util.GetResourceUsage(s.cfg.GetApplicationData().Storage.Path)
	if err != nil {
		log.Debug().Err(err).Msg("resource usage incomplete")
	}

	c.JSON(http.StatusOK, gin.H{
		"client":    status,
		"resources": usage,
	})
}

// handleRegions returns the pinged regions.
func (s *Server) handleRegions(c *gin.Context) {
	regions, err := s.control.Regions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, regions)
}

// handleRooms returns the cached lobby room list.
func (s *Server) handleRooms(c *gin.Context) {
	rooms := s.control.LobbyRooms()
	c.JSON(http.StatusOK, gin.H{
		"rooms":       rooms,
		"total":       len(rooms),
		"lobby_stats": s.control.LobbyStats(),
	})
}

// handleFriends returns the last friend lookup.
func (s *Server) handleFriends(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"friends": s.control.Friends()})
}

// handleHistory returns recent disconnects.
func (s *Server) handleHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistory {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	records, err := s.control.History(limit)
	if errors.Is(err, control.ErrNoStore) {
		respondError(c, err)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("API: failed to read disconnect history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"disconnects": records,
		"total":       len(records),
	})
}
