package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchlink/internal/config"
	"github.com/energizer-project/matchlink/internal/events"
)

// handleGetConfig returns the full current configuration.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"client_data":      s.cfg.GetClientData(),
		"application_data": s.cfg.GetApplicationData(),
	})
}

// handleSetClientData replaces the client section. The new values apply to
// the next connect.
func (s *Server) handleSetClientData(c *gin.Context) {
	data := s.cfg.GetClientData()
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	candidate := config.DefaultConfig()
	candidate.SetClientData(data)
	candidate.SetApplicationData(s.cfg.GetApplicationData())
	result := config.Validate(candidate)
	if !result.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid configuration",
			"errors": result.Errors,
		})
		return
	}

	s.cfg.SetClientData(data)
	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("API: failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.eventBus.Emit(context.Background(), events.NewEvent(events.EventConfigChanged, "api",
		events.ConfigChangedPayload{Section: "client_data"}))

	log.Info().Str("client_ip", c.ClientIP()).Msg("API: client data updated")

	c.JSON(http.StatusOK, gin.H{
		"status":   "updated",
		"data":     s.cfg.GetClientData(),
		"warnings": result.Warnings,
	})
}
