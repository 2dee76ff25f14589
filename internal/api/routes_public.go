package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/matchlink/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "matchlink",
		"version": s.build.Version,
	})
}

// handleInfo returns process and host information.
func (s *Server) handleInfo(c *gin.Context) {
	d := s.cfg.GetClientData()
	c.JSON(http.StatusOK, gin.H{
		"version":        s.build.Version,
		"session_id":     s.build.SessionID,
		"uptime_seconds": int64(time.Since(s.build.StartedAt) / time.Second),
		"app_version":    d.AppVersion,
		"fixed_region":   d.FixedRegion,
		"protocol":       d.Protocol,
		"system":         util.GetSystemInfo(),
	})
}
