package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ember-project/ember/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "ember",
		"version": Version,
	})
}

// handleServerInfo returns basic server information.
func (s *Server) handleServerInfo(c *gin.Context) {
	srv := s.cfg.GetServer()
	sysInfo := util.GetSystemInfo()

	info := gin.H{
		"server_name":     srv.Name,
		"world_id":        srv.WorldID,
		"protocol_build":  srv.ProtocolBuild,
		"players_online":  s.engine.PlayerCount(),
		"max_players":     srv.MaxPlayers,
		"tick":            s.engine.Tick(),
		"cycle_rate_ms":   srv.CycleRateMS,
		"uptime_sec":      int64(time.Since(s.started).Seconds()),
		"version":         Version,
		"os":              sysInfo.OS,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	}
	if s.conns != nil {
		info["connections"] = s.conns.Count()
	}
	c.JSON(http.StatusOK, info)
}
