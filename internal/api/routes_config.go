package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ember-project/ember/internal/config"
	"github.com/ember-project/ember/internal/events"
)

const redacted = "********"

// handleGetConfig returns the current configuration with secrets hidden.
func (s *Server) handleGetConfig(c *gin.Context) {
	app := s.cfg.GetApplicationData()
	if app.API.Token != "" {
		app.API.Token = redacted
	}
	c.JSON(http.StatusOK, gin.H{
		"server":           s.cfg.GetServer(),
		"application_data": app,
	})
}

// handleSetAppData replaces the application settings after validating
// them. Listener and timer changes apply on restart.
func (s *Server) handleSetAppData(c *gin.Context) {
	var appData config.ApplicationData
	if err := c.ShouldBindJSON(&appData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetApplicationData()
	if appData.API.Token == redacted {
		appData.API.Token = previous.API.Token
	}

	s.cfg.SetApplicationData(appData)
	result := config.Validate(s.cfg)
	if !result.IsValid() {
		s.cfg.SetApplicationData(previous)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid configuration",
			"errors": result.Errors,
		})
		return
	}

	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	if s.eventBus != nil {
		s.eventBus.Emit(c.Request.Context(), events.Event{
			Type:   events.EventConfigChanged,
			Source: "api",
			Payload: events.ConfigChangedPayload{
				Section: "application_data",
			},
		})
	}

	user, _ := c.Get("api_user")
	log.Info().Interface("user", user).Msg("API: application data updated")

	c.JSON(http.StatusOK, gin.H{
		"status":   "updated",
		"warnings": result.Warnings,
	})
}
