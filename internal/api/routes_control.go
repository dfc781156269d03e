package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ember-project/ember/internal/util"
)

// maxBroadcastLength keeps a broadcast inside one chat box line packet.
const maxBroadcastLength = 200

// handleKick logs a player out.
func (s *Server) handleKick(c *gin.Context) {
	name := c.Param("name")
	if !validPlayerName(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player name"})
		return
	}

	ctx, cancel := tickContext(c)
	defer cancel()

	found, err := s.engine.Kick(ctx, name)
	if err != nil {
		tickError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online", "name": name})
		return
	}

	user, _ := c.Get("api_user")
	log.Info().
		Str("player", name).
		Interface("user", user).
		Msg("API: player kicked")

	c.JSON(http.StatusOK, gin.H{
		"status": "kicked",
		"name":   util.FormatName(name),
	})
}

// handleBroadcast sends a chat box line to every player.
func (s *Server) handleBroadcast(c *gin.Context) {
	var body struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	message := strings.TrimSpace(body.Message)
	if message == "" || len(message) > maxBroadcastLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must be 1 to 200 characters"})
		return
	}

	ctx, cancel := tickContext(c)
	defer cancel()

	n, err := s.engine.Broadcast(ctx, message)
	if err != nil {
		tickError(c, err)
		return
	}

	user, _ := c.Get("api_user")
	log.Info().
		Int("recipients", n).
		Interface("user", user).
		Msg("API: broadcast sent")

	c.JSON(http.StatusOK, gin.H{
		"status":     "sent",
		"recipients": n,
	})
}

// handleSave writes every online player to the database.
func (s *Server) handleSave(c *gin.Context) {
	ctx, cancel := tickContext(c)
	defer cancel()

	saved, failed, err := s.engine.SaveAll(ctx, "api")
	if err != nil {
		log.Error().Err(err).Msg("API: save failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  err.Error(),
			"saved":  saved,
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "saved",
		"saved":  saved,
		"failed": failed,
	})
}

// validPlayerName accepts what the login handshake accepts.
func validPlayerName(name string) bool {
	if name == "" || len(name) > 12 {
		return false
	}
	for _, r := range name {
		if !(r == ' ' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
