// Package world holds the online players and the game logic run for them on
// the tick goroutine: packet handlers, movement, friends and chat, and the
// packets sent back to the client.
package world

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ember-project/ember/internal/db"
	"github.com/ember-project/ember/internal/session"
	"github.com/ember-project/ember/internal/util"
)

// friendWorldOffset turns a world id into the byte the friends list shows.
const friendWorldOffset = 9

// Config holds the world settings.
type Config struct {
	WorldID        int
	MaxPlayers     int
	WelcomeMessage string
}

// World is the set of online players.
type World struct {
	cfg      Config
	registry *Registry
	handlers *HandlerTable
	logger   zerolog.Logger
}

// New creates an empty world.
func New(cfg Config) *World {
	if cfg.WorldID < 1 {
		cfg.WorldID = 1
	}
	return &World{
		cfg:      cfg,
		registry: NewRegistry(cfg.MaxPlayers),
		handlers: NewHandlerTable(),
		logger:   util.ComponentLogger("world"),
	}
}

// Registry returns the player registry.
func (w *World) Registry() *Registry { return w.registry }

// Register creates a player for a logged in session and assigns its index.
func (w *World) Register(sess *session.Session, details *db.Details, isNew bool) (*Player, error) {
	p := NewPlayer(sess, details, isNew)
	if _, err := w.registry.Add(p); err != nil {
		return nil, fmt.Errorf("register %s: %w", p.name, err)
	}
	return p, nil
}

// Enter sends a registered player everything the client needs to draw the
// game screen and announces them to their friends.
func (w *World) Enter(p *Player) {
	p.details.LastLogin = time.Now().UTC()

	p.sendMapRegion()
	p.sendInitialize()
	for _, tab := range defaultSidebars {
		p.sendSidebar(tab.menu, tab.form)
	}
	for i := range p.details.Skills {
		p.sendSkill(i)
	}
	for slot := range p.details.Equipment {
		p.sendEquipmentSlot(slot)
	}
	p.sendInventory()
	if w.cfg.WelcomeMessage != "" {
		p.SendMessage(w.cfg.WelcomeMessage)
	}
	p.sendChatOptions()

	p.sendFriendsStatus(friendsListLoaded)
	for _, hash := range p.details.Friends {
		p.sendFriend(hash, w.friendWorld(w.registry.ByName(hash), p))
	}
	p.sendIgnoreList()
	p.sendSettings()

	w.updateFriendsOf(p)
	p.logger.Info().Int("index", p.index).Bool("new", p.isNew).Msg("player entered world")
}

// Remove takes p out of the world and shows them offline to their friends.
func (w *World) Remove(p *Player) {
	if !w.registry.Remove(p) {
		return
	}
	w.registry.Each(func(o *Player) {
		if o.HasFriend(p.nameHash) {
			o.sendFriend(p.nameHash, 0)
		}
	})
	p.logger.Info().Int("index", p.index).Msg("player left world")
}

// Logout sends the logout packet and marks p to be removed once it has
// been flushed.
func (w *World) Logout(p *Player) {
	if p.logoutRequested {
		return
	}
	p.SendLogout()
	p.requestLogout()
}

// Process advances a player by one tick.
func (w *World) Process(p *Player) {
	p.step()
}

// Broadcast sends a chat box line to every player.
func (w *World) Broadcast(text string) int {
	n := 0
	w.registry.Each(func(p *Player) {
		p.SendMessage(text)
		n++
	})
	return n
}

// FindPlayer looks a player up by name.
func (w *World) FindPlayer(name string) *Player {
	return w.registry.ByName(util.NameToLong(name))
}

// Players returns the online players in index order.
func (w *World) Players() []*Player {
	return w.registry.Snapshot()
}

// friendWorld returns the world byte viewer sees for friend, 0 when offline
// or hidden.
func (w *World) friendWorld(friend, viewer *Player) int {
	if friend == nil || !friend.VisibleTo(viewer) {
		return 0
	}
	return w.cfg.WorldID + friendWorldOffset
}

// updateFriendsOf refreshes p's entry on every online friends list that
// holds them.
func (w *World) updateFriendsOf(p *Player) {
	w.registry.Each(func(o *Player) {
		if o != p && o.HasFriend(p.nameHash) {
			o.sendFriend(p.nameHash, w.friendWorld(p, o))
		}
	})
}
