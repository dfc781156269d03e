package world

import (
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/ember-project/ember/internal/db"
	"github.com/ember-project/ember/internal/session"
	"github.com/ember-project/ember/internal/util"
)

// ChatMessage is the last public chat line a player sent.
type ChatMessage struct {
	Effects int
	Colour  int
	Packed  []byte
	Text    string
	At      time.Time
}

// Player is an online character. Everything here is owned by the tick
// goroutine.
type Player struct {
	index    int
	name     string
	nameHash int64
	session  *session.Session
	details  *db.Details
	logger   zerolog.Logger

	position Position
	region   Position
	walk     WalkQueue

	lastChat        ChatMessage
	logoutRequested bool
	isNew           bool
}

// NewPlayer wraps a loaded character around its session.
func NewPlayer(sess *session.Session, details *db.Details, isNew bool) *Player {
	name := util.FormatName(details.Username)
	return &Player{
		name:     name,
		nameHash: util.NameToLong(details.Username),
		session:  sess,
		details:  details,
		isNew:    isNew,
		position: Position{X: details.X, Y: details.Y, Z: details.Z},
		logger:   *sess.Logger(),
	}
}

// PlayerInfo is a read-only view of a player for the admin surfaces.
type PlayerInfo struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Rights   int           `json:"rights"`
	Position Position      `json:"position"`
	Remote   string        `json:"remote"`
	Online   time.Duration `json:"online_ns"`
	Idle     time.Duration `json:"idle_ns"`
}

func (p *Player) Index() int                 { return p.index }
func (p *Player) Name() string               { return p.name }
func (p *Player) NameHash() int64            { return p.nameHash }
func (p *Player) Session() *session.Session  { return p.session }
func (p *Player) Details() *db.Details       { return p.details }
func (p *Player) Rights() int                { return p.details.Rights }
func (p *Player) Position() Position         { return p.position }
func (p *Player) IsNew() bool                { return p.isNew }
func (p *Player) LastChat() ChatMessage      { return p.lastChat }
func (p *Player) LogoutRequested() bool      { return p.logoutRequested }
func (p *Player) Walking() bool              { return !p.walk.Empty() }
func (p *Player) Logger() *zerolog.Logger    { return &p.logger }
func (p *Player) setIndex(index int)         { p.index = index }
func (p *Player) requestLogout()             { p.logoutRequested = true }
func (p *Player) queueWalk(req *WalkRequest) { p.walk.Set(p.position, req) }

// Info returns a snapshot for display.
func (p *Player) Info(now time.Time) PlayerInfo {
	return PlayerInfo{
		Index:    p.index,
		Name:     p.name,
		Rights:   p.details.Rights,
		Position: p.position,
		Remote:   p.session.RemoteAddr(),
		Online:   now.Sub(p.session.CreatedAt()),
		Idle:     p.session.IdleFor(now),
	}
}

// Snapshot returns a copy of the persisted state with the current position.
func (p *Player) Snapshot() *db.Details {
	d := p.details.Clone()
	d.X, d.Y, d.Z = p.position.X, p.position.Y, p.position.Z
	return d
}

// HasFriend reports whether hash is on the friends list.
func (p *Player) HasFriend(hash int64) bool {
	return slices.Contains(p.details.Friends, hash)
}

// Ignores reports whether hash is on the ignore list.
func (p *Player) Ignores(hash int64) bool {
	return slices.Contains(p.details.Ignores, hash)
}

// VisibleTo reports whether viewer sees p as online in their friends list.
func (p *Player) VisibleTo(viewer *Player) bool {
	switch p.details.Chat.Private {
	case db.ChatOn:
		return true
	case db.ChatFriends:
		return p.HasFriend(viewer.nameHash)
	}
	return false
}

// AcceptsMessageFrom reports whether a private message from sender reaches p.
func (p *Player) AcceptsMessageFrom(sender *Player) bool {
	return p.VisibleTo(sender) && !p.Ignores(sender.nameHash)
}

// Teleport moves the player instantly, dropping any queued walk.
func (p *Player) Teleport(to Position) {
	p.walk.Reset()
	p.position = clampPosition(to)
	p.sendMapRegion()
}

// step advances one or two tiles along the walk queue.
func (p *Player) step() {
	if p.walk.Empty() {
		return
	}
	tiles := 1
	if p.details.Settings.Run || p.walk.RunPath() {
		tiles = 2
	}
	for i := 0; i < tiles; i++ {
		next, ok := p.walk.Next()
		if !ok {
			break
		}
		p.position = next
	}
	if p.regionChanged() {
		p.sendMapRegion()
	}
}

// regionChanged reports whether the player walked near the edge of the
// map area the client has loaded.
func (p *Player) regionChanged() bool {
	localX := p.position.X - 8*(p.region.RegionX()-6)
	localY := p.position.Y - 8*(p.region.RegionY()-6)
	return localX < 16 || localX >= 88 || localY < 16 || localY >= 88
}

func clampPosition(pos Position) Position {
	return Position{
		X: min(max(pos.X, 0), maxCoordinate),
		Y: min(max(pos.Y, 0), maxCoordinate),
		Z: min(max(pos.Z, 0), maxPlane),
	}
}
