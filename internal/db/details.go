package db

import (
	"strings"
	"time"
)

// Container sizes and list limits shared with the client.
const (
	InventorySize = 28
	EquipmentSize = 14
	SkillCount    = 21
	MaxFriends    = 200
	MaxIgnores    = 100
)

// Skill indexes used outside the skills tab.
const (
	SkillHitpoints = 3
)

// Default spawn point.
const (
	SpawnX = 3222
	SpawnY = 3218
)

// Chat visibility modes.
const (
	ChatOn      = 0
	ChatFriends = 1
	ChatOff     = 2
	ChatHide    = 3
)

// Item is a stack in a container slot. ID -1 marks an empty slot.
type Item struct {
	ID     int `json:"id"`
	Amount int `json:"amount"`
}

// Empty reports whether the slot holds nothing.
func (i Item) Empty() bool {
	return i.ID < 0 || i.Amount <= 0
}

// Skill is one skill's current level and experience.
type Skill struct {
	Level int `json:"level"`
	XP    int `json:"xp"`
}

// Appearance is the character look sent in the player update block.
type Appearance struct {
	Gender int    `json:"gender"`
	Body   [7]int `json:"body"`
	Colors [5]int `json:"colors"`
}

// Settings mirrors the options tab toggles.
type Settings struct {
	Brightness   int  `json:"brightness"`
	MouseButtons int  `json:"mouse_buttons"`
	ChatEffects  int  `json:"chat_effects"`
	SplitScreen  int  `json:"split_screen"`
	AcceptAid    int  `json:"accept_aid"`
	Retaliate    int  `json:"retaliate"`
	Run          bool `json:"run"`
}

// ChatModes are the three chat filter options.
type ChatModes struct {
	Public  int `json:"public"`
	Private int `json:"private"`
	Trade   int `json:"trade"`
}

// Details is everything persisted about a player.
type Details struct {
	Username   string              `json:"username"`
	Rights     int                 `json:"rights"`
	X          int                 `json:"x"`
	Y          int                 `json:"y"`
	Z          int                 `json:"z"`
	Appearance Appearance          `json:"appearance"`
	Skills     [SkillCount]Skill   `json:"skills"`
	Inventory  [InventorySize]Item `json:"inventory"`
	Equipment  [EquipmentSize]Item `json:"equipment"`
	Friends    []int64             `json:"friends"`
	Ignores    []int64             `json:"ignores"`
	Chat       ChatModes           `json:"chat"`
	Settings   Settings            `json:"settings"`
	CreatedAt  time.Time           `json:"created_at"`
	LastLogin  time.Time           `json:"last_login"`
}

// NewDetails returns a fresh character at the spawn point.
func NewDetails(username string) *Details {
	d := &Details{
		Username: username,
		X:        SpawnX,
		Y:        SpawnY,
		Appearance: Appearance{
			Body: [7]int{0, 10, 18, 26, 33, 36, 42},
		},
		Friends: []int64{},
		Ignores: []int64{},
		Settings: Settings{
			Brightness: 1,
		},
		CreatedAt: time.Now().UTC(),
	}
	for i := range d.Skills {
		d.Skills[i] = Skill{Level: 1}
	}
	d.Skills[SkillHitpoints] = Skill{Level: 10, XP: 1154}
	for i := range d.Inventory {
		d.Inventory[i] = Item{ID: -1}
	}
	for i := range d.Equipment {
		d.Equipment[i] = Item{ID: -1}
	}
	return d
}

// Clone returns a deep copy safe to hand to another goroutine.
func (d *Details) Clone() *Details {
	c := *d
	c.Friends = append([]int64(nil), d.Friends...)
	c.Ignores = append([]int64(nil), d.Ignores...)
	return &c
}

func storageKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
