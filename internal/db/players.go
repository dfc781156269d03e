package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// LoadResult is the outcome of a player load.
type LoadResult int

const (
	LoadNew LoadResult = iota
	LoadOK
	LoadBadPassword
	LoadError
)

var loadResultNames = map[LoadResult]string{
	LoadNew:         "new",
	LoadOK:          "loaded",
	LoadBadPassword: "bad_password",
	LoadError:       "error",
}

func (r LoadResult) String() string {
	if s, ok := loadResultNames[r]; ok {
		return s
	}
	return "unknown"
}

// ErrPlayerNotFound is returned when saving a player that was never created.
var ErrPlayerNotFound = errors.New("player not found")

// PlayerStore keeps player details in SQLite, one JSON document per player
// next to a bcrypt hash of the password.
type PlayerStore struct {
	db   *Database
	cost int
}

// NewPlayerStore migrates the schema and returns a store. A cost of zero
// uses bcrypt.DefaultCost.
func NewPlayerStore(database *Database, bcryptCost int) (*PlayerStore, error) {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	ps := &PlayerStore{db: database, cost: bcryptCost}

	if err := database.Migrate(
		`CREATE TABLE IF NOT EXISTS players (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			details TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_updated ON players(updated_at)`,
	); err != nil {
		return nil, fmt.Errorf("failed to migrate player store: %w", err)
	}

	return ps, nil
}

// Load fetches a player by name and checks the password. Unknown names are
// registered with the given password and returned as LoadNew.
func (ps *PlayerStore) Load(username, password string) (*Details, LoadResult, error) {
	key := storageKey(username)

	var hash, raw string
	err := ps.db.QueryRow(
		"SELECT password_hash, details FROM players WHERE username = ?", key,
	).Scan(&hash, &raw)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		details, err := ps.create(username, password)
		if err != nil {
			return nil, LoadError, err
		}
		return details, LoadNew, nil
	case err != nil:
		return nil, LoadError, fmt.Errorf("failed to load player %s: %w", key, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, LoadBadPassword, nil
	}

	details := &Details{}
	if err := json.Unmarshal([]byte(raw), details); err != nil {
		return nil, LoadError, fmt.Errorf("failed to decode player %s: %w", key, err)
	}
	details.Username = username
	if details.Friends == nil {
		details.Friends = []int64{}
	}
	if details.Ignores == nil {
		details.Ignores = []int64{}
	}
	return details, LoadOK, nil
}

func (ps *PlayerStore) create(username, password string) (*Details, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), ps.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	details := NewDetails(username)
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode player: %w", err)
	}

	if _, err := ps.db.Exec(
		"INSERT INTO players (username, password_hash, details) VALUES (?, ?, ?)",
		storageKey(username), string(hash), string(raw),
	); err != nil {
		return nil, fmt.Errorf("failed to create player %s: %w", username, err)
	}

	log.Info().Str("player", username).Msg("new player registered")
	return details, nil
}

// Save writes the player's details.
func (ps *PlayerStore) Save(details *Details) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode player %s: %w", details.Username, err)
	}

	res, err := ps.db.Exec(
		"UPDATE players SET details = ?, updated_at = ? WHERE username = ?",
		string(raw), time.Now().UTC(), storageKey(details.Username),
	)
	if err != nil {
		return fmt.Errorf("failed to save player %s: %w", details.Username, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save %s: %w", details.Username, ErrPlayerNotFound)
	}
	return nil
}

// SaveAll saves every player and returns how many were written. It keeps
// going after a failure and returns the first error.
func (ps *PlayerStore) SaveAll(all []*Details) (int, error) {
	saved := 0
	var firstErr error
	for _, d := range all {
		if err := ps.Save(d); err != nil {
			log.Error().Err(err).Str("player", d.Username).Msg("failed to save player")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		saved++
	}
	return saved, firstErr
}

// Count returns the number of registered players.
func (ps *PlayerStore) Count() (int, error) {
	var n int
	if err := ps.db.QueryRow("SELECT COUNT(*) FROM players").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count players: %w", err)
	}
	return n, nil
}
