// Package events defines the event types carried by the Ember event bus.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Player lifecycle
	EventPlayerLogin  EventType = "player_login"
	EventPlayerLogout EventType = "player_logout"

	// Connection events
	EventHandshakeRejected EventType = "handshake_rejected"
	EventSessionDropped    EventType = "session_dropped"

	// Tick events
	EventTickOverload EventType = "tick_overload"

	// Persistence
	EventPlayersSaved EventType = "players_saved"

	// Notification events
	EventNotifyMQTT EventType = "notify_mqtt"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// DisconnectCause says why a session left the world.
type DisconnectCause int

const (
	CauseNone DisconnectCause = iota
	CauseLogout
	CauseSocketClosed
	CauseIdleTimeout
	CauseUnknownOpcodes
	CauseKicked
	CauseShutdown
)

// causeStrings maps DisconnectCause values to their lowercase JSON form.
var causeStrings = map[DisconnectCause]string{
	CauseNone:           "none",
	CauseLogout:         "logout",
	CauseSocketClosed:   "socket_closed",
	CauseIdleTimeout:    "idle_timeout",
	CauseUnknownOpcodes: "unknown_opcodes",
	CauseKicked:         "kicked",
	CauseShutdown:       "shutdown",
}

// String returns the string representation of DisconnectCause.
func (c DisconnectCause) String() string {
	if str, ok := causeStrings[c]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes DisconnectCause as a JSON string (e.g. "kicked").
func (c DisconnectCause) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PlayerPayload describes a player joining or leaving.
type PlayerPayload struct {
	Username string          `json:"username"`
	Index    int             `json:"index"`
	Rights   int             `json:"rights"`
	Remote   string          `json:"remote"`
	Online   int             `json:"online"`
	Cause    DisconnectCause `json:"cause,omitempty"`
	New      bool            `json:"new,omitempty"`
}

// HandshakeRejectedPayload describes a connection turned away before
// entering the world.
type HandshakeRejectedPayload struct {
	Remote string `json:"remote"`
	Reason string `json:"reason"`
	Code   int    `json:"code"`
}

// TickOverloadPayload describes a cycle that ran past the cycle rate.
type TickOverloadPayload struct {
	Tick        uint64        `json:"tick"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Rate        time.Duration `json:"rate_ns"`
	LoadPercent int           `json:"load_percent"`
	Players     int           `json:"players"`
}

// PlayersSavedPayload reports a batch save.
type PlayersSavedPayload struct {
	Saved  int    `json:"saved"`
	Failed int    `json:"failed"`
	Reason string `json:"reason"`
}

// NotifyPayload is a free-form status notice for the MQTT status topic.
type NotifyPayload struct {
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Level   string                 `json:"level"` // "info", "warning", "error"
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
