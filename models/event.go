package models

import "time"

// QueueConfig is the per (event, registration type) admission policy.
// Queueing is opt-in: no config row means no queue (fail open).
type QueueConfig struct {
	EventID            string        `json:"event_id"`
	RegistrationType   string        `json:"registration_type"`
	Enabled            bool          `json:"enabled"`
	MaxActive          int           `json:"max_active"`
	SessionDuration    time.Duration `json:"session_duration"`
	ExtensionAllowed   bool          `json:"extension_allowed"`
	WaitingRoomMessage string        `json:"waiting_room_message,omitempty"`
}
