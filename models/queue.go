package models

import (
	"time"
)

// Session status values. Completed, expired and abandoned are terminal.
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
	StatusAbandoned = "abandoned"
)

// QueueSession is one waiting-room ticket: at most one non-terminal
// session exists per (event, registration type, client) tuple.
type QueueSession struct {
	ID               string    `json:"id"`
	EventID          string    `json:"event_id"`
	RegistrationType string    `json:"registration_type"`
	ClientKey        string    `json:"client_key"`
	Status           string    `json:"status"`
	Sequence         int64     `json:"sequence"`
	QueuePosition    int       `json:"queue_position,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	AdmittedAt       time.Time `json:"admitted_at,omitzero"`
	ExpiresAt        time.Time `json:"expires_at,omitzero"`
	LastSeenAt       time.Time `json:"last_seen_at,omitzero"`
	ExtensionAllowed bool      `json:"extension_allowed"`
	ExtensionUsed    bool      `json:"extension_used"`
}

func (s *QueueSession) IsTerminal() bool {
	switch s.Status {
	case StatusCompleted, StatusExpired, StatusAbandoned:
		return true
	}
	return false
}

// IsExpired reports whether an active session's deadline has passed.
// ExpiresAt is only set while the session is active.
func (s *QueueSession) IsExpired(now time.Time) bool {
	return s.Status == StatusActive && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// TerminalSession is the flattened form pushed onto the terminal list
// by the Lua scripts and drained into the archive collection.
type TerminalSession struct {
	ID               string `json:"id"`
	EventID          string `json:"event_id"`
	RegistrationType string `json:"registration_type"`
	ClientKey        string `json:"client_key"`
	Status           string `json:"status"`
	Sequence         int64  `json:"sequence"`
	CreatedAt        int64  `json:"created_at"`
	AdmittedAt       int64  `json:"admitted_at"`
	ExpiresAt        int64  `json:"expires_at"`
	EndedAt          int64  `json:"ended_at"`
	ExtensionUsed    bool   `json:"extension_used"`
}

// QueueMetrics is the live per-queue snapshot served to dashboards.
type QueueMetrics struct {
	EventID          string    `json:"event_id"`
	RegistrationType string    `json:"registration_type"`
	WaitingCount     int64     `json:"waiting_count"`
	ActiveCount      int64     `json:"active_count"`
	MaxActive        int       `json:"max_active"`
	LastUpdated      time.Time `json:"last_updated"`
}
