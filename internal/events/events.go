// Package events publishes queue lifecycle messages for downstream
// consumers (mailer, analytics, the registration app). Publishing is
// best-effort: a broker outage must never affect admission decisions.
package events

import "time"

const (
	TypeAdmitted  = "admitted"
	TypeCompleted = "completed"
	TypeExpired   = "expired"
	TypeAbandoned = "abandoned"
)

// SessionEvent is the payload published to the queue.session.lifecycle
// queue. It carries enough for consumers to act without querying the
// session store.
type SessionEvent struct {
	Type             string    `json:"type"`
	EventID          string    `json:"event_id"`
	RegistrationType string    `json:"registration_type"`
	ClientKey        string    `json:"client_key"`
	ExpiresAt        time.Time `json:"expires_at,omitzero"`
	OccurredAt       time.Time `json:"occurred_at"`
}
