package models

import "time"

// Wire types for the /api/queue endpoints. Field names follow the
// contract consumed by the registration pages.

type CheckRequest struct {
	EventID          string `json:"eventId"`
	RegistrationType string `json:"registrationType"`
}

type CheckResponse struct {
	Allowed              bool       `json:"allowed"`
	SessionID            string     `json:"sessionId,omitempty"`
	Status               string     `json:"status,omitempty"`
	QueuePosition        int        `json:"queuePosition,omitempty"`
	EstimatedWaitMinutes int        `json:"estimatedWaitMinutes,omitempty"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
	ExtensionAllowed     bool       `json:"extensionAllowed,omitempty"`
	ExtensionUsed        bool       `json:"extensionUsed,omitempty"`
	WaitingRoomMessage   string     `json:"waitingRoomMessage,omitempty"`
}

type ExtendResponse struct {
	Success      bool       `json:"success"`
	NewExpiresAt *time.Time `json:"newExpiresAt,omitempty"`
	Error        string     `json:"error,omitempty"`
}

type CompleteResponse struct {
	Success bool `json:"success"`
}
