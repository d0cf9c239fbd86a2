package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"github.com/chirhoevents/Chirhoevents-sub010/config"
	"github.com/chirhoevents/Chirhoevents-sub010/models"
)

// ConfigProvider resolves the queue policy for an event/registration
// type. A nil config with nil error means queueing is not configured
// there, which callers must treat as "let the client straight through".
type ConfigProvider interface {
	Lookup(ctx context.Context, eventID, registrationType string) (*models.QueueConfig, error)
}

// CollectionConfigProvider reads queue policies from the queue_configs
// collection. Zero-valued numeric fields fall back to the process-wide
// defaults so operators only have to set what they want to override.
type CollectionConfigProvider struct {
	app core.App
	cfg *config.Config
}

func NewCollectionConfigProvider(app core.App, cfg *config.Config) *CollectionConfigProvider {
	return &CollectionConfigProvider{app: app, cfg: cfg}
}

func (p *CollectionConfigProvider) Lookup(ctx context.Context, eventID, registrationType string) (*models.QueueConfig, error) {
	record, err := p.app.FindFirstRecordByFilter(
		"queue_configs",
		"event = {:event} && registration_type = {:type}",
		dbx.Params{"event": eventID, "type": registrationType},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue config lookup: %w", err)
	}

	qc := &models.QueueConfig{
		EventID:            eventID,
		RegistrationType:   registrationType,
		Enabled:            record.GetBool("enabled"),
		MaxActive:          record.GetInt("max_active"),
		SessionDuration:    time.Duration(record.GetInt("session_minutes")) * time.Minute,
		ExtensionAllowed:   record.GetBool("extension_allowed"),
		WaitingRoomMessage: record.GetString("waiting_room_message"),
	}
	if qc.MaxActive <= 0 {
		qc.MaxActive = p.cfg.MaxActiveSessions
	}
	if qc.SessionDuration <= 0 {
		qc.SessionDuration = p.cfg.SessionDuration
	}
	return qc, nil
}
