package services

import (
	"context"
	"errors"
	"time"

	"github.com/chirhoevents/Chirhoevents-sub010/config"
	"github.com/chirhoevents/Chirhoevents-sub010/internal/status"
	"github.com/chirhoevents/Chirhoevents-sub010/monitoring"
)

// ExtensionService grants the single bounded time extension an active
// session may receive. A second grant attempt fails with
// status.ErrExtensionAlreadyUsed so callers can hide the affordance
// instead of mistaking it for a missing session.
type ExtensionService struct {
	store   *SessionStore
	cfg     *config.Config
	monitor *monitoring.Monitor
}

func NewExtensionService(store *SessionStore, cfg *config.Config, monitor *monitoring.Monitor) *ExtensionService {
	return &ExtensionService{store: store, cfg: cfg, monitor: monitor}
}

// Extend pushes the session deadline out by the fixed extension
// duration, exactly once per session.
func (s *ExtensionService) Extend(ctx context.Context, eventID, registrationType, clientKey string) (time.Time, error) {
	newExpiresAt, err := s.store.Extend(ctx, eventID, registrationType, clientKey, s.cfg.ExtensionDuration, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, status.ErrExtensionAlreadyUsed):
			s.monitor.TrackQueueOperation("extend", eventID, "already_used")
		case errors.Is(err, status.ErrSessionNotFound),
			errors.Is(err, status.ErrSessionNotActive),
			errors.Is(err, status.ErrSessionExpired),
			errors.Is(err, status.ErrExtensionNotAllowed):
			s.monitor.TrackQueueOperation("extend", eventID, "rejected")
		default:
			s.monitor.TrackQueueOperation("extend", eventID, "error")
		}
		return time.Time{}, err
	}

	s.monitor.TrackQueueOperation("extend", eventID, "success")
	return newExpiresAt, nil
}
