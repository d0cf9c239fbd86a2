package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/chirhoevents/Chirhoevents-sub010/config"
	"github.com/chirhoevents/Chirhoevents-sub010/internal/events"
	"github.com/chirhoevents/Chirhoevents-sub010/models"
	"github.com/chirhoevents/Chirhoevents-sub010/monitoring"
)

// AdmissionService decides whether a client is admitted into the
// registration flow now or waits in line. It is the only component,
// together with the reaper's promotion pass, that acquires capacity
// slots, and both go through the same store scripts.
type AdmissionService struct {
	store   *SessionStore
	configs ConfigProvider
	cfg     *config.Config
	monitor *monitoring.Monitor
	events  *events.Publisher
}

func NewAdmissionService(store *SessionStore, configs ConfigProvider, cfg *config.Config, monitor *monitoring.Monitor, publisher *events.Publisher) *AdmissionService {
	return &AdmissionService{
		store:   store,
		configs: configs,
		cfg:     cfg,
		monitor: monitor,
		events:  publisher,
	}
}

// Check admits, re-reports or enqueues one client. Queueing is opt-in
// per event/type: a missing policy, a disabled one, or a policy lookup
// failure all let the client straight through rather than blocking
// registrations behind a broken queue service.
func (s *AdmissionService) Check(ctx context.Context, eventID, registrationType, clientKey string) (*models.CheckResponse, error) {
	qc, err := s.configs.Lookup(ctx, eventID, registrationType)
	if err != nil {
		log.Printf("admission: config lookup failed for %s/%s, failing open: %v", eventID, registrationType, err)
		s.monitor.TrackQueueOperation("check", eventID, "config_error")
		return &models.CheckResponse{Allowed: true}, nil
	}
	if qc == nil || !qc.Enabled {
		return &models.CheckResponse{Allowed: true}, nil
	}

	out, err := s.store.CheckIn(ctx, qc, clientKey, time.Now())
	if err != nil {
		s.monitor.TrackQueueOperation("check", eventID, "error")
		return nil, fmt.Errorf("admission check: %w", err)
	}

	switch out.Status {
	case models.StatusActive:
		if out.Admitted {
			s.monitor.TrackQueueOperation("admit", eventID, "success")
			s.publish(ctx, events.TypeAdmitted, qc, clientKey, out.ExpiresAt)
		} else {
			s.monitor.TrackQueueOperation("check", eventID, "active")
		}
		expires := out.ExpiresAt
		return &models.CheckResponse{
			Allowed:          true,
			SessionID:        out.SessionID,
			Status:           models.StatusActive,
			ExpiresAt:        &expires,
			ExtensionAllowed: out.ExtensionAllowed,
			ExtensionUsed:    out.ExtensionUsed,
		}, nil

	case models.StatusWaiting:
		s.monitor.TrackQueueOperation("check", eventID, "waiting")
		return &models.CheckResponse{
			Allowed:              false,
			SessionID:            out.SessionID,
			Status:               models.StatusWaiting,
			QueuePosition:        out.Position,
			EstimatedWaitMinutes: estimateWaitMinutes(out.Position, qc),
			WaitingRoomMessage:   qc.WaitingRoomMessage,
		}, nil
	}

	return nil, fmt.Errorf("admission check: unexpected outcome %q", out.Status)
}

// Complete releases the caller's active slot after a finished
// registration. A missing or already-terminal session is not an error:
// the reaper would have reclaimed the slot anyway.
func (s *AdmissionService) Complete(ctx context.Context, eventID, registrationType, clientKey string) (bool, error) {
	released, err := s.store.Complete(ctx, eventID, registrationType, clientKey, time.Now())
	if err != nil {
		s.monitor.TrackQueueOperation("complete", eventID, "error")
		return false, fmt.Errorf("admission complete: %w", err)
	}
	if released {
		s.monitor.TrackQueueOperation("complete", eventID, "success")
		s.publish(ctx, events.TypeCompleted, &models.QueueConfig{EventID: eventID, RegistrationType: registrationType}, clientKey, time.Time{})
	} else {
		s.monitor.TrackQueueOperation("complete", eventID, "noop")
	}
	return released, nil
}

// QueueMetrics returns the live depth snapshot served to dashboards.
func (s *AdmissionService) QueueMetrics(ctx context.Context, eventID, registrationType string) (*models.QueueMetrics, error) {
	waiting, active, err := s.store.Counts(ctx, eventID, registrationType)
	if err != nil {
		return nil, err
	}

	maxActive := s.cfg.MaxActiveSessions
	if qc, err := s.configs.Lookup(ctx, eventID, registrationType); err == nil && qc != nil {
		maxActive = qc.MaxActive
	}

	return &models.QueueMetrics{
		EventID:          eventID,
		RegistrationType: registrationType,
		WaitingCount:     waiting,
		ActiveCount:      active,
		MaxActive:        maxActive,
		LastUpdated:      time.Now(),
	}, nil
}

func (s *AdmissionService) publish(ctx context.Context, eventType string, qc *models.QueueConfig, clientKey string, expiresAt time.Time) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, events.SessionEvent{
		Type:             eventType,
		EventID:          qc.EventID,
		RegistrationType: qc.RegistrationType,
		ClientKey:        clientKey,
		ExpiresAt:        expiresAt,
		OccurredAt:       time.Now().UTC(),
	})
}

// estimateWaitMinutes is advisory only: position batches of capacity,
// each holding a slot for up to the session duration.
func estimateWaitMinutes(position int, qc *models.QueueConfig) int {
	if position <= 0 || qc.MaxActive <= 0 {
		return 0
	}
	est := math.Ceil(float64(position) / float64(qc.MaxActive) * qc.SessionDuration.Minutes())
	return int(est)
}
