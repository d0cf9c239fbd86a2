package services

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	pubnub "github.com/pubnub/go"

	"github.com/chirhoevents/Chirhoevents-sub010/config"
	"github.com/chirhoevents/Chirhoevents-sub010/internal/events"
	"github.com/chirhoevents/Chirhoevents-sub010/models"
	"github.com/chirhoevents/Chirhoevents-sub010/monitoring"
)

// Reaper is the background lifecycle sweep. It runs independently of
// client traffic so abandoned browser tabs cannot hold capacity slots
// forever: stale actives expire, silent waiters are abandoned, and the
// longest-waiting clients are promoted into the freed slots.
type Reaper struct {
	store   *SessionStore
	configs ConfigProvider
	cfg     *config.Config
	monitor *monitoring.Monitor
	pubnub  *pubnub.PubNub
	events  *events.Publisher

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewReaper(store *SessionStore, configs ConfigProvider, cfg *config.Config, monitor *monitoring.Monitor, pn *pubnub.PubNub, publisher *events.Publisher) *Reaper {
	return &Reaper{
		store:    store,
		configs:  configs,
		cfg:      cfg,
		monitor:  monitor,
		pubnub:   pn,
		events:   publisher,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background loops: the sweeper, the position
// updater and the health monitor.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.sweeper()

	r.wg.Add(1)
	go r.positionUpdater()

	r.wg.Add(1)
	go r.healthMonitor()

	log.Printf("Started %d background goroutines", 3)
}

func (r *Reaper) sweeper() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.ReaperInterval)
	defer ticker.Stop()

	log.Println("Reaper sweeper started")

	for {
		select {
		case <-ticker.C:
			r.SweepAll(context.Background())
		case <-r.stopChan:
			log.Println("Reaper sweeper stopping")
			return
		}
	}
}

// SweepAll runs one pass over every queue the store has seen. Each
// queue's expirations, abandonments and promotions happen in a single
// atomic script, so a pass racing live check calls stays correct.
func (r *Reaper) SweepAll(ctx context.Context) {
	started := time.Now()

	refs, err := r.store.Queues(ctx)
	if err != nil {
		log.Printf("reaper: listing queues: %v", err)
		return
	}

	expired, abandoned, promoted := 0, 0, 0
	for _, ref := range refs {
		result, err := r.sweepQueue(ctx, ref)
		if err != nil {
			log.Printf("reaper: sweep %s/%s: %v", ref.EventID, ref.RegistrationType, err)
			continue
		}
		expired += len(result.Expired)
		abandoned += len(result.Abandoned)
		promoted += len(result.Promoted)
	}

	r.monitor.TrackSweep(time.Since(started))
	if expired+abandoned+promoted > 0 {
		log.Printf("reaper: %d expired, %d abandoned, %d promoted across %d queues",
			expired, abandoned, promoted, len(refs))
	}
}

func (r *Reaper) sweepQueue(ctx context.Context, ref QueueRef) (*SweepResult, error) {
	qc, err := r.configs.Lookup(ctx, ref.EventID, ref.RegistrationType)
	if err != nil {
		return nil, err
	}
	if qc == nil {
		// Policy was removed while sessions were in flight: keep the
		// queue draining under the process defaults.
		qc = &models.QueueConfig{
			EventID:          ref.EventID,
			RegistrationType: ref.RegistrationType,
			MaxActive:        r.cfg.MaxActiveSessions,
			SessionDuration:  r.cfg.SessionDuration,
		}
	}

	result, err := r.store.Sweep(ctx, qc, r.cfg.AbandonmentGrace, time.Now())
	if err != nil {
		return nil, err
	}

	for range result.Expired {
		r.monitor.TrackQueueOperation("expire", ref.EventID, "success")
	}
	for range result.Abandoned {
		r.monitor.TrackQueueOperation("abandon", ref.EventID, "success")
	}
	for _, clientKey := range result.Promoted {
		r.monitor.TrackQueueOperation("promote", ref.EventID, "success")
		r.notifyPromoted(clientKey, ref.EventID)
		r.publish(ctx, events.TypeAdmitted, ref, clientKey)
	}
	for _, clientKey := range result.Expired {
		r.publish(ctx, events.TypeExpired, ref, clientKey)
	}
	for _, clientKey := range result.Abandoned {
		r.publish(ctx, events.TypeAbandoned, ref, clientKey)
	}

	return result, nil
}

func (r *Reaper) positionUpdater() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.QueuePositionUpdate)
	defer ticker.Stop()

	log.Println("Position updater started")

	for {
		select {
		case <-ticker.C:
			r.updateAllPositions(context.Background())
		case <-r.stopChan:
			log.Println("Position updater stopping")
			return
		}
	}
}

func (r *Reaper) updateAllPositions(ctx context.Context) {
	refs, err := r.store.Queues(ctx)
	if err != nil {
		log.Printf("reaper: listing queues: %v", err)
		return
	}

	totalWaiting := 0
	for _, ref := range refs {
		waiters, err := r.store.WaitingClients(ctx, ref.EventID, ref.RegistrationType)
		if err != nil {
			continue
		}
		totalWaiting += len(waiters)

		for i, clientKey := range waiters {
			position := i + 1

			posKey := fmt.Sprintf("queue:position:%s:%s:%s", ref.EventID, ref.RegistrationType, clientKey)
			r.store.Redis.Set(ctx, posKey, position, 2*r.cfg.QueuePositionUpdate)

			if r.shouldNotifyPosition(position) {
				r.notifyPosition(clientKey, ref.EventID, position)
			}
		}
	}

	if totalWaiting > 0 {
		log.Printf("Updated positions for %d waiting clients across %d queues", totalWaiting, len(refs))
	}
}

func (r *Reaper) shouldNotifyPosition(position int) bool {
	// Notify more frequently for clients closer to the front.
	if position <= 5 {
		return true
	} else if position <= 20 {
		return position%2 == 0
	} else if position <= 100 {
		return position%10 == 0
	}
	return position%50 == 0
}

func (r *Reaper) notifyPosition(clientKey, eventID string, position int) {
	if r.pubnub == nil {
		return
	}
	r.pubnub.Publish().
		Channel(fmt.Sprintf("queue-%s", clientKey)).
		Message(map[string]any{
			"type":     "queue_position",
			"position": position,
			"event_id": eventID,
		}).
		Execute()
}

func (r *Reaper) notifyPromoted(clientKey, eventID string) {
	if r.pubnub == nil {
		return
	}
	r.pubnub.Publish().
		Channel(fmt.Sprintf("queue-%s", clientKey)).
		Message(map[string]any{
			"type":     "queue_status",
			"status":   models.StatusActive,
			"event_id": eventID,
			"message":  "It's your turn! You can start your registration now.",
		}).
		Execute()
}

func (r *Reaper) publish(ctx context.Context, eventType string, ref QueueRef, clientKey string) {
	if r.events == nil {
		return
	}
	_ = r.events.Publish(ctx, events.SessionEvent{
		Type:             eventType,
		EventID:          ref.EventID,
		RegistrationType: ref.RegistrationType,
		ClientKey:        clientKey,
		OccurredAt:       time.Now().UTC(),
	})
}

func (r *Reaper) healthMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.logHealthStats(context.Background())
		case <-r.stopChan:
			return
		}
	}
}

func (r *Reaper) logHealthStats(ctx context.Context) {
	refs, err := r.store.Queues(ctx)
	if err != nil {
		return
	}

	totalWaiting, totalActive := int64(0), int64(0)
	for _, ref := range refs {
		waiting, active, err := r.store.Counts(ctx, ref.EventID, ref.RegistrationType)
		if err != nil {
			continue
		}
		totalWaiting += waiting
		totalActive += active
	}

	memStats := &runtime.MemStats{}
	runtime.ReadMemStats(memStats)

	log.Printf("Health Stats - Queues: %d, Waiting: %d, Active: %d, Goroutines: %d, Memory: %.1fMB",
		len(refs), totalWaiting, totalActive, runtime.NumGoroutine(),
		float64(memStats.Alloc)/1024/1024)
}

// Shutdown stops the background loops and waits for them to drain.
func (r *Reaper) Shutdown() {
	log.Println("Shutting down reaper...")

	close(r.stopChan)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All reaper goroutines stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Println("Timeout waiting for reaper goroutines to stop")
	}
}
