package services

import (
	"context"
	"log"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"github.com/chirhoevents/Chirhoevents-sub010/models"
	"github.com/chirhoevents/Chirhoevents-sub010/monitoring"
)

// Archiver drains terminal sessions out of the hot store into the
// queue_sessions_archive collection. Terminal sessions carry no
// capacity accounting weight; they are kept for audit and metrics.
type Archiver struct {
	app       core.App
	store     *SessionStore
	monitor   *monitoring.Monitor
	batchSize int
}

func NewArchiver(app core.App, store *SessionStore, monitor *monitoring.Monitor, batchSize int) *Archiver {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Archiver{app: app, store: store, monitor: monitor, batchSize: batchSize}
}

// Run moves every pending terminal session into the archive. Individual
// save failures are logged and skipped; the session is already gone
// from the hot store either way.
func (a *Archiver) Run(ctx context.Context) error {
	collection, err := a.app.FindCollectionByNameOrId("queue_sessions_archive")
	if err != nil {
		return err
	}

	archived := 0
	for {
		sessions, err := a.store.DrainTerminal(ctx, a.batchSize)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			break
		}

		for _, ts := range sessions {
			if err := a.save(collection, ts); err != nil {
				log.Printf("archiver: saving session %s: %v", ts.ID, err)
				continue
			}
			archived++
		}

		if len(sessions) < a.batchSize {
			break
		}
	}

	if archived > 0 {
		log.Printf("archiver: archived %d terminal sessions", archived)
	}
	return nil
}

func (a *Archiver) save(collection *core.Collection, ts models.TerminalSession) error {
	record := core.NewRecord(collection)
	record.Set("session_id", ts.ID)
	record.Set("event", ts.EventID)
	record.Set("registration_type", ts.RegistrationType)
	record.Set("client_key", ts.ClientKey)
	record.Set("status", ts.Status)
	record.Set("sequence", ts.Sequence)
	record.Set("extension_used", ts.ExtensionUsed)
	record.Set("enrolled_at", unixOrNil(ts.CreatedAt))
	record.Set("admitted_at", unixOrNil(ts.AdmittedAt))
	record.Set("ended_at", unixOrNil(ts.EndedAt))

	if err := a.app.Save(record); err != nil {
		return err
	}

	if ts.AdmittedAt > 0 && ts.EndedAt > ts.AdmittedAt {
		a.monitor.TrackSessionHold(ts.EventID, ts.Status,
			time.Duration(ts.EndedAt-ts.AdmittedAt)*time.Second)
	}
	return nil
}

func unixOrNil(sec int64) any {
	if sec <= 0 {
		return nil
	}
	return time.Unix(sec, 0).UTC()
}

// ArchiveStat is one row of the per-status archive aggregate.
type ArchiveStat struct {
	Status string `db:"status" json:"status"`
	Total  int64  `db:"total" json:"total"`
}

// Stats aggregates archived sessions by terminal status, optionally
// scoped to one event.
func (a *Archiver) Stats(eventID string) ([]ArchiveStat, error) {
	query := "SELECT status, COUNT(*) AS total FROM queue_sessions_archive"
	q := a.app.DB().NewQuery(query + " GROUP BY status ORDER BY status")
	if eventID != "" {
		q = a.app.DB().NewQuery(query + " WHERE event = {:event} GROUP BY status ORDER BY status").
			Bind(dbx.Params{"event": eventID})
	}

	var stats []ArchiveStat
	if err := q.All(&stats); err != nil {
		return nil, err
	}
	return stats, nil
}
