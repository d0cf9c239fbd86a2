package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	waitingDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_waiting_total",
			Help: "Current waiting sessions per queue",
		},
		[]string{"event_id", "registration_type"},
	)

	activeSlots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_active_sessions_total",
			Help: "Currently held capacity slots per queue",
		},
		[]string{"event_id", "registration_type"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_operations_total",
			Help: "Total queue operations",
		},
		[]string{"operation", "event_id", "status"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queue_sweep_duration_seconds",
			Help:    "Duration of reaper sweeps",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	sessionHoldDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_session_hold_seconds",
			Help:    "How long admitted sessions held their slot",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"event_id", "outcome"},
	)
)

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.collectQueueMetrics(context.Background())
	}
}

func (m *Monitor) collectQueueMetrics(ctx context.Context) {
	waitingKeys, _ := m.redis.Keys(ctx, "queue:waiting:*").Result()
	for _, key := range waitingKeys {
		eventID, regType := splitQueueKey(key, "queue:waiting:")
		depth, _ := m.redis.ZCard(ctx, key).Result()
		waitingDepth.WithLabelValues(eventID, regType).Set(float64(depth))
	}

	activeKeys, _ := m.redis.Keys(ctx, "queue:active:*").Result()
	for _, key := range activeKeys {
		eventID, regType := splitQueueKey(key, "queue:active:")
		held, _ := m.redis.ZCard(ctx, key).Result()
		activeSlots.WithLabelValues(eventID, regType).Set(float64(held))
	}
}

func splitQueueKey(key, prefix string) (eventID, regType string) {
	rest := strings.TrimPrefix(key, prefix)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return rest, ""
	}
	return parts[0], parts[1]
}

// TrackQueueOperation counts one check/extend/complete/sweep outcome.
func (m *Monitor) TrackQueueOperation(operation, eventID, status string) {
	queueOperations.WithLabelValues(operation, eventID, status).Inc()
}

// TrackSweep records one reaper pass.
func (m *Monitor) TrackSweep(duration time.Duration) {
	sweepDuration.Observe(duration.Seconds())
}

// TrackSessionHold records how long a released slot was held.
func (m *Monitor) TrackSessionHold(eventID, outcome string, duration time.Duration) {
	sessionHoldDuration.WithLabelValues(eventID, outcome).Observe(duration.Seconds())
}
