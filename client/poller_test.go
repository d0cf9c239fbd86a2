package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirhoevents/Chirhoevents-sub010/models"
)

func newQueueServer(t *testing.T, check func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/queue/check", check)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL)
	require.NoError(t, err)
	return srv, c
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func fastOptions() Options {
	return Options{
		PollInterval:     50 * time.Millisecond,
		Tick:             5 * time.Millisecond,
		UrgencyThreshold: 120 * time.Second,
	}
}

func TestClient_Check_DecodesResponse(t *testing.T) {
	expires := time.Now().Add(20 * time.Minute).UTC().Truncate(time.Second)
	_, c := newQueueServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req models.CheckRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "evt1", req.EventID)
		assert.Equal(t, "general", req.RegistrationType)

		writeJSON(w, models.CheckResponse{
			Allowed:          true,
			SessionID:        "sess-1",
			Status:           models.StatusActive,
			ExpiresAt:        &expires,
			ExtensionAllowed: true,
		})
	})

	resp, err := c.Check(context.Background(), "evt1", "general")

	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Equal(t, "sess-1", resp.SessionID)
	require.NotNil(t, resp.ExpiresAt)
	assert.Equal(t, expires.Unix(), resp.ExpiresAt.Unix())
}

func TestClient_Check_ServerError(t *testing.T) {
	_, c := newQueueServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Check(context.Background(), "evt1", "general")

	assert.Error(t, err)
}

func TestPoller_BypassesOnDegradedService(t *testing.T) {
	_, c := newQueueServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	bypassed := false
	p := NewPoller(c, "evt1", "general", Hooks{
		OnBypass:   func() { bypassed = true },
		OnRedirect: func(reason string) { t.Errorf("unexpected redirect %q", reason) },
	}, fastOptions())

	err := p.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, bypassed)
}

func TestPoller_BypassesWhenQueueingDisabled(t *testing.T) {
	_, c := newQueueServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.CheckResponse{Allowed: true})
	})

	bypassed := false
	p := NewPoller(c, "evt1", "general", Hooks{
		OnBypass: func() { bypassed = true },
	}, fastOptions())

	err := p.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, bypassed)
}

func TestPoller_WaitingRedirectsOnce(t *testing.T) {
	_, c := newQueueServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.CheckResponse{
			Allowed:              false,
			SessionID:            "sess-1",
			Status:               models.StatusWaiting,
			QueuePosition:        7,
			EstimatedWaitMinutes: 35,
			WaitingRoomMessage:   "Hang tight",
		})
	})

	var position, estimate int
	var message string
	redirects := 0
	var reason string
	p := NewPoller(c, "evt1", "general", Hooks{
		OnWaiting: func(pos, est int, msg string) {
			position, estimate, message = pos, est, msg
		},
		OnRedirect: func(r string) {
			redirects++
			reason = r
		},
	}, fastOptions())

	err := p.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 7, position)
	assert.Equal(t, 35, estimate)
	assert.Equal(t, "Hang tight", message)
	assert.Equal(t, 1, redirects)
	assert.Equal(t, RedirectWaiting, reason)
}

func TestPoller_ActiveSessionTicksThenExpires(t *testing.T) {
	expires := time.Now().Add(60 * time.Millisecond)
	_, c := newQueueServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.CheckResponse{
			Allowed:   true,
			SessionID: "sess-1",
			Status:    models.StatusActive,
			ExpiresAt: &expires,
		})
	})

	var activeCalls, tickCalls atomic.Int32
	redirected := make(chan string, 1)
	p := NewPoller(c, "evt1", "general", Hooks{
		OnActive: func(at time.Time, extAllowed, extUsed bool) {
			activeCalls.Add(1)
		},
		OnTick: func(remaining time.Duration, urgent bool) {
			tickCalls.Add(1)
			assert.True(t, urgent)
		},
		OnRedirect: func(reason string) { redirected <- reason },
	}, Options{
		PollInterval:     time.Hour, // only the mount-time check
		Tick:             5 * time.Millisecond,
		UrgencyThreshold: 120 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := p.Run(ctx)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, activeCalls.Load(), int32(1))
	assert.Greater(t, tickCalls.Load(), int32(0))
	select {
	case reason := <-redirected:
		assert.Equal(t, RedirectExpired, reason)
	default:
		t.Fatal("expected an expiry redirect")
	}
}

func TestPoller_ExtendOutsideUrgencyWindowIsNoop(t *testing.T) {
	var extendCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/queue/extend", func(w http.ResponseWriter, r *http.Request) {
		extendCalls.Add(1)
		writeJSON(w, models.ExtendResponse{Success: true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	p := NewPoller(c, "evt1", "general", Hooks{}, fastOptions())
	p.mu.Lock()
	p.extensionAllowed = true
	p.expiresAt = time.Now().Add(time.Hour) // far from the deadline
	p.mu.Unlock()

	p.Extend(context.Background())

	assert.Equal(t, int32(0), extendCalls.Load())
}

func TestPoller_ExtendInsideUrgencyWindow(t *testing.T) {
	newExpires := time.Now().Add(6 * time.Minute).UTC().Truncate(time.Second)
	var extendCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/queue/extend", func(w http.ResponseWriter, r *http.Request) {
		extendCalls.Add(1)
		writeJSON(w, models.ExtendResponse{Success: true, NewExpiresAt: &newExpires})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	var gotExpires time.Time
	p := NewPoller(c, "evt1", "general", Hooks{
		OnActive: func(at time.Time, extAllowed, extUsed bool) {
			gotExpires = at
			assert.True(t, extUsed)
		},
	}, fastOptions())
	p.mu.Lock()
	p.extensionAllowed = true
	p.expiresAt = time.Now().Add(90 * time.Second)
	p.mu.Unlock()

	p.Extend(context.Background())

	assert.Equal(t, int32(1), extendCalls.Load())
	assert.Equal(t, newExpires.Unix(), gotExpires.Unix())

	// The extension is single-use: a second click does not call out.
	p.Extend(context.Background())
	assert.Equal(t, int32(1), extendCalls.Load())
}

func TestPoller_ExtendRejectedHidesAffordance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/queue/extend", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.ExtendResponse{Success: false, Error: "already_used"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	p := NewPoller(c, "evt1", "general", Hooks{}, fastOptions())
	p.mu.Lock()
	p.extensionAllowed = true
	p.expiresAt = time.Now().Add(time.Minute)
	p.mu.Unlock()

	p.Extend(context.Background())

	p.mu.Lock()
	used := p.extensionUsed
	p.mu.Unlock()
	assert.True(t, used)
}
