package client

import (
	"context"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chirhoevents/Chirhoevents-sub010/models"
)

// Redirect reasons passed to Hooks.OnRedirect.
const (
	RedirectWaiting = "waiting"
	RedirectExpired = "expired"
)

// Hooks are the UI callbacks of the poller. All of them are optional.
// The poller is non-authoritative: every hook only renders state the
// server already persisted.
type Hooks struct {
	// OnActive fires when a session is (still) active: on admission
	// and after every confirming poll or extension.
	OnActive func(expiresAt time.Time, extensionAllowed, extensionUsed bool)
	// OnTick fires every second while active with the remaining time
	// and whether the extend affordance should be shown.
	OnTick func(remaining time.Duration, urgent bool)
	// OnWaiting fires when the client is queued.
	OnWaiting func(position, estimatedWaitMinutes int, message string)
	// OnRedirect fires at most once, when the page should navigate to
	// the waiting room (reason RedirectWaiting) or its re-entry
	// (reason RedirectExpired).
	OnRedirect func(reason string)
	// OnBypass fires when queueing is disabled or the service is
	// degraded: proceed with no timer.
	OnBypass func()
}

// Options tune the poller. Zero values fall back to the defaults used
// by the hosted registration pages.
type Options struct {
	PollInterval     time.Duration // default 30s
	Tick             time.Duration // default 1s
	UrgencyThreshold time.Duration // default 120s
}

// Poller drives one registration page's queue lifecycle. The local
// countdown is cosmetic; the server-issued expiresAt is authoritative
// and every consequential transition comes back from a check call.
type Poller struct {
	client           *Client
	eventID          string
	registrationType string
	hooks            Hooks
	pollInterval     time.Duration
	tick             time.Duration
	urgencyThreshold time.Duration

	mu               sync.Mutex
	expiresAt        time.Time
	extensionAllowed bool
	extensionUsed    bool
	redirected       bool

	extendInFlight atomic.Bool
}

func NewPoller(c *Client, eventID, registrationType string, hooks Hooks, opts Options) *Poller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.UrgencyThreshold <= 0 {
		opts.UrgencyThreshold = 120 * time.Second
	}
	return &Poller{
		client:           c,
		eventID:          eventID,
		registrationType: registrationType,
		hooks:            hooks,
		pollInterval:     opts.PollInterval,
		tick:             opts.Tick,
		urgencyThreshold: opts.UrgencyThreshold,
	}
}

// Run performs the mount-time check and then polls until the session
// reaches a terminal outcome for this page: bypass, redirect, or
// context cancellation. It returns nil on every cooperative outcome.
func (p *Poller) Run(ctx context.Context) error {
	resp, err := p.client.Check(ctx, p.eventID, p.registrationType)
	if err != nil {
		// Fail open: a degraded admission service must not block the
		// user. No timer is shown.
		p.bypass()
		return nil
	}
	if done := p.apply(resp); done {
		return nil
	}

	pollTicker := time.NewTicker(p.pollInterval)
	defer pollTicker.Stop()
	tickTicker := time.NewTicker(p.tick)
	defer tickTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-pollTicker.C:
			resp, err := p.client.Check(ctx, p.eventID, p.registrationType)
			if err != nil {
				// Transient failure while active: keep the local
				// countdown running and retry on the next tick.
				continue
			}
			if done := p.apply(resp); done {
				return nil
			}

		case <-tickTicker.C:
			remaining := p.remaining()
			if remaining <= 0 {
				// Local zero mirrors server expiry without waiting
				// for the next poll.
				p.redirect(RedirectExpired)
				return nil
			}
			if p.hooks.OnTick != nil {
				p.hooks.OnTick(remaining, remaining <= p.urgencyThreshold)
			}
		}
	}
}

// apply folds one check response into the poller state. It reports
// whether the page is done with the poll loop.
func (p *Poller) apply(resp *models.CheckResponse) bool {
	switch {
	case resp.Allowed && resp.Status == models.StatusActive && resp.ExpiresAt != nil:
		p.mu.Lock()
		p.expiresAt = *resp.ExpiresAt
		p.extensionAllowed = resp.ExtensionAllowed
		p.extensionUsed = resp.ExtensionUsed
		p.mu.Unlock()
		if p.hooks.OnActive != nil {
			p.hooks.OnActive(*resp.ExpiresAt, resp.ExtensionAllowed, resp.ExtensionUsed)
		}
		return false

	case resp.Allowed:
		// Queueing disabled for this event/type: no timer.
		p.bypass()
		return true

	case resp.Status == models.StatusWaiting:
		if p.hooks.OnWaiting != nil {
			p.hooks.OnWaiting(resp.QueuePosition, resp.EstimatedWaitMinutes, resp.WaitingRoomMessage)
		}
		p.redirect(RedirectWaiting)
		return true

	case resp.Status == models.StatusExpired:
		p.redirect(RedirectExpired)
		return true
	}

	// Not a well-formed queue payload: same fail-open path as a
	// transport error.
	p.bypass()
	return true
}

// Extend requests the single allowed extension. It is a no-op unless
// the session is inside the urgency window with an unused extension,
// and a second click while one request is in flight is ignored.
func (p *Poller) Extend(ctx context.Context) {
	p.mu.Lock()
	eligible := p.extensionAllowed && !p.extensionUsed &&
		!p.expiresAt.IsZero() && time.Until(p.expiresAt) <= p.urgencyThreshold
	p.mu.Unlock()
	if !eligible {
		return
	}
	if !p.extendInFlight.CompareAndSwap(false, true) {
		return
	}
	defer p.extendInFlight.Store(false)

	resp, err := p.client.Extend(ctx, p.eventID, p.registrationType)
	if err != nil {
		log.Printf("queue poller: extend failed: %v", err)
		return
	}
	if !resp.Success {
		// already_used / expired / not_found: hide the affordance,
		// the next poll reconciles the rest.
		p.mu.Lock()
		p.extensionUsed = true
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.expiresAt = *resp.NewExpiresAt
	p.extensionUsed = true
	expiresAt := p.expiresAt
	p.mu.Unlock()

	if p.hooks.OnActive != nil {
		p.hooks.OnActive(expiresAt, true, true)
	}
}

// Complete reports a finished registration. Failures are logged, not
// surfaced: the reaper reclaims the slot at TTL either way.
func (p *Poller) Complete(ctx context.Context) {
	if err := p.client.Complete(ctx, p.eventID, p.registrationType); err != nil {
		log.Printf("queue poller: complete failed (slot frees at TTL): %v", err)
	}
}

func (p *Poller) remaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.expiresAt.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return time.Until(p.expiresAt)
}

func (p *Poller) redirect(reason string) {
	p.mu.Lock()
	already := p.redirected
	p.redirected = true
	p.mu.Unlock()
	if already || p.hooks.OnRedirect == nil {
		return
	}
	p.hooks.OnRedirect(reason)
}

func (p *Poller) bypass() {
	if p.hooks.OnBypass != nil {
		p.hooks.OnBypass()
	}
}
