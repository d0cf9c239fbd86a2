// Package client implements the cooperative waiting-room client used
// by registration front-ends: poll check, render a cosmetic countdown,
// offer the single extension near expiry, and never block the user
// when the admission service itself is degraded.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/chirhoevents/Chirhoevents-sub010/models"
	"github.com/chirhoevents/Chirhoevents-sub010/utils"
)

// Client is a thin HTTP wrapper over the /api/queue endpoints. The
// cookie jar carries the queue token minted by check, so extend and
// complete need no request body.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *utils.CircuitBreaker
}

type Option func(*Client)

// WithHTTPClient swaps the underlying transport. The client installs
// its own cookie jar when the given client has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: baseURL,
		breaker: utils.NewCircuitBreaker("queue-check"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}
	return c, nil
}

// Check asks the admission controller whether this client may enter
// the registration flow. Any transport failure, non-2xx answer or
// undecodable body surfaces as an error; the poller treats all of
// them as "queueing disabled" rather than blocking the user.
func (c *Client) Check(ctx context.Context, eventID, registrationType string) (*models.CheckResponse, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.doCheck(ctx, eventID, registrationType)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.CheckResponse), nil
}

func (c *Client) doCheck(ctx context.Context, eventID, registrationType string) (*models.CheckResponse, error) {
	body, err := json.Marshal(models.CheckRequest{EventID: eventID, RegistrationType: registrationType})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/queue/check", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("queue check: unexpected status %d", res.StatusCode)
	}

	var checkRes models.CheckResponse
	if err := json.NewDecoder(res.Body).Decode(&checkRes); err != nil {
		return nil, fmt.Errorf("queue check: decoding response: %w", err)
	}
	return &checkRes, nil
}

// Extend requests the single allowed time extension. The event/type
// pair names the queue, since one browser may hold cookies for several.
func (c *Client) Extend(ctx context.Context, eventID, registrationType string) (*models.ExtendResponse, error) {
	body, err := json.Marshal(models.CheckRequest{EventID: eventID, RegistrationType: registrationType})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/queue/extend", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var extendRes models.ExtendResponse
	if err := json.NewDecoder(res.Body).Decode(&extendRes); err != nil {
		return nil, fmt.Errorf("queue extend: decoding response: %w", err)
	}
	return &extendRes, nil
}

// Complete signals that registration finished so the slot frees up
// promptly instead of waiting out its TTL. One immediate retry; the
// reaper covers the rest.
func (c *Client) Complete(ctx context.Context, eventID, registrationType string) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr = c.doComplete(ctx, eventID, registrationType); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) doComplete(ctx context.Context, eventID, registrationType string) error {
	body, err := json.Marshal(models.CheckRequest{EventID: eventID, RegistrationType: registrationType})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/queue/complete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("queue complete: unexpected status %d", res.StatusCode)
	}
	return nil
}
