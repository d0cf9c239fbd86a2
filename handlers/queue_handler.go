package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"github.com/chirhoevents/Chirhoevents-sub010/config"
	"github.com/chirhoevents/Chirhoevents-sub010/internal/status"
	"github.com/chirhoevents/Chirhoevents-sub010/models"
	"github.com/chirhoevents/Chirhoevents-sub010/services"
	"github.com/chirhoevents/Chirhoevents-sub010/utils"
)

// queue token cookies outlive the longest possible active session
// (session duration plus one extension) with headroom for re-queueing.
const cookieTTL = 4 * time.Hour

type QueueHandler struct {
	admission *services.AdmissionService
	extension *services.ExtensionService
	archiver  *services.Archiver
	cfg       *config.Config
}

func NewQueueHandler(admission *services.AdmissionService, extension *services.ExtensionService, archiver *services.Archiver, cfg *config.Config) *QueueHandler {
	return &QueueHandler{
		admission: admission,
		extension: extension,
		archiver:  archiver,
		cfg:       cfg,
	}
}

// Check is called by registration pages on mount and then polled while
// a session is active. It never blocks a client on queue-service
// trouble: an unconfigured queue or an internal failure both answer
// allowed=true with no session fields.
func (h *QueueHandler) Check(e *core.RequestEvent) error {
	var req models.CheckRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.EventID == "" || req.RegistrationType == "" {
		return apis.NewBadRequestError("eventId and registrationType are required", nil)
	}

	clientKey := h.clientKey(e, req.EventID, req.RegistrationType)

	resp, err := h.admission.Check(e.Request.Context(), req.EventID, req.RegistrationType, clientKey)
	if err != nil {
		log.Printf("queue check failed for %s/%s, failing open: %v", req.EventID, req.RegistrationType, err)
		return e.JSON(http.StatusOK, &models.CheckResponse{Allowed: true})
	}

	if resp.SessionID != "" {
		h.setQueueCookie(e, clientKey, resp.SessionID, req.EventID, req.RegistrationType)
	}
	return e.JSON(http.StatusOK, resp)
}

// Extend grants the one allowed extension to the caller's active
// session. The session is identified by the queue cookie minted on
// check; responses always carry the success flag plus a stable error
// code so the page can tell "already used" apart from "gone".
func (h *QueueHandler) Extend(e *core.RequestEvent) error {
	var req models.CheckRequest
	_ = e.BindBody(&req) // the body only disambiguates multi-queue clients

	claims := h.resolveClaims(e.Request, req.EventID, req.RegistrationType)
	if claims == nil {
		return e.JSON(http.StatusOK, &models.ExtendResponse{Success: false, Error: "not_found"})
	}

	newExpiresAt, err := h.extension.Extend(e.Request.Context(), claims.EventID, claims.RegistrationType, claims.ClientKey)
	if err != nil {
		return e.JSON(http.StatusOK, &models.ExtendResponse{Success: false, Error: extendErrorCode(err)})
	}

	return e.JSON(http.StatusOK, &models.ExtendResponse{Success: true, NewExpiresAt: &newExpiresAt})
}

// Complete releases the caller's slot after a finished registration.
// Best-effort by contract: a missing or already-terminal session still
// answers success, since the reaper reclaims such slots anyway.
func (h *QueueHandler) Complete(e *core.RequestEvent) error {
	var req models.CheckRequest
	_ = e.BindBody(&req)

	claims := h.resolveClaims(e.Request, req.EventID, req.RegistrationType)
	if claims == nil {
		return e.JSON(http.StatusOK, &models.CompleteResponse{Success: true})
	}

	if _, err := h.admission.Complete(e.Request.Context(), claims.EventID, claims.RegistrationType, claims.ClientKey); err != nil {
		log.Printf("queue complete failed for %s/%s: %v", claims.EventID, claims.RegistrationType, err)
		return e.JSON(http.StatusInternalServerError, &models.CompleteResponse{Success: false})
	}
	return e.JSON(http.StatusOK, &models.CompleteResponse{Success: true})
}

// Metrics serves the live depth of one queue for ops dashboards.
func (h *QueueHandler) Metrics(e *core.RequestEvent) error {
	eventID := e.Request.URL.Query().Get("event_id")
	regType := e.Request.URL.Query().Get("registration_type")
	if eventID == "" || regType == "" {
		return apis.NewBadRequestError("event_id and registration_type are required", nil)
	}

	metrics, err := h.admission.QueueMetrics(e.Request.Context(), eventID, regType)
	if err != nil {
		return apis.NewBadRequestError("Failed to load queue metrics", err)
	}
	return e.JSON(http.StatusOK, metrics)
}

// Stats serves archived-session aggregates. Superusers only.
func (h *QueueHandler) Stats(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}

	stats, err := h.archiver.Stats(e.Request.URL.Query().Get("event_id"))
	if err != nil {
		return apis.NewBadRequestError("Failed to load queue stats", err)
	}
	return e.JSON(http.StatusOK, stats)
}

// clientKey resolves the caller's waiting-room identity: the auth
// record when signed in, the existing queue cookie otherwise, and a
// fresh random key for first-time anonymous visitors.
func (h *QueueHandler) clientKey(e *core.RequestEvent, eventID, registrationType string) string {
	if e.Auth != nil {
		return e.Auth.Id
	}

	if claims := h.claimsFor(e.Request, eventID, registrationType); claims != nil {
		return claims.ClientKey
	}

	key, err := utils.GenerateClientKey()
	if err != nil {
		// crypto/rand failing is effectively fatal elsewhere; degrade
		// to a per-request identity rather than refusing check calls.
		return "anon-" + time.Now().UTC().Format("20060102150405.000000000")
	}
	return key
}

// queueCookieName scopes the token cookie to one queue, so a client
// waiting in several events at once keeps a separate identity in each.
func queueCookieName(base, eventID, registrationType string) string {
	sum := sha256.Sum256([]byte(eventID + "|" + registrationType))
	return base + "_" + hex.EncodeToString(sum[:4])
}

// claimsFor reads the queue cookie scoped to one event/type.
func (h *QueueHandler) claimsFor(r *http.Request, eventID, registrationType string) *utils.QueueClaims {
	cookie, err := r.Cookie(queueCookieName(h.cfg.CookieName, eventID, registrationType))
	if err != nil || cookie.Value == "" {
		return nil
	}
	claims, err := utils.ParseQueueToken(h.cfg.TokenSecret, cookie.Value)
	if err != nil || claims.EventID != eventID || claims.RegistrationType != registrationType {
		return nil
	}
	return claims
}

// resolveClaims picks the queue identity for an extend or complete
// call: the cookie matching the named event/type when the request
// carries one, otherwise the single queue cookie present. A client in
// several queues that names no event resolves to nil.
func (h *QueueHandler) resolveClaims(r *http.Request, eventID, registrationType string) *utils.QueueClaims {
	if eventID != "" && registrationType != "" {
		return h.claimsFor(r, eventID, registrationType)
	}

	prefix := h.cfg.CookieName + "_"
	var found *utils.QueueClaims
	for _, cookie := range r.Cookies() {
		if !strings.HasPrefix(cookie.Name, prefix) || cookie.Value == "" {
			continue
		}
		claims, err := utils.ParseQueueToken(h.cfg.TokenSecret, cookie.Value)
		if err != nil {
			continue
		}
		if found != nil {
			return nil
		}
		found = claims
	}
	return found
}

func (h *QueueHandler) setQueueCookie(e *core.RequestEvent, clientKey, sessionID, eventID, registrationType string) {
	token, err := utils.NewQueueToken(h.cfg.TokenSecret, clientKey, sessionID, eventID, registrationType, cookieTTL)
	if err != nil {
		log.Printf("queue cookie: signing token: %v", err)
		return
	}
	http.SetCookie(e.Response, &http.Cookie{
		Name:     queueCookieName(h.cfg.CookieName, eventID, registrationType),
		Value:    token,
		Path:     "/",
		MaxAge:   int(cookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func extendErrorCode(err error) string {
	switch {
	case errors.Is(err, status.ErrExtensionAlreadyUsed):
		return "already_used"
	case errors.Is(err, status.ErrExtensionNotAllowed):
		return "not_allowed"
	case errors.Is(err, status.ErrSessionExpired):
		return "expired"
	case errors.Is(err, status.ErrSessionNotActive):
		return "not_active"
	case errors.Is(err, status.ErrSessionNotFound):
		return "not_found"
	}
	return "internal"
}
