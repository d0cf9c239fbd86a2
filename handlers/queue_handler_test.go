package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirhoevents/Chirhoevents-sub010/config"
	"github.com/chirhoevents/Chirhoevents-sub010/internal/status"
	"github.com/chirhoevents/Chirhoevents-sub010/utils"
)

func TestExtendErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{status.ErrExtensionAlreadyUsed, "already_used"},
		{status.ErrExtensionNotAllowed, "not_allowed"},
		{status.ErrSessionExpired, "expired"},
		{status.ErrSessionNotActive, "not_active"},
		{status.ErrSessionNotFound, "not_found"},
		{errors.New("redis down"), "internal"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, extendErrorCode(tc.err))
	}
}

func TestExtendErrorCode_WrappedSentinel(t *testing.T) {
	err := errors.Join(errors.New("extend"), status.ErrExtensionAlreadyUsed)
	assert.Equal(t, "already_used", extendErrorCode(err))
}

func TestQueueTokenCarriesIdentity(t *testing.T) {
	// The round-trip the check/extend pair relies on: check mints the
	// cookie token, extend reads the queue identity back out of it.
	token, err := utils.NewQueueToken("secret", "client-a", "sess-1", "evt1", "general", cookieTTL)
	require.NoError(t, err)

	claims, err := utils.ParseQueueToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "client-a", claims.ClientKey)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "evt1", claims.EventID)
	assert.Equal(t, "general", claims.RegistrationType)
}

func TestQueueCookieNameIsScopedPerQueue(t *testing.T) {
	a := queueCookieName("chq_session", "evt1", "general")
	b := queueCookieName("chq_session", "evt1", "vip")
	c := queueCookieName("chq_session", "evt2", "general")

	assert.True(t, strings.HasPrefix(a, "chq_session_"))
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
	assert.Equal(t, a, queueCookieName("chq_session", "evt1", "general"))
}

func mintQueueCookie(t *testing.T, h *QueueHandler, eventID, registrationType, clientKey string) *http.Cookie {
	t.Helper()
	token, err := utils.NewQueueToken(h.cfg.TokenSecret, clientKey, "sess-"+clientKey, eventID, registrationType, time.Hour)
	require.NoError(t, err)
	return &http.Cookie{
		Name:  queueCookieName(h.cfg.CookieName, eventID, registrationType),
		Value: token,
	}
}

func TestResolveClaims_MultiQueueClient(t *testing.T) {
	h := &QueueHandler{cfg: &config.Config{TokenSecret: "secret", CookieName: "chq_session"}}

	// One browser holding identities in two separate queues.
	req := httptest.NewRequest(http.MethodPost, "/api/queue/extend", nil)
	req.AddCookie(mintQueueCookie(t, h, "evt1", "general", "client-a"))
	req.AddCookie(mintQueueCookie(t, h, "evt2", "vip", "client-b"))

	claims := h.resolveClaims(req, "evt2", "vip")
	require.NotNil(t, claims)
	assert.Equal(t, "client-b", claims.ClientKey)

	claims = h.resolveClaims(req, "evt1", "general")
	require.NotNil(t, claims)
	assert.Equal(t, "client-a", claims.ClientKey)

	// No event named and two cookies present: ambiguous, so nothing
	// is extended or completed by accident.
	assert.Nil(t, h.resolveClaims(req, "", ""))
}

func TestResolveClaims_SingleQueueNeedsNoBody(t *testing.T) {
	h := &QueueHandler{cfg: &config.Config{TokenSecret: "secret", CookieName: "chq_session"}}

	req := httptest.NewRequest(http.MethodPost, "/api/queue/extend", nil)
	req.AddCookie(mintQueueCookie(t, h, "evt1", "general", "client-a"))

	claims := h.resolveClaims(req, "", "")
	require.NotNil(t, claims)
	assert.Equal(t, "client-a", claims.ClientKey)
}

func TestClaimsFor_OtherQueueDoesNotLeak(t *testing.T) {
	h := &QueueHandler{cfg: &config.Config{TokenSecret: "secret", CookieName: "chq_session"}}

	req := httptest.NewRequest(http.MethodPost, "/api/queue/check", nil)
	req.AddCookie(mintQueueCookie(t, h, "evt1", "general", "client-a"))

	require.NotNil(t, h.claimsFor(req, "evt1", "general"))
	assert.Nil(t, h.claimsFor(req, "evt2", "vip"))
	assert.Nil(t, h.claimsFor(req, "evt1", "vip"))
}

func TestCookieTTLOutlivesExtendedSession(t *testing.T) {
	// Session duration plus the single extension must fit inside the
	// cookie lifetime, otherwise extend calls lose their identity.
	assert.Greater(t, cookieTTL, 20*time.Minute+5*time.Minute)
}
