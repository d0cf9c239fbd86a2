package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 10, cfg.MaxActiveSessions)
	assert.Equal(t, 20*time.Minute, cfg.SessionDuration)
	assert.Equal(t, 5*time.Minute, cfg.ExtensionDuration)
	assert.Equal(t, 15*time.Second, cfg.ReaperInterval)
	assert.Equal(t, 2*time.Minute, cfg.AbandonmentGrace)
	assert.Equal(t, "chq_session", cfg.CookieName)
	assert.Equal(t, 30, cfg.RateLimitPerMinute)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MAX_ACTIVE_SESSIONS", "25")
	t.Setenv("QUEUE_SESSION_DURATION", "45m")
	t.Setenv("QUEUE_EXTENSION_DURATION", "10m")

	cfg := LoadConfig()

	assert.Equal(t, 25, cfg.MaxActiveSessions)
	assert.Equal(t, 45*time.Minute, cfg.SessionDuration)
	assert.Equal(t, 10*time.Minute, cfg.ExtensionDuration)
}

func TestLoadConfig_BadDurationFallsBack(t *testing.T) {
	t.Setenv("REAPER_INTERVAL", "often")

	cfg := LoadConfig()

	assert.Equal(t, 15*time.Second, cfg.ReaperInterval)
}
