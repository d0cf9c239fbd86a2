package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSuspiciousUserAgent(t *testing.T) {
	assert.True(t, isSuspiciousUserAgent("Googlebot/2.1"))
	assert.True(t, isSuspiciousUserAgent("my-crawler 1.0"))
	assert.True(t, isSuspiciousUserAgent("WebSpider"))
	assert.True(t, isSuspiciousUserAgent("price-SCRAPER"))

	assert.False(t, isSuspiciousUserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"))
	assert.False(t, isSuspiciousUserAgent(""))
}

func TestNewRateLimiter_DefaultsBudget(t *testing.T) {
	r := NewRateLimiter(nil, 0)
	assert.Equal(t, int64(30), r.perMinute)

	r = NewRateLimiter(nil, 120)
	assert.Equal(t, int64(120), r.perMinute)
}
