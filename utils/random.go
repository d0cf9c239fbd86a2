package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateClientKey returns the random key that identifies an
// anonymous visitor for the lifetime of their queue cookie.
func GenerateClientKey() (string, error) {
	byt := make([]byte, 16)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return hex.EncodeToString(byt), nil
}
