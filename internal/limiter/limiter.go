// Package limiter throttles login attempts and inbound live-channel messages.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls login attempts per (username, client) and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and, if not, for how long it stays blocked.
	Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, username string, ipHash []byte) error
	// Failure records a failed attempt and reports whether it placed a block.
	Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
}

// Config tunes the lockout: MaxFails failures within Window block logins for BlockFor.
type Config struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
