package limiter

import (
	"context"
	"sync"
	"time"
)

type memKey struct {
	username string
	ipHash   string
}

type memEntry struct {
	fails        int
	blockedUntil time.Time
	updatedAt    time.Time
}

// Memory is the in-process Limiter used with the memory storage backend.
type Memory struct {
	mu      sync.Mutex
	cfg     Config
	entries map[memKey]*memEntry
	now     func() time.Time
}

// NewMemory constructs an in-memory limiter.
func NewMemory(cfg Config) *Memory {
	return &Memory{cfg: cfg, entries: make(map[memKey]*memEntry), now: time.Now}
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *Memory) Allow(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[memKey{username, string(ipHash)}]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets (username, ip).
func (l *Memory) Success(_ context.Context, username string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, memKey{username, string(ipHash)})
	return nil
}

// Failure counts a failed attempt within the window and blocks at the threshold.
func (l *Memory) Failure(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := memKey{username, string(ipHash)}
	now := l.now()
	e, ok := l.entries[k]
	if !ok {
		e = &memEntry{}
		l.entries[k] = e
	}
	if now.Sub(e.updatedAt) > l.cfg.Window {
		e.fails = 0
	}
	e.fails++
	e.updatedAt = now
	if e.fails < l.cfg.MaxFails {
		return false, 0, nil
	}
	e.blockedUntil = now.Add(l.cfg.BlockFor)
	return true, l.cfg.BlockFor, nil
}
