package limiter

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/time/rate"
)

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MessageRate caps inbound live-channel messages per user with a token bucket.
// All connections of one user share a bucket.
type MessageRate struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[uuid.UUID]*userLimiter
	idle     time.Duration
	stopCh   chan struct{}
	once     sync.Once
}

// NewMessageRate allows perMinute messages per user with an equal burst.
// Buckets idle for longer than idle are discarded by a background loop.
func NewMessageRate(perMinute int, idle time.Duration) *MessageRate {
	if perMinute <= 0 {
		perMinute = 60
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	m := &MessageRate{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
		limiters: make(map[uuid.UUID]*userLimiter),
		idle:     idle,
		stopCh:   make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Allow consumes one token of userID's bucket.
func (m *MessageRate) Allow(userID uuid.UUID) bool {
	m.mu.Lock()
	ul, ok := m.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.limiters[userID] = ul
	}
	ul.lastAccess = time.Now()
	m.mu.Unlock()
	return ul.limiter.Allow()
}

// Len returns the number of tracked users.
func (m *MessageRate) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}

// Stop ends the cleanup loop.
func (m *MessageRate) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}

func (m *MessageRate) cleanupLoop() {
	ticker := time.NewTicker(m.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup(time.Now())
		case <-m.stopCh:
			return
		}
	}
}

func (m *MessageRate) cleanup(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ul := range m.limiters {
		if now.Sub(ul.lastAccess) > m.idle {
			delete(m.limiters, id)
		}
	}
}
