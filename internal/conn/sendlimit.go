package conn

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// sendLimiter is a fixed-window cap on advisory outbound frames, so a
// misbehaving consumer loop cannot flood the push channel.
type sendLimiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limit     int
	window    time.Duration
	count     int
	resetTime time.Time
}

func newSendLimiter(limit int, window time.Duration, clock clockwork.Clock) *sendLimiter {
	if limit <= 0 {
		limit = 32
	}
	if window <= 0 {
		window = time.Second
	}
	return &sendLimiter{clock: clock, limit: limit, window: window}
}

func (l *sendLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.resetTime) {
		l.count = 1
		l.resetTime = now.Add(l.window)
		return true
	}
	if l.count >= l.limit {
		return false
	}
	l.count++
	return true
}
