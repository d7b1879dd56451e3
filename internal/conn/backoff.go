package conn

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: exponential doubling from Base, capped
// at Cap, with up to 25% multiplicative jitter. The schedule is
// monotonically non-decreasing in the attempt number because the jitter
// band of one step never overlaps the base of the next.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	cap := b.Cap
	if cap <= 0 {
		cap = 30 * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			delay = cap
			break
		}
	}
	if delay > cap {
		delay = cap
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	if delay+jitter > cap {
		return cap
	}
	return delay + jitter
}
