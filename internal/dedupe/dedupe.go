package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Key identifies a logical notification for duplicate suppression. Two
// pushes of the same notification within one bucket window collapse onto
// the same key, which is what absorbs reconnect-triggered replay.
type Key struct {
	Kind     string
	SourceID string
	Bucket   int64
}

// NewKey buckets the server timestamp by the dedup window.
func NewKey(kind, sourceID string, at time.Time, window time.Duration) Key {
	if window <= 0 {
		window = time.Minute
	}
	return Key{
		Kind:     kind,
		SourceID: sourceID,
		Bucket:   at.Truncate(window).Unix(),
	}
}

func (k Key) String() string {
	return k.Kind + "|" + k.SourceID + "|" + time.Unix(k.Bucket, 0).UTC().Format(time.RFC3339)
}

// Store records notification sightings. Record returns true only for the
// first sighting of a key within the TTL window; the insert must behave as
// an atomic insert-if-absent.
type Store interface {
	Record(ctx context.Context, key Key, ttl time.Duration) (bool, error)
}

// Deduper answers whether a notification should be emitted, recording it as
// seen when accepted.
type Deduper struct {
	store  Store
	window time.Duration
	logger zerolog.Logger
}

func New(store Store, window time.Duration, logger zerolog.Logger) *Deduper {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Deduper{
		store:  store,
		window: window,
		logger: logger.With().Str("component", "dedupe").Logger(),
	}
}

// Window returns the configured bucket window.
func (d *Deduper) Window() time.Duration { return d.window }

// ShouldEmit reports whether the notification identified by key has not
// been seen within the window, recording it if so. A store failure fails
// open: emitting a duplicate is preferable to losing a notification.
func (d *Deduper) ShouldEmit(ctx context.Context, key Key) bool {
	first, err := d.store.Record(ctx, key, d.window)
	if err != nil {
		d.logger.Warn().Err(err).Str("key", key.String()).Msg("Dedup store failed, emitting anyway")
		return true
	}
	return first
}

type memoryEntry struct {
	key       Key
	expiresAt time.Time
}

// MemoryStore is a bounded, time-windowed in-process store. Entries expire
// after their TTL; when the cap is hit the oldest entry is evicted.
type MemoryStore struct {
	mu      sync.Mutex
	seen    map[Key]time.Time
	order   []memoryEntry
	cap     int
	nowFunc func() time.Time
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryStore{
		seen:    make(map[Key]time.Time),
		cap:     capacity,
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Record(_ context.Context, key Key, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	s.expireLocked(now)

	if expiry, ok := s.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}

	if len(s.seen) >= s.cap {
		s.evictOldestLocked()
	}

	s.seen[key] = now.Add(ttl)
	s.order = append(s.order, memoryEntry{key: key, expiresAt: now.Add(ttl)})
	return true, nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(s.nowFunc())
	return len(s.seen)
}

func (s *MemoryStore) expireLocked(now time.Time) {
	i := 0
	for ; i < len(s.order); i++ {
		entry := s.order[i]
		if now.Before(entry.expiresAt) {
			break
		}
		if expiry, ok := s.seen[entry.key]; ok && !now.Before(expiry) {
			delete(s.seen, entry.key)
		}
	}
	s.order = s.order[i:]
}

func (s *MemoryStore) evictOldestLocked() {
	for len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		if _, ok := s.seen[oldest.key]; ok {
			delete(s.seen, oldest.key)
			return
		}
	}
}
