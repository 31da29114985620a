package protocol

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

// Limiter enforces each kind's MinInterval per key. A key is usually
// peer+kind, optionally narrowed by a subject such as a slot id, so that
// updates to unrelated slots do not starve each other.
type Limiter struct {
	mu       sync.Mutex
	limiters map[limitKey]*rate.Limiter
	now      func() time.Time
}

type limitKey struct {
	peer    string
	kind    Kind
	subject uint64
}

func NewLimiter() *Limiter {
	return &Limiter{
		limiters: make(map[limitKey]*rate.Limiter),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Tests use it to step time.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Allow reports whether a message of kind k may pass for the key, and
// consumes the allowance if so.
func (l *Limiter) Allow(peer string, k Kind, subject string) bool {
	spec, ok := k.Spec()
	if !ok {
		return false
	}
	if spec.MinInterval <= 0 {
		return true
	}

	key := limitKey{peer: peer, kind: k}
	if subject != "" {
		key.subject = xxhash.Sum64String(subject)
	}
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(spec.MinInterval), 1)
		l.limiters[key] = lim
	}
	now := l.now()
	l.mu.Unlock()

	return lim.AllowN(now, 1)
}

// Forget drops all state for a peer.
func (l *Limiter) Forget(peer string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.limiters {
		if key.peer == peer {
			delete(l.limiters, key)
		}
	}
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
