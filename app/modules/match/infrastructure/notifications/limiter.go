package notifications

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// cleanupThreshold is the minimum map size before a cleanup pass runs.
	cleanupThreshold = 200
	// maxIdleAge is how long an idle channel entry is kept.
	maxIdleAge = 30 * time.Minute
)

type channelEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ChannelLimiter hands out one limiter per chat channel and prunes idle ones
// inline. Announcements share the "" key.
type ChannelLimiter struct {
	mu       sync.Mutex
	channels map[string]*channelEntry
	r        rate.Limit
	b        int
}

func NewChannelLimiter(r rate.Limit, b int) *ChannelLimiter {
	return &ChannelLimiter{
		channels: make(map[string]*channelEntry),
		r:        r,
		b:        b,
	}
}

// For returns the limiter for channelRef.
func (l *ChannelLimiter) For(channelRef string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if len(l.channels) > cleanupThreshold {
		cutoff := now.Add(-maxIdleAge)
		for k, e := range l.channels {
			if e.lastSeen.Before(cutoff) {
				delete(l.channels, k)
			}
		}
	}

	e, ok := l.channels[channelRef]
	if !ok {
		e = &channelEntry{limiter: rate.NewLimiter(l.r, l.b)}
		l.channels[channelRef] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (l *ChannelLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.channels)
}
