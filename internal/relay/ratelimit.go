package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// RateLimiter tracks per-user token buckets so one aggressive uploader
// cannot monopolize the relay.
type RateLimiter struct {
	buckets sync.Map
	rate    rate.Limit
	burst   int
	done    chan struct{}
}

// NewRateLimiter allows r requests per second with the given burst per
// user. A background goroutine evicts stale entries every 10 minutes.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:  r,
		burst: burst,
		done:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether the user may submit another chunk now. Safe for
// concurrent use; simultaneous first requests share one bucket.
func (rl *RateLimiter) Allow(userID string) bool {
	v, ok := rl.buckets.Load(userID)
	if !ok {
		v, _ = rl.buckets.LoadOrStore(userID, &bucket{limiter: rate.NewLimiter(rl.rate, rl.burst)})
	}
	b := v.(*bucket)
	b.lastSeen.Store(time.Now().UnixNano())
	return b.limiter.Allow()
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.buckets.Range(func(key, value any) bool {
				last := time.Unix(0, value.(*bucket).lastSeen.Load())
				if time.Since(last) > 10*time.Minute {
					rl.buckets.Delete(key)
				}
				return true
			})
		case <-rl.done:
			return
		}
	}
}

// Stop terminates the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}
