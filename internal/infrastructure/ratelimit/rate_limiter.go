package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage       = "send_message"
	ActionNegotiate         = "negotiate"
	ActionStartConversation = "start_conversation"
	ActionTyping            = "typing"
	ActionHTTP              = "http"
)

// Policy is a sustained rate per minute plus a burst allowance.
type Policy struct {
	PerMinute int
	Burst     int
}

func (p Policy) limit() rate.Limit {
	if p.PerMinute <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(p.PerMinute))
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user and action.
type RateLimiter struct {
	policies map[string]Policy
	fallback Policy
	buckets  map[string]*entry
	mutex    sync.Mutex
	now      func() time.Time
}

// NewRateLimiter builds a limiter whose message policy comes from configuration.
// Other actions use fixed policies.
func NewRateLimiter(messagesPerMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		policies: map[string]Policy{
			ActionSendMessage:       {PerMinute: messagesPerMinute, Burst: burst},
			ActionNegotiate:         {PerMinute: messagesPerMinute, Burst: burst},
			ActionStartConversation: {PerMinute: 10, Burst: 5},
			ActionTyping:            {PerMinute: 120, Burst: 10},
			ActionHTTP:              {PerMinute: 120, Burst: 30},
		},
		fallback: Policy{PerMinute: 60, Burst: 20},
		buckets:  make(map[string]*entry),
		now:      time.Now,
	}
}

// Allow consumes a token for userID's action. When the bucket is empty it
// returns false and how long until the next token.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	now := rl.now()
	lim := rl.bucket(userID+":"+action, action, now)

	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) bucket(key, action string, now time.Time) *rate.Limiter {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	e, ok := rl.buckets[key]
	if !ok {
		p, found := rl.policies[action]
		if !found {
			p = rl.fallback
		}
		e = &entry{limiter: rate.NewLimiter(p.limit(), p.Burst)}
		rl.buckets[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Cleanup drops buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, e := range rl.buckets {
		if now.Sub(e.lastSeen) > maxIdle {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine runs Cleanup every interval until stop is closed.
func (rl *RateLimiter) StartCleanupRoutine(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			case <-stop:
				return
			}
		}
	}()
}
