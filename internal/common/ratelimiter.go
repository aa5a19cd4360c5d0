package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type RateLimiter struct {
	mu           sync.Mutex
	restrictions []Restriction // Restrictions to consider
	history      []time.Time   // History of requests
	duration     time.Duration // Min duration to wait for all restrictions to be lifted
	blockedUntil time.Time     // Set when the remote end reports a rate limit
	now          func() time.Time
}

func NewRateLimiter(restrictions []Restriction) *RateLimiter {
	rl := &RateLimiter{now: time.Now}
	// Restrictions are just a copy of the provided ones
	rl.restrictions = make([]Restriction, len(restrictions))
	copy(rl.restrictions, restrictions)
	for _, restriction := range restrictions {
		if restriction.Duration > rl.duration {
			rl.duration = restriction.Duration
		}
	}
	return rl
}

// Register the request and return true if it is allowed right now,
// return false and the time to wait otherwise
func (rl *RateLimiter) Allow() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	currentTime := rl.now()
	if currentTime.Before(rl.blockedUntil) {
		return false, rl.blockedUntil.Sub(currentTime)
	}
	rl.trim(currentTime)
	analysis := rl.analyse(currentTime)
	if !analysis.allowed {
		return false, analysis.wait
	}
	rl.history = append(rl.history, currentTime)
	return true, 0
}

// Block until the request is allowed or the context is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		allowed, wait := rl.Allow()
		if allowed {
			return nil
		}
		log.Debug().Msg(fmt.Sprintf("Request delayed %.2f seconds", wait.Seconds()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// The remote end told us to slow down; stop allowing requests for a while
func (rl *RateLimiter) ReceivedRateLimit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if retryAfter <= 0 {
		retryAfter = rl.duration
	}
	log.Warn().Msg(fmt.Sprintf("Rate limit received, blocking requests for %s", retryAfter))
	rl.blockedUntil = rl.now().Add(retryAfter)
}

// Trim the current history, leaving only the requests
// that are young enough to be affected by at least one restriction
func (rl *RateLimiter) trim(currentTime time.Time) {
	// Find the index from which we need to keep the history.
	// Start searching at the end of the slice.
	// Times are stored in chronological order
	index := 0
	for i := len(rl.history) - 1; i >= 0; i-- {
		if currentTime.Sub(rl.history[i]) >= rl.duration {
			index = i + 1
			break
		}
	}
	rl.history = rl.history[index:]
}

func (rl *RateLimiter) analyse(currentTime time.Time) Analysis {

	// Merge the analyses of every restriction
	var wait time.Duration = 0
	allowed := true
	for _, restriction := range rl.restrictions {
		analysis := restriction.Analyse(rl.history, currentTime)
		allowed = allowed && analysis.allowed
		if analysis.wait > wait {
			wait = analysis.wait
		}
	}
	return Analysis{allowed, wait}
}
