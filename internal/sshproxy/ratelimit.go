// ratelimit.go throttles connect attempts per server id.
//
// Two limits apply:
//
//  1. A sliding window of at most MaxAttempts connects per Window.
//  2. After FailureThreshold consecutive failures the server is blocked for
//     InitialBlock, doubling on every further block up to MaxBlock. A
//     successful connect clears the failure count and the block.

package sshproxy

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/termgate/internal/logutil"
)

// RateLimitConfig tunes the RateLimiter. Zero fields take defaults.
type RateLimitConfig struct {
	Window           time.Duration
	MaxAttempts      int
	FailureThreshold int
	InitialBlock     time.Duration
	MaxBlock         time.Duration
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.InitialBlock <= 0 {
		c.InitialBlock = 30 * time.Second
	}
	if c.MaxBlock <= 0 {
		c.MaxBlock = 5 * time.Minute
	}
	return c
}

// RateLimitError explains why a connect was refused and when to retry.
type RateLimitError struct {
	ServerID   string
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many connection attempts for %s: %s (retry after %s)",
		e.ServerID, e.Reason, e.RetryAfter.Round(time.Second))
}

type serverRate struct {
	attempts            []time.Time
	consecutiveFailures int
	blockedUntil        time.Time
	block               time.Duration
}

// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	servers map[string]*serverRate
	now     func() time.Time
}

// NewRateLimiter returns a limiter using the real clock.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg.withDefaults(),
		servers: make(map[string]*serverRate),
		now:     time.Now,
	}
}

func (rl *RateLimiter) entry(serverID string) *serverRate {
	s, ok := rl.servers[serverID]
	if !ok {
		s = &serverRate{}
		rl.servers[serverID] = s
	}
	return s
}

// Allow records a connect attempt, or returns a *RateLimitError without
// recording it when either limit is hit.
func (rl *RateLimiter) Allow(serverID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	s := rl.entry(serverID)

	if now.Before(s.blockedUntil) {
		return &RateLimitError{
			ServerID:   serverID,
			Reason:     fmt.Sprintf("blocked after %d consecutive failures", s.consecutiveFailures),
			RetryAfter: s.blockedUntil.Sub(now),
		}
	}

	cutoff := now.Add(-rl.cfg.Window)
	kept := s.attempts[:0]
	for _, t := range s.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.attempts = kept

	if len(s.attempts) >= rl.cfg.MaxAttempts {
		retry := s.attempts[0].Add(rl.cfg.Window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		log.Printf("[sshproxy] rate limit: %s made %d connect attempts within %s",
			logutil.SanitizeForLog(serverID), len(s.attempts), rl.cfg.Window)
		return &RateLimitError{
			ServerID:   serverID,
			Reason:     fmt.Sprintf("more than %d attempts in %s", rl.cfg.MaxAttempts, rl.cfg.Window),
			RetryAfter: retry,
		}
	}

	s.attempts = append(s.attempts, now)
	return nil
}

// RecordSuccess clears the failure streak and any block.
func (rl *RateLimiter) RecordSuccess(serverID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if s, ok := rl.servers[serverID]; ok {
		s.consecutiveFailures = 0
		s.blockedUntil = time.Time{}
		s.block = 0
	}
}

// RecordFailure extends the failure streak, blocking the server once the
// threshold is reached.
func (rl *RateLimiter) RecordFailure(serverID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	s := rl.entry(serverID)
	s.consecutiveFailures++
	if s.consecutiveFailures < rl.cfg.FailureThreshold {
		return
	}
	if s.block == 0 {
		s.block = rl.cfg.InitialBlock
	} else {
		s.block = min(s.block*2, rl.cfg.MaxBlock)
	}
	s.blockedUntil = rl.now().Add(s.block)
	log.Printf("[sshproxy] rate limit: %s blocked for %s after %d consecutive failures",
		logutil.SanitizeForLog(serverID), s.block, s.consecutiveFailures)
}

// Reset forgets everything about serverID.
func (rl *RateLimiter) Reset(serverID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.servers, serverID)
}
