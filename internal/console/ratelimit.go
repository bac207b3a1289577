package console

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/sshdeck/internal/logutil"
)

const (
	// attemptWindow is the sliding window for counting connect attempts.
	attemptWindow = time.Minute

	// maxAttempts is the number of connect attempts allowed per server
	// within attemptWindow.
	maxAttempts = 10

	// failureThreshold is consecutive failures before a server is blocked.
	failureThreshold = 5

	initialBlock = 30 * time.Second
	maxBlock     = 5 * time.Minute
)

// RateLimitedError is returned by Connect when attempts for a server are
// throttled.
type RateLimitedError struct {
	ServerID   string
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("connect to %s rate limited: %s (retry after %s)", e.ServerID, e.Reason, e.RetryAfter.Round(time.Second))
}

type attemptState struct {
	attempts            []time.Time
	consecutiveFailures int
	blockedUntil        time.Time
	blockDuration       time.Duration
}

// connectLimiter throttles connect attempts per server: a sliding window cap
// plus an escalating block after repeated consecutive failures. A success
// clears the failure state.
type connectLimiter struct {
	mu      sync.Mutex
	states  map[string]*attemptState
	nowFunc func() time.Time
}

func newConnectLimiter() *connectLimiter {
	return &connectLimiter{
		states:  make(map[string]*attemptState),
		nowFunc: time.Now,
	}
}

func (l *connectLimiter) state(serverID string) *attemptState {
	st, ok := l.states[serverID]
	if !ok {
		st = &attemptState{}
		l.states[serverID] = st
	}
	return st
}

// allow records an attempt for serverID, or returns a *RateLimitedError
// without recording one.
func (l *connectLimiter) allow(serverID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	st := l.state(serverID)

	if now.Before(st.blockedUntil) {
		return &RateLimitedError{
			ServerID:   serverID,
			Reason:     fmt.Sprintf("blocked after %d consecutive failures", st.consecutiveFailures),
			RetryAfter: st.blockedUntil.Sub(now),
		}
	}

	cutoff := now.Add(-attemptWindow)
	recent := st.attempts[:0]
	for _, t := range st.attempts {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	st.attempts = recent

	if len(st.attempts) >= maxAttempts {
		return &RateLimitedError{
			ServerID:   serverID,
			Reason:     fmt.Sprintf("more than %d attempts in %s", maxAttempts, attemptWindow),
			RetryAfter: max(st.attempts[0].Add(attemptWindow).Sub(now), 0),
		}
	}
	st.attempts = append(st.attempts, now)
	return nil
}

func (l *connectLimiter) success(serverID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.states[serverID]; ok {
		st.consecutiveFailures = 0
		st.blockedUntil = time.Time{}
		st.blockDuration = 0
	}
}

func (l *connectLimiter) failure(serverID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(serverID)
	st.consecutiveFailures++
	if st.consecutiveFailures < failureThreshold {
		return
	}
	if st.blockDuration == 0 {
		st.blockDuration = initialBlock
	} else {
		st.blockDuration = min(st.blockDuration*2, maxBlock)
	}
	st.blockedUntil = l.nowFunc().Add(st.blockDuration)
	log.Printf("[console] %s blocked for %s after %d consecutive connect failures",
		logutil.SanitizeForLog(serverID), st.blockDuration, st.consecutiveFailures)
}

func (l *connectLimiter) forget(serverID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, serverID)
}
