package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Backoff after consecutive failed ticks
// ═══════════════════════════════════════════════════════════════════════════════
//
// A broker or data outage makes every poll fail the same way. After
// maxFailures ticks in a row fail, the poll loop stops calling out for
// cooldown, then tries again. One success clears the count.
//
// ═══════════════════════════════════════════════════════════════════════════════

type CircuitBreaker struct {
	mu sync.Mutex

	maxFailures int
	cooldown    time.Duration

	failures  int
	tripped   bool
	trippedAt time.Time
	reason    string
}

// NewCircuitBreaker creates a breaker; maxFailures <= 0 disables it
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

// Allow reports whether a tick may run at now
func (cb *CircuitBreaker) Allow(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.tripped {
		return true
	}
	if now.Sub(cb.trippedAt) < cb.cooldown {
		return false
	}

	// half-open: one more failure trips it again
	cb.tripped = false
	cb.failures = cb.maxFailures - 1
	log.Info().Msg("✅ Circuit breaker cooled down, resuming ticks")
	return true
}

// RecordFailure counts a failed tick
func (cb *CircuitBreaker) RecordFailure(err error, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.maxFailures <= 0 {
		return
	}
	cb.failures++
	if cb.failures >= cb.maxFailures && !cb.tripped {
		cb.tripped = true
		cb.trippedAt = now
		cb.reason = err.Error()
		log.Warn().
			Str("reason", cb.reason).
			Int("consecutive_failures", cb.failures).
			Dur("cooldown", cb.cooldown).
			Msg("🚨 CIRCUIT BREAKER TRIPPED")
	}
}

// RecordSuccess clears the failure streak
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
}

// IsTripped returns current trip state
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.tripped
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() (failures int, tripped bool, reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.tripped, cb.reason
}
