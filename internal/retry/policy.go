// Package retry implements the retry policy registry and the retry
// scheduler / DLQ routing logic (spec sections 4.8, 4.9).
package retry

import (
	"math/rand"
	"sync"
	"time"
)

// Policy configures exponential backoff for one event type (spec section
// 4.8): delay(n) = min(initial * multiplier^(n-1), max) * (1 + jitter).
type Policy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultPolicy is the registry's fallback (spec section 4.8 defaults).
var DefaultPolicy = Policy{
	MaxRetries:        3,
	InitialDelay:      time.Second,
	MaxDelay:          300 * time.Second,
	BackoffMultiplier: 2,
	Jitter:            true,
}

// CalculateDelay returns the backoff for the given 1-indexed attempt number.
func (p Policy) CalculateDelay(attemptNumber int) time.Duration {
	delaySeconds := p.InitialDelay.Seconds() * pow(p.BackoffMultiplier, attemptNumber-1)
	if maxS := p.MaxDelay.Seconds(); delaySeconds > maxS {
		delaySeconds = maxS
	}
	if p.Jitter {
		delaySeconds += delaySeconds * 0.2 * rand.Float64() //nolint:gosec // jitter, not security
	}
	return time.Duration(delaySeconds * float64(time.Second))
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for range exp {
		result *= base
	}
	return result
}

// Registry maps event_type -> Policy, with overrides layered over a
// tenant-agnostic default (spec section 4.9).
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewRegistry builds a registry pre-seeded with the documented overrides:
// ExceptionIngested (5/2s/600s), ToolExecutionRequested (3/1s/300s),
// FeedbackCaptured (2/0.5s/60s).
func NewRegistry() *Registry {
	r := &Registry{policies: map[string]Policy{
		"ExceptionIngested": {
			MaxRetries: 5, InitialDelay: 2 * time.Second, MaxDelay: 600 * time.Second,
			BackoffMultiplier: 2, Jitter: true,
		},
		"ToolExecutionRequested": {
			MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 300 * time.Second,
			BackoffMultiplier: 2, Jitter: true,
		},
		"FeedbackCaptured": {
			MaxRetries: 2, InitialDelay: 500 * time.Millisecond, MaxDelay: 60 * time.Second,
			BackoffMultiplier: 2, Jitter: true,
		},
	}}
	return r
}

// Get returns the policy for eventType, falling back to DefaultPolicy.
func (r *Registry) Get(eventType string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[eventType]; ok {
		return p
	}
	return DefaultPolicy
}

// Set installs or overrides a policy for eventType.
func (r *Registry) Set(eventType string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[eventType] = p
}

// MaxRetries returns the configured max retries for eventType.
func (r *Registry) MaxRetries(eventType string) int {
	return r.Get(eventType).MaxRetries
}

// CalculateDelay is the single entry point the scheduler uses.
func (r *Registry) CalculateDelay(eventType string, attemptNumber int) time.Duration {
	return r.Get(eventType).CalculateDelay(attemptNumber)
}
