// Package ratelimiter implements the per-tenant token-bucket rate limiter
// (spec sections 3.6, 4.5).
package ratelimiter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrEmptyTenant guards every tenant-keyed call.
var ErrEmptyTenant = errors.New("ratelimiter: tenant_id cannot be empty")

// TenantLimit configures a tenant's bucket.
type TenantLimit struct {
	EventsPerSecond float64
	EventsPerMinute float64
	BurstSize       int
}

// DefaultTenantLimit mirrors the original implementation's defaults.
var DefaultTenantLimit = TenantLimit{EventsPerSecond: 10, EventsPerMinute: 600, BurstSize: 20}

// Validate checks the limit's fields (spec section 4.5 configuration).
func (l TenantLimit) Validate() error {
	if l.EventsPerSecond <= 0 {
		return errors.New("ratelimiter: events_per_second must be > 0")
	}
	if l.EventsPerMinute <= 0 {
		return errors.New("ratelimiter: events_per_minute must be > 0")
	}
	if l.BurstSize < 1 {
		return errors.New("ratelimiter: burst_size must be >= 1")
	}
	return nil
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// PerTenant is an in-memory, per-process token-bucket limiter (C5). Mutated
// under a single mutex keyed by tenant; no cross-process coordination — the
// limiter is advisory per pod (spec section 5 "shared-resource policy").
//
// Deviation from original_source/src/operations/rate_limiter.py: the
// original initializes a tenant's bucket with 0 tokens, so the very first
// check for a fresh tenant can be denied even though `last_refill` is set at
// the same instant (no elapsed time to refill from). That contradicts this
// spec's own testable scenario 5 ("first publish succeeds"). This
// implementation starts every new bucket full (tokens = burst_size),
// matching conventional token-bucket semantics and the documented testable
// property; see DESIGN.md for the recorded decision.
type PerTenant struct {
	mu      sync.Mutex
	def     TenantLimit
	limits  map[string]TenantLimit
	buckets map[string]*bucket
	now     func() time.Time
}

// New constructs a limiter with the given default, or DefaultTenantLimit
// when the zero value is passed.
func New(def TenantLimit) *PerTenant {
	if def == (TenantLimit{}) {
		def = DefaultTenantLimit
	}
	return &PerTenant{
		def:     def,
		limits:  map[string]TenantLimit{},
		buckets: map[string]*bucket{},
		now:     time.Now,
	}
}

// SetTenantLimit overrides the limit for one tenant.
func (r *PerTenant) SetTenantLimit(tenantID string, limit TenantLimit) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ErrEmptyTenant
	}
	if err := limit.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[tenantID] = limit
	return nil
}

// GetTenantLimit returns the tenant's configured limit, or the default.
func (r *PerTenant) GetTenantLimit(tenantID string) TenantLimit {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limits[tenantID]; ok {
		return l
	}
	return r.def
}

// Check refills then attempts to consume numEvents tokens for tenantID.
// Returns (allowed, waitSeconds): waitSeconds is 0 when allowed.
func (r *PerTenant) Check(tenantID string, numEvents int) (bool, float64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return false, 0, ErrEmptyTenant
	}
	if numEvents < 1 {
		numEvents = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limit := r.def
	if l, ok := r.limits[tenantID]; ok {
		limit = l
	}

	b, ok := r.buckets[tenantID]
	now := r.now()
	if !ok {
		b = &bucket{tokens: float64(limit.BurstSize), lastRefill: now}
		r.buckets[tenantID] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens = min(float64(limit.BurstSize), b.tokens+elapsed*limit.EventsPerSecond)
	b.lastRefill = now

	if b.tokens >= float64(numEvents) {
		b.tokens -= float64(numEvents)
		return true, 0, nil
	}

	wait := (float64(numEvents) - b.tokens) / limit.EventsPerSecond
	return false, wait, nil
}

// WithContext adapts PerTenant to the context-taking Check signature that
// Shared uses (it needs ctx for the Redis round trip; PerTenant never
// blocks, so it simply ignores it). This lets the publisher depend on one
// interface regardless of which backend an operator configures.
func (r *PerTenant) WithContext() *ContextAdapter { return &ContextAdapter{r} }

// ContextAdapter makes PerTenant satisfy a context-taking Check contract.
type ContextAdapter struct{ *PerTenant }

// Check ignores ctx and delegates to PerTenant.Check.
func (a *ContextAdapter) Check(_ context.Context, tenantID string, numEvents int) (bool, float64, error) {
	return a.PerTenant.Check(tenantID, numEvents)
}

// Reset drops a tenant's bucket state; the next Check starts a fresh bucket.
func (r *PerTenant) Reset(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, tenantID)
}

// Stats snapshots a tenant's current token count without consuming any.
func (r *PerTenant) Stats(tenantID string) (tokens float64, limit TenantLimit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit = r.def
	if l, ok := r.limits[tenantID]; ok {
		limit = l
	}
	b, ok := r.buckets[tenantID]
	if !ok {
		return float64(limit.BurstSize), limit
	}
	elapsed := r.now().Sub(b.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return min(float64(limit.BurstSize), b.tokens+elapsed*limit.EventsPerSecond), limit
}
