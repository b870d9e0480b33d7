package service

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xyz-jphil/ccapis/internal/domain/entity"
	apperrors "github.com/xyz-jphil/ccapis/pkg/errors"
)

// HealthState represents the circuit state of one credential.
type HealthState int

const (
	StateHealthy  HealthState = iota // Normal operation
	StateDegraded                    // Failing but below the trip threshold
	StateTripped                     // Cooling down, skipped by the selector
)

// String returns a human-readable label for the health state.
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateTripped:
		return "TRIPPED"
	default:
		return "UNKNOWN"
	}
}

// FailureKind classifies an upstream failure for cooldown selection.
type FailureKind int

const (
	FailureGeneric FailureKind = iota
	FailureRateLimited
	FailureQuotaExhausted
)

// String returns a human-readable label for the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureGeneric:
		return "generic"
	case FailureRateLimited:
		return "rate_limited"
	case FailureQuotaExhausted:
		return "quota_exhausted"
	default:
		return "unknown"
	}
}

// ClassifyFailure maps an error to a failure kind by inspecting the upstream
// status code and body prefix. Quota markers win over rate-limit markers;
// anything unrecognized is generic.
func ClassifyFailure(err error) FailureKind {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		return FailureGeneric
	}
	body := strings.ToLower(appErr.BodyPrefix)
	switch {
	case strings.Contains(body, "exceeded_limit"),
		strings.Contains(body, "quota"),
		strings.Contains(body, "usage limit"):
		return FailureQuotaExhausted
	case appErr.StatusCode == http.StatusTooManyRequests,
		strings.Contains(body, "rate_limit_error"),
		strings.Contains(body, "too many requests"):
		return FailureRateLimited
	default:
		return FailureGeneric
	}
}

// BreakerConfig tunes the per-credential circuit breaker.
type BreakerConfig struct {
	Enabled           bool
	FailureThreshold  int
	GenericCooldown   time.Duration
	RateLimitCooldown time.Duration
	UsageStaleness    time.Duration
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:           true,
		FailureThreshold:  3,
		GenericCooldown:   5 * time.Minute,
		RateLimitCooldown: 15 * time.Minute,
		UsageStaleness:    2 * time.Minute,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold < 1 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.GenericCooldown <= 0 {
		c.GenericCooldown = d.GenericCooldown
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = d.RateLimitCooldown
	}
	if c.UsageStaleness <= 0 {
		c.UsageStaleness = d.UsageStaleness
	}
	return c
}

// HealthRecord is a point-in-time copy of one credential's health.
type HealthRecord struct {
	State               HealthState
	ConsecutiveFailures int
	CooldownUntil       time.Time // zero when no cooldown is set
	LatestUsage         *entity.UsageSnapshot
}

// healthRecord is the mutable record behind the monitor's lock.
type healthRecord struct {
	state               HealthState
	consecutiveFailures int
	cooldownUntil       time.Time
	latestUsage         *entity.UsageSnapshot
}

// HealthMonitor tracks per-credential circuit state, failure counters, and
// the latest usage snapshot. When a credential fails consecutively beyond
// the threshold, or hits a quota or rate limit, it trips and the selector
// skips it until the cooldown deadline passes.
type HealthMonitor struct {
	mu      sync.RWMutex
	records map[string]*healthRecord
	cfg     BreakerConfig
	logger  *zap.Logger
}

// NewHealthMonitor creates a monitor with the given breaker config.
func NewHealthMonitor(cfg BreakerConfig, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		records: make(map[string]*healthRecord),
		cfg:     cfg.withDefaults(),
		logger:  logger.With(zap.String("component", "health-monitor")),
	}
}

// Config returns the breaker configuration in effect.
func (m *HealthMonitor) Config() BreakerConfig {
	return m.cfg
}

// record returns the mutable record for id, creating it healthy on first
// sight. Caller must hold mu.
func (m *HealthMonitor) record(id string) *healthRecord {
	key := strings.ToLower(id)
	rec, ok := m.records[key]
	if !ok {
		rec = &healthRecord{state: StateHealthy}
		m.records[key] = rec
	}
	return rec
}

// heal applies the lazy cooldown-expiry transition. Caller must hold mu.
func (m *HealthMonitor) heal(rec *healthRecord, now time.Time) {
	if rec.state == StateTripped && !now.Before(rec.cooldownUntil) {
		rec.state = StateHealthy
	}
}

// UpdateUsage stores a fresh usage snapshot for the credential.
func (m *HealthMonitor) UpdateUsage(id string, snapshot *entity.UsageSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(id).latestUsage = snapshot
}

// RecordFailure registers a classified failure and applies the matching
// cooldown policy.
func (m *HealthMonitor) RecordFailure(id string, kind FailureKind) {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(id)

	switch kind {
	case FailureQuotaExhausted:
		// Prefer the window's own reset instant; without one the rate-limit
		// cooldown stands in.
		rec.cooldownUntil = now.Add(m.cfg.RateLimitCooldown)
		if w, ok := rec.latestUsage.FiveHour(); ok && !w.ResetsAt.IsZero() {
			rec.cooldownUntil = w.ResetsAt
		}
		rec.state = StateTripped
	case FailureRateLimited:
		rec.cooldownUntil = now.Add(m.cfg.RateLimitCooldown)
		rec.state = StateTripped
	default:
		rec.consecutiveFailures++
		if rec.consecutiveFailures >= m.cfg.FailureThreshold {
			rec.cooldownUntil = now.Add(m.cfg.GenericCooldown)
			rec.state = StateTripped
		} else {
			rec.state = StateDegraded
		}
	}

	if rec.state == StateTripped {
		m.logger.Warn("Credential tripped",
			zap.String("credential", id),
			zap.String("kind", kind.String()),
			zap.Time("cooldown_until", rec.cooldownUntil),
			zap.Int("consecutive_failures", rec.consecutiveFailures),
		)
	}
}

// RecordSuccess clears the failure counter and, once any cooldown has
// passed, restores the healthy state.
func (m *HealthMonitor) RecordSuccess(id string) {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(id)
	rec.consecutiveFailures = 0
	if !now.Before(rec.cooldownUntil) {
		rec.state = StateHealthy
	}
}

// Get returns a copy of the credential's health record, healing an expired
// cooldown first.
func (m *HealthMonitor) Get(id string) HealthRecord {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(id)
	m.heal(rec, now)
	return HealthRecord{
		State:               rec.state,
		ConsecutiveFailures: rec.consecutiveFailures,
		CooldownUntil:       rec.cooldownUntil,
		LatestUsage:         rec.latestUsage,
	}
}

// IsAvailable reports whether the credential may serve a request right now.
// Healthy and degraded credentials are available; tripped ones are not.
func (m *HealthMonitor) IsAvailable(id string) bool {
	return m.Get(id).State != StateTripped
}

// IsUsageStale reports whether the credential's usage snapshot is missing or
// older than the staleness threshold.
func (m *HealthMonitor) IsUsageStale(id string) bool {
	now := time.Now().UTC()

	m.mu.RLock()
	defer m.mu.RUnlock()
	key := strings.ToLower(id)
	rec, ok := m.records[key]
	if !ok || rec.latestUsage == nil {
		return true
	}
	return rec.latestUsage.Age(now) > m.cfg.UsageStaleness
}
