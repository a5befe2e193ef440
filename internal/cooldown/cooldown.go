// Package cooldown tracks temporarily-disabled providers. It is process-wide
// shared state (spec.md §5) guarded by one RWMutex: writes are serialized
// under the write lock, reads take the shared read lock, and every read
// re-checks expiry so an entry the sweeper has not yet evicted is ignored.
package cooldown

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Reason classifies why a provider was cooled down, which selects the
// duration policy (spec.md §7).
type Reason string

const (
	ReasonTransient   Reason = "transient"
	ReasonRateLimited Reason = "rate_limited"
	ReasonAuth        Reason = "auth"
)

const (
	baselineTransient = 15 * time.Second
	maxTransient       = 5 * time.Minute
	baselineRateLimit  = 30 * time.Second
	authCooldown       = 5 * time.Minute
)

// Entry is one provider's current cooldown state.
type Entry struct {
	Provider  string
	Reason    Reason
	ExpiresAt time.Time
	attempts  int
}

// Manager is process-wide cooldown state, mutated by the dispatcher on
// failures and by a background sweeper that evicts expired entries.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	logger *slog.Logger
	cron   *cron.Cron
}

func New(logger *slog.Logger) *Manager {
	return &Manager{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// StartSweeper launches the background eviction job on the given interval,
// using robfig/cron's second-granularity parser so callers can express
// sub-minute sweep intervals (e.g. "*/10 * * * * *" for every 10s).
func (m *Manager) StartSweeper(spec string) error {
	m.cron = cron.New(cron.WithSeconds())

	_, err := m.cron.AddFunc(spec, m.sweep)
	if err != nil {
		return err
	}

	m.cron.Start()

	return nil
}

// StopSweeper cancels the background sweeper; callers should do this on
// shutdown before draining in-flight requests.
func (m *Manager) StopSweeper() {
	if m.cron != nil {
		ctx := m.cron.Stop()
		<-ctx.Done()
	}
}

func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, e := range m.entries {
		if now.After(e.ExpiresAt) {
			delete(m.entries, name)
			if m.logger != nil {
				m.logger.Debug("cooldown sweeper evicted expired entry", "provider", name)
			}
		}
	}
}

// IsOnCooldown reports whether provider is disabled at time now.
func (m *Manager) IsOnCooldown(provider string, now time.Time) bool {
	m.mu.RLock()
	e, ok := m.entries[provider]
	m.mu.RUnlock()

	if !ok {
		return false
	}

	return now.Before(e.ExpiresAt)
}

// PlaceOnCooldown inserts or extends a provider's cooldown using the
// reason's duration policy. Repeated transient failures double the
// cooldown window (capped) instead of resetting it, so a flapping provider
// falls into a longer quarantine automatically; rate-limited cooldowns last
// the larger of the baseline and retryAfter, and auth cooldowns are fixed.
func (m *Manager) PlaceOnCooldown(provider string, reason Reason, retryAfter time.Duration) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, existing := m.entries[provider]
	attempts := 0
	if existing && now.Before(e.ExpiresAt) {
		attempts = e.attempts + 1
	}

	duration := durationFor(reason, attempts, retryAfter)

	m.entries[provider] = &Entry{
		Provider:  provider,
		Reason:    reason,
		ExpiresAt: now.Add(duration),
		attempts:  attempts,
	}

	if m.logger != nil {
		m.logger.Info("provider placed on cooldown", "provider", provider, "reason", reason, "duration", duration)
	}
}

func durationFor(reason Reason, attempts int, retryAfter time.Duration) time.Duration {
	switch reason {
	case ReasonAuth:
		return authCooldown

	case ReasonRateLimited:
		d := baselineRateLimit
		if retryAfter > d {
			d = retryAfter
		}
		return d

	default: // ReasonTransient
		d := baselineTransient
		for i := 0; i < attempts; i++ {
			d *= 2
			if d >= maxTransient {
				return maxTransient
			}
		}
		return d
	}
}

// Clear removes a single provider's cooldown entry (administrative).
func (m *Manager) Clear(provider string) {
	m.mu.Lock()
	delete(m.entries, provider)
	m.mu.Unlock()
}

// ClearAll removes every cooldown entry (administrative).
func (m *Manager) ClearAll() {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()
}

// Snapshot returns a copy of all current entries, for the admin /state endpoint.
func (m *Manager) Snapshot() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out
}
