// Package keyring implements the multi-key rotation and failover manager: it
// turns a pool of metered API credentials into a single reliable "current
// key" abstraction that self-heals after rate-limit and quota cooldowns.
//
// Selection is round-robin by registration order (or uniformly random in
// shuffle mode) over the eligible subset of the pool. Failed requests are
// reported back via HandleError, which classifies the failure, applies
// cooldowns or disablement, and rotates to a different key when one is
// available. The first key ever registered is the primary: the designated
// last-resort credential that is never auto-disabled by accumulated failures
// and is retried even while possibly still rate-limited when nothing else is
// eligible.
//
// All state mutations flow through the manager; observers receive deep
// copies with secrets redacted. Pool state is persisted through the injected
// store after every state-changing operation.
package keyring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditory-labs/earshot/internal/kvstore"
)

// poolKey is the kvstore key under which pool state is persisted.
const poolKey = "keyring/pool"

// Defaults for the cooldown and disablement policy.
const (
	DefaultRateLimitCooldown = 60 * time.Second
	DefaultQuotaCooldown     = 3600 * time.Second
	DefaultDisableThreshold  = 3
	DefaultProbeTimeout      = 3 * time.Second
)

// Rotation reports the outcome of HandleError to the consumer: whether the
// manager switched to a different key, and a human-readable status message.
type Rotation struct {
	Switched bool
	NewKey   Key
	Message  string
}

// poolState is the persisted form of the manager's mutable state.
type poolState struct {
	Keys         []Key `json:"keys"`
	CurrentIndex int   `json:"current_index"`
	Shuffle      bool  `json:"shuffle"`
	TotalCalls   int   `json:"total_calls"`
}

// Manager owns the key pool. Create one per credential namespace with
// NewManager. All methods are safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	state poolState

	store kvstore.Store
	now   func() time.Time
	rng   *rand.Rand

	rateCooldown     time.Duration
	quotaCooldown    time.Duration
	disableThreshold int
	probeTimeout     time.Duration

	subs      map[int]func([]Key)
	nextSubID int
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithClock injects the time source used for cooldown stamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRand injects the randomness source used in shuffle mode.
func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) { m.rng = rng }
}

// WithCooldowns overrides the rate-limit and quota cooldown windows.
func WithCooldowns(rateLimit, quota time.Duration) Option {
	return func(m *Manager) {
		if rateLimit > 0 {
			m.rateCooldown = rateLimit
		}
		if quota > 0 {
			m.quotaCooldown = quota
		}
	}
}

// WithDisableThreshold overrides the consecutive-failure disable threshold.
func WithDisableThreshold(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.disableThreshold = n
		}
	}
}

// WithProbeTimeout overrides the per-key timeout used by FirstWorkingKey.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// NewManager creates a Manager backed by store. Previously persisted pool
// state is restored; a nil store keeps everything in memory (tests).
func NewManager(store kvstore.Store, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		now:              time.Now,
		rateCooldown:     DefaultRateLimitCooldown,
		quotaCooldown:    DefaultQuotaCooldown,
		disableThreshold: DefaultDisableThreshold,
		probeTimeout:     DefaultProbeTimeout,
		subs:             make(map[int]func([]Key)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if store != nil {
		if raw, err := store.Get(context.Background(), poolKey); err == nil {
			var saved poolState
			if err := json.Unmarshal(raw, &saved); err == nil {
				m.state = saved
				m.clampIndexLocked()
			} else {
				slog.Warn("keyring: ignoring corrupt persisted pool state", "err", err)
			}
		}
	}
	return m
}

// AddKey appends a credential to the pool. The first key ever added becomes
// primary and active.
func (m *Manager) AddKey(secret, name string) Key {
	m.mu.Lock()
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("Key %d", len(m.state.Keys)+1)
	}
	k := Key{
		ID:          uuid.NewString(),
		Secret:      secret,
		DisplayName: name,
	}
	if len(m.state.Keys) == 0 {
		k.Primary = true
		k.Active = true
	}
	m.state.Keys = append(m.state.Keys, k)
	m.persistLocked()
	snapshot := m.maskedKeysLocked()
	m.mu.Unlock()

	m.notify(snapshot)
	slog.Info("keyring: key added", "name", k.DisplayName, "primary", k.Primary)
	return k
}

// RemoveKey deletes a credential. Removing the primary promotes the new
// first key; removing the currently-indexed key clamps the rotation pointer.
func (m *Manager) RemoveKey(id string) error {
	m.mu.Lock()
	idx := -1
	for i := range m.state.Keys {
		if m.state.Keys[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrKeyNotFound
	}

	removed := m.state.Keys[idx]
	m.state.Keys = append(m.state.Keys[:idx], m.state.Keys[idx+1:]...)

	if removed.Primary && len(m.state.Keys) > 0 {
		for i := range m.state.Keys {
			m.state.Keys[i].Primary = i == 0
		}
	}
	if idx < m.state.CurrentIndex {
		m.state.CurrentIndex--
	}
	m.clampIndexLocked()
	m.persistLocked()
	snapshot := m.maskedKeysLocked()
	m.mu.Unlock()

	m.notify(snapshot)
	slog.Info("keyring: key removed", "name", removed.DisplayName)
	return nil
}

// NextKey runs the selection algorithm and returns the chosen credential.
// ok is false when the pool is empty or every key including the primary is
// disabled.
func (m *Manager) NextKey() (Key, bool) {
	m.mu.Lock()
	k, ok := m.nextLocked()
	var snapshot []Key
	if ok {
		snapshot = m.maskedKeysLocked()
	}
	m.mu.Unlock()

	if ok {
		m.notify(snapshot)
	}
	return k, ok
}

// CurrentKey returns the last selected key without rotating.
func (m *Manager) CurrentKey() (Key, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.Keys {
		if m.state.Keys[i].Active {
			return m.state.Keys[i], true
		}
	}
	return Key{}, false
}

// HandleError classifies a failed request against the active key, applies
// cooldown or disablement, and attempts to rotate to a different key.
func (m *Manager) HandleError(statusCode int, message string) Rotation {
	m.mu.Lock()

	if len(m.state.Keys) == 0 {
		m.mu.Unlock()
		return Rotation{Message: ErrNoKeysConfigured.Error()}
	}

	cur := m.activeIndexLocked()
	if cur < 0 {
		// No key has been selected yet; classify against the rotation pointer
		// position so the failure is not lost.
		cur = m.state.CurrentIndex % len(m.state.Keys)
	}
	failed := &m.state.Keys[cur]
	m.classifyLocked(failed, statusCode, message)
	failedID := failed.ID
	failedLabel := failed.label()

	next, ok := m.nextLocked()
	m.persistLocked()
	snapshot := m.maskedKeysLocked()
	m.mu.Unlock()

	m.notify(snapshot)

	switch {
	case !ok:
		return Rotation{
			Switched: false,
			Message:  fmt.Sprintf("all API keys exhausted after failure on %s", failedLabel),
		}
	case next.ID != failedID:
		return Rotation{
			Switched: true,
			NewKey:   next,
			Message:  fmt.Sprintf("switched from %s to %s", failedLabel, next.DisplayName),
		}
	default:
		return Rotation{
			Switched: false,
			NewKey:   next,
			Message:  fmt.Sprintf("all other keys exhausted; retrying %s", failedLabel),
		}
	}
}

// ReportSuccess clears the active key's failure accounting after a request
// succeeds.
func (m *Manager) ReportSuccess() {
	m.mu.Lock()
	if i := m.activeIndexLocked(); i >= 0 {
		k := &m.state.Keys[i]
		k.FailCount = 0
		k.RateLimited = false
		k.RateLimitedUntil = time.Time{}
		m.persistLocked()
	}
	snapshot := m.maskedKeysLocked()
	m.mu.Unlock()
	m.notify(snapshot)
}

// RefreshKeyStates performs the lazy cooldown-expiry sweep: keys whose
// cooldown has passed get their rate-limit flags physically cleared, their
// fail count reset, and — unless they were disabled for auth reasons — their
// disablement lifted.
func (m *Manager) RefreshKeyStates() {
	m.mu.Lock()
	changed := m.refreshLocked()
	if changed {
		m.persistLocked()
	}
	snapshot := m.maskedKeysLocked()
	m.mu.Unlock()
	if changed {
		m.notify(snapshot)
	}
}

// SetShuffleMode toggles between round-robin and randomized selection.
func (m *Manager) SetShuffleMode(on bool) {
	m.mu.Lock()
	m.state.Shuffle = on
	m.persistLocked()
	m.mu.Unlock()
}

// TotalCalls returns the number of selections made over the pool's lifetime.
func (m *Manager) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.TotalCalls
}

// Keys returns a copy of the pool in registration order with secrets intact.
// Intended for the owning application, not for display layers.
func (m *Manager) Keys() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Key, len(m.state.Keys))
	copy(out, m.state.Keys)
	return out
}

// Subscribe registers an observer notified with a masked snapshot of the
// pool after every state change. The returned function removes the observer.
func (m *Manager) Subscribe(fn func([]Key)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// ── internals ──────────────────────────────────────────────────────────────

// nextLocked implements the selection algorithm. Must be called with m.mu
// held.
func (m *Manager) nextLocked() (Key, bool) {
	m.refreshLocked()

	n := len(m.state.Keys)
	if n == 0 {
		return Key{}, false
	}
	now := m.now()

	var candidates []int
	for i := range m.state.Keys {
		if m.state.Keys[i].eligibleAt(now) {
			candidates = append(candidates, i)
		}
	}

	if len(candidates) == 0 {
		// Last-resort override: better to retry on a possibly-still-limited
		// primary than to stop entirely.
		for i := range m.state.Keys {
			if m.state.Keys[i].Primary && !m.state.Keys[i].Disabled {
				return m.selectLocked(i), true
			}
		}
		return Key{}, false
	}

	var chosen int
	if m.state.Shuffle {
		chosen = candidates[m.rng.Intn(len(candidates))]
	} else {
		// Round-robin: first candidate at or after the rotation pointer,
		// wrapping. Guarantees starvation-freedom while any key is eligible.
		chosen = candidates[0]
		for off := 0; off < n; off++ {
			i := (m.state.CurrentIndex + off) % n
			if m.state.Keys[i].eligibleAt(now) {
				chosen = i
				break
			}
		}
	}
	return m.selectLocked(chosen), true
}

// selectLocked performs the selection bookkeeping for index i and returns a
// copy of the chosen key. Must be called with m.mu held.
func (m *Manager) selectLocked(i int) Key {
	now := m.now()
	for j := range m.state.Keys {
		m.state.Keys[j].Active = j == i
	}
	k := &m.state.Keys[i]
	k.UsageCount++
	k.LastUsed = now
	m.state.CurrentIndex = (i + 1) % len(m.state.Keys)
	m.state.TotalCalls++
	m.persistLocked()
	return *k
}

// classifyLocked applies the error taxonomy to k in priority order. Must be
// called with m.mu held.
func (m *Manager) classifyLocked(k *Key, statusCode int, message string) {
	now := m.now()
	lower := strings.ToLower(message)

	switch {
	case statusCode == 429 || strings.Contains(lower, "rate limit"):
		k.RateLimited = true
		k.RateLimitedUntil = now.Add(m.rateCooldown)
		k.FailCount++

	case strings.Contains(lower, "quota"):
		k.RateLimited = true
		k.RateLimitedUntil = now.Add(m.quotaCooldown)
		k.FailCount++

	case statusCode == 401 || statusCode == 403:
		// Auth failures are not transient and must not be retried on a timer.
		k.Disabled = true
		k.DisabledReason = ReasonAuth
		k.FailCount = m.disableThreshold
		slog.Warn("keyring: key disabled by auth rejection",
			"name", k.DisplayName, "status", statusCode)
		return

	case statusCode >= 500:
		// Server-side; may self-resolve. Counted toward the threshold only.
		k.FailCount++
	}

	if k.FailCount >= m.disableThreshold && !k.Primary && !k.Disabled {
		k.Disabled = true
		switch {
		case strings.Contains(lower, "quota"):
			k.DisabledReason = ReasonQuota
		default:
			k.DisabledReason = ReasonRateLimit
		}
		// Give threshold disablement a cooldown so the expiry sweep can lift
		// it; without a timestamp the key would stay out forever.
		if k.RateLimitedUntil.IsZero() {
			k.RateLimited = true
			k.RateLimitedUntil = now.Add(m.rateCooldown)
		}
		slog.Warn("keyring: key disabled after repeated failures",
			"name", k.DisplayName, "fail_count", k.FailCount)
	}
}

// refreshLocked clears expired cooldowns. Reports whether anything changed.
// Must be called with m.mu held.
func (m *Manager) refreshLocked() bool {
	now := m.now()
	changed := false
	for i := range m.state.Keys {
		k := &m.state.Keys[i]
		if k.RateLimitedUntil.IsZero() || now.Before(k.RateLimitedUntil) {
			continue
		}
		k.RateLimited = false
		k.RateLimitedUntil = time.Time{}
		k.FailCount = 0
		if k.Disabled && k.DisabledReason != ReasonAuth {
			k.Disabled = false
			k.DisabledReason = ReasonNone
			slog.Info("keyring: key re-enabled after cooldown", "name", k.DisplayName)
		}
		changed = true
	}
	return changed
}

// activeIndexLocked returns the index of the active key, or -1.
func (m *Manager) activeIndexLocked() int {
	for i := range m.state.Keys {
		if m.state.Keys[i].Active {
			return i
		}
	}
	return -1
}

// clampIndexLocked keeps the rotation pointer inside the pool bounds.
func (m *Manager) clampIndexLocked() {
	if len(m.state.Keys) == 0 {
		m.state.CurrentIndex = 0
		return
	}
	if m.state.CurrentIndex < 0 || m.state.CurrentIndex >= len(m.state.Keys) {
		m.state.CurrentIndex = 0
	}
}

// persistLocked writes the pool state through the storage choke point. A
// failed write degrades to "treat the key as healthy again on restart",
// which is acceptable; losing a credential is not, so the full pool is
// always written. Must be called with m.mu held.
func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	raw, err := json.Marshal(m.state)
	if err != nil {
		slog.Error("keyring: marshal pool state", "err", err)
		return
	}
	if err := m.store.Set(context.Background(), poolKey, raw); err != nil {
		slog.Error("keyring: persist pool state", "err", err)
	}
}

// maskedKeysLocked returns a deep copy of the pool with secrets redacted.
func (m *Manager) maskedKeysLocked() []Key {
	out := make([]Key, len(m.state.Keys))
	for i, k := range m.state.Keys {
		out[i] = k.masked()
	}
	return out
}

func (m *Manager) notify(snapshot []Key) {
	m.mu.Lock()
	fns := make([]func([]Key), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}
