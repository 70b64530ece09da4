package keyring

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Prober validates a single credential against the upstream service. A nil
// error means the key produced a successful round trip.
type Prober interface {
	Probe(ctx context.Context, secret string) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, secret string) error

func (f ProberFunc) Probe(ctx context.Context, secret string) error { return f(ctx, secret) }

// ProbeStatus summarizes a pool-wide probe sweep.
type ProbeStatus int

const (
	// ProbeOK means a working key was found and selected.
	ProbeOK ProbeStatus = iota
	// ProbeNoKeys means the pool has no eligible keys to try.
	ProbeNoKeys
	// ProbeAllRateLimited means every tried key failed with a rate limit.
	ProbeAllRateLimited
	// ProbeAllFailed means every tried key failed and at least one failure
	// was not a rate limit.
	ProbeAllFailed
	// ProbeCancelled means the caller's context was cancelled before the
	// sweep could finish. Says nothing about the pool.
	ProbeCancelled
)

// ProbeOutcome is the result of FirstWorkingKey.
type ProbeOutcome struct {
	Status ProbeStatus
	Key    Key
	// Tried counts the keys actually probed.
	Tried int
}

// FirstWorkingKey probes eligible keys in pool order until one succeeds,
// activating it. Failures stamp cooldowns or disable keys the same way
// HandleError does, but do not count toward the consecutive-failure
// threshold: a pre-flight sweep hammering every key must not disable the
// pool. Each probe runs under its own timeout; cancelling ctx aborts the
// sweep with ProbeCancelled.
func (m *Manager) FirstWorkingKey(ctx context.Context, p Prober) ProbeOutcome {
	m.mu.Lock()
	m.refreshLocked()
	now := m.now()
	var candidates []Key
	for i := range m.state.Keys {
		if m.state.Keys[i].eligibleAt(now) {
			candidates = append(candidates, m.state.Keys[i])
		}
	}
	m.mu.Unlock()

	if len(candidates) == 0 {
		return ProbeOutcome{Status: ProbeNoKeys}
	}

	allRateLimited := true
	tried := 0
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return ProbeOutcome{Status: ProbeCancelled, Tried: tried}
		}
		tried++

		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		err := p.Probe(probeCtx, cand.Secret)
		cancel()

		if err == nil {
			k, ok := m.activate(cand.ID)
			if !ok {
				// Key was removed mid-sweep; keep trying.
				continue
			}
			slog.Info("keyring: probe found working key", "name", k.DisplayName, "tried", tried)
			return ProbeOutcome{Status: ProbeOK, Key: k, Tried: tried}
		}

		if errors.Is(err, context.DeadlineExceeded) {
			// A slow endpoint says nothing about the key itself.
			allRateLimited = false
			slog.Warn("keyring: probe timed out", "name", cand.DisplayName)
			continue
		}

		status, msg := classifyProbeError(err)
		switch {
		case status == 429 || strings.Contains(msg, "rate limit"):
			m.stampRateLimit(cand.ID, m.rateCooldown)
		case status == 403 || strings.Contains(msg, "quota"):
			// A 403 on a probe is near-always quota exhaustion, not a bad
			// credential; park the key on the long cooldown instead of
			// disabling it.
			m.stampRateLimit(cand.ID, m.quotaCooldown)
		case status == 401:
			m.disableForAuth(cand.ID, status)
			allRateLimited = false
		default:
			allRateLimited = false
		}
		slog.Warn("keyring: probe failed", "name", cand.DisplayName, "status", status, "err", err)
	}

	if allRateLimited {
		return ProbeOutcome{Status: ProbeAllRateLimited, Tried: tried}
	}
	return ProbeOutcome{Status: ProbeAllFailed, Tried: tried}
}

// classifyProbeError extracts an HTTP status code and lowercased message
// from a probe error without depending on any provider package.
func classifyProbeError(err error) (status int, lowerMsg string) {
	var sc statusCoder
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}
	return status, strings.ToLower(err.Error())
}

// activate marks the key with the given ID active and records the use.
func (m *Manager) activate(id string) (Key, bool) {
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
		return Key{}, false
	}
	k := m.selectLocked(idx)
	snapshot := m.maskedKeysLocked()
	m.mu.Unlock()
	m.notify(snapshot)
	return k, true
}

// stampRateLimit marks the key rate-limited without touching FailCount.
func (m *Manager) stampRateLimit(id string, cooldown time.Duration) {
	m.mu.Lock()
	for i := range m.state.Keys {
		if m.state.Keys[i].ID == id {
			m.state.Keys[i].RateLimited = true
			m.state.Keys[i].RateLimitedUntil = m.now().Add(cooldown)
			break
		}
	}
	m.persistLocked()
	snapshot := m.maskedKeysLocked()
	m.mu.Unlock()
	m.notify(snapshot)
}

// disableForAuth permanently disables the key with the given ID.
func (m *Manager) disableForAuth(id string, status int) {
	m.mu.Lock()
	for i := range m.state.Keys {
		if m.state.Keys[i].ID == id {
			m.state.Keys[i].Disabled = true
			m.state.Keys[i].DisabledReason = ReasonAuth
			slog.Warn("keyring: key disabled by auth rejection during probe",
				"name", m.state.Keys[i].DisplayName, "status", status)
			break
		}
	}
	m.persistLocked()
	snapshot := m.maskedKeysLocked()
	m.mu.Unlock()
	m.notify(snapshot)
}
