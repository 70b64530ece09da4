package keyring

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/auditory-labs/earshot/internal/kvstore"
)

type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *testClock) {
	t.Helper()
	clk := newTestClock()
	opts = append([]Option{WithClock(clk.now)}, opts...)
	return NewManager(nil, opts...), clk
}

func threeKeys(m *Manager) []Key {
	a := m.AddKey("sk-alpha-0000000001", "Alpha")
	b := m.AddKey("sk-bravo-0000000002", "Bravo")
	c := m.AddKey("sk-charlie-00000003", "Charlie")
	return []Key{a, b, c}
}

func TestAddKey_FirstIsPrimary(t *testing.T) {
	m, _ := newTestManager(t)
	first := m.AddKey("sk-first", "First")
	second := m.AddKey("sk-second", "Second")

	if !first.Primary || !first.Active {
		t.Errorf("first key should be primary and active, got primary=%v active=%v",
			first.Primary, first.Active)
	}
	if second.Primary {
		t.Error("second key must not be primary")
	}
}

func TestAddKey_DefaultDisplayName(t *testing.T) {
	m, _ := newTestManager(t)
	k := m.AddKey("sk-x", "  ")
	if k.DisplayName != "Key 1" {
		t.Errorf("DisplayName = %q, want %q", k.DisplayName, "Key 1")
	}
}

func TestNextKey_RoundRobin(t *testing.T) {
	m, _ := newTestManager(t)
	threeKeys(m)

	var order []string
	for i := 0; i < 6; i++ {
		k, ok := m.NextKey()
		if !ok {
			t.Fatalf("NextKey() failed on call %d", i)
		}
		order = append(order, k.DisplayName)
	}
	want := []string{"Alpha", "Bravo", "Charlie", "Alpha", "Bravo", "Charlie"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("selection order = %v, want %v", order, want)
		}
	}
	if got := m.TotalCalls(); got != 6 {
		t.Errorf("TotalCalls() = %d, want 6", got)
	}
}

func TestNextKey_SkipsRateLimited(t *testing.T) {
	m, clk := newTestManager(t)
	threeKeys(m)

	k, _ := m.NextKey() // Alpha
	if k.DisplayName != "Alpha" {
		t.Fatalf("first selection = %q, want Alpha", k.DisplayName)
	}

	rot := m.HandleError(429, "rate limit exceeded")
	if !rot.Switched {
		t.Fatal("expected rotation away from rate-limited key")
	}
	if rot.NewKey.DisplayName == "Alpha" {
		t.Error("rotated onto the key that just failed")
	}

	for _, k := range m.Keys() {
		if k.DisplayName != "Alpha" {
			continue
		}
		if !k.RateLimited {
			t.Error("Alpha should be rate-limited")
		}
		want := clk.now().Add(60 * time.Second)
		if !k.RateLimitedUntil.Equal(want) {
			t.Errorf("RateLimitedUntil = %v, want %v", k.RateLimitedUntil, want)
		}
		if k.FailCount != 1 {
			t.Errorf("FailCount = %d, want 1", k.FailCount)
		}
	}
}

func TestNextKey_CooldownExpiryReEnables(t *testing.T) {
	m, clk := newTestManager(t)
	m.AddKey("sk-a", "Alpha")
	m.AddKey("sk-b", "Bravo")

	m.NextKey() // Alpha
	m.HandleError(429, "too many requests")

	// Inside the cooldown window only Bravo is served.
	for i := 0; i < 3; i++ {
		k, ok := m.NextKey()
		if !ok || k.DisplayName != "Bravo" {
			t.Fatalf("within cooldown: got %q ok=%v, want Bravo", k.DisplayName, ok)
		}
	}

	clk.advance(61 * time.Second)

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		k, _ := m.NextKey()
		seen[k.DisplayName] = true
	}
	if !seen["Alpha"] {
		t.Error("Alpha should rejoin rotation after cooldown expiry")
	}
}

func TestHandleError_QuotaUsesLongCooldown(t *testing.T) {
	m, clk := newTestManager(t)
	threeKeys(m)
	m.NextKey()

	m.HandleError(403, "quota exceeded for this billing period")

	k := m.Keys()[0]
	want := clk.now().Add(3600 * time.Second)
	if !k.RateLimitedUntil.Equal(want) {
		t.Errorf("RateLimitedUntil = %v, want %v", k.RateLimitedUntil, want)
	}
	if k.Disabled {
		t.Error("single quota failure must not disable the key outright")
	}
}

func TestHandleError_AuthDisablesPermanently(t *testing.T) {
	m, clk := newTestManager(t, WithDisableThreshold(3))
	threeKeys(m)
	m.NextKey() // Alpha
	m.NextKey() // Bravo

	rot := m.HandleError(401, "invalid api key")
	if !rot.Switched {
		t.Fatal("expected rotation away from auth-rejected key")
	}

	bravo := m.Keys()[1]
	if !bravo.Disabled || bravo.DisabledReason != ReasonAuth {
		t.Fatalf("Bravo: disabled=%v reason=%v, want disabled with ReasonAuth",
			bravo.Disabled, bravo.DisabledReason)
	}

	// Auth disablement must survive the cooldown sweep no matter how long
	// we wait.
	clk.advance(24 * time.Hour)
	m.RefreshKeyStates()
	bravo = m.Keys()[1]
	if !bravo.Disabled {
		t.Error("auth-disabled key was re-enabled by the cooldown sweep")
	}

	for i := 0; i < 10; i++ {
		k, ok := m.NextKey()
		if !ok {
			t.Fatal("pool should still serve the remaining keys")
		}
		if k.DisplayName == "Bravo" {
			t.Fatal("auth-disabled key was selected")
		}
	}
}

func TestHandleError_ThresholdDisablesNonPrimary(t *testing.T) {
	m, clk := newTestManager(t, WithDisableThreshold(3))
	m.AddKey("sk-a", "Alpha")
	m.AddKey("sk-b", "Bravo")

	// Drive Bravo to the threshold with server errors. Re-select it each
	// round; Alpha keeps working in between.
	for i := 0; i < 3; i++ {
		for {
			k, ok := m.NextKey()
			if !ok {
				t.Fatal("pool exhausted unexpectedly")
			}
			if k.DisplayName == "Bravo" {
				break
			}
		}
		m.HandleError(503, "upstream unavailable")
	}

	bravo := m.Keys()[1]
	if !bravo.Disabled {
		t.Fatal("Bravo should be disabled after 3 failures")
	}
	if bravo.DisabledReason == ReasonAuth {
		t.Error("server errors must not be classified as auth")
	}

	// Non-auth disablement lifts once the stamped cooldown passes.
	clk.advance(61 * time.Second)
	m.RefreshKeyStates()
	if m.Keys()[1].Disabled {
		t.Error("threshold disablement should lift after cooldown")
	}
}

func TestHandleError_PrimaryNeverThresholdDisabled(t *testing.T) {
	m, _ := newTestManager(t, WithDisableThreshold(3))
	m.AddKey("sk-only", "Solo")

	for i := 0; i < 10; i++ {
		m.NextKey()
		m.HandleError(500, "internal error")
	}
	k := m.Keys()[0]
	if k.Disabled {
		t.Error("primary key must not be disabled by accumulated failures")
	}
}

func TestNextKey_PrimaryLastResort(t *testing.T) {
	m, _ := newTestManager(t)
	m.AddKey("sk-a", "Alpha")
	m.AddKey("sk-b", "Bravo")

	m.NextKey() // Alpha
	m.HandleError(429, "rate limit")
	// Bravo is now active; limit it too.
	m.HandleError(429, "rate limit")

	k, ok := m.NextKey()
	if !ok {
		t.Fatal("expected last-resort fallback to the primary")
	}
	if !k.Primary {
		t.Errorf("last-resort selection = %q, want the primary", k.DisplayName)
	}
}

func TestNextKey_EmptyPool(t *testing.T) {
	m, _ := newTestManager(t)
	if _, ok := m.NextKey(); ok {
		t.Error("NextKey() on empty pool reported success")
	}
}

func TestNextKey_ShuffleStaysInEligibleSet(t *testing.T) {
	m, _ := newTestManager(t, WithRand(rand.New(rand.NewSource(1))))
	threeKeys(m)

	m.NextKey() // Alpha, round-robin
	m.HandleError(401, "unauthorized")
	m.SetShuffleMode(true)

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		k, ok := m.NextKey()
		if !ok {
			t.Fatal("pool exhausted in shuffle mode")
		}
		counts[k.DisplayName]++
	}
	if counts["Alpha"] > 0 {
		t.Errorf("disabled key selected %d times in shuffle mode", counts["Alpha"])
	}
	if len(counts) != 2 {
		t.Errorf("shuffle mode used %d keys, want 2 (counts=%v)", len(counts), counts)
	}
}

func TestRemoveKey_PromotesNewPrimary(t *testing.T) {
	m, _ := newTestManager(t)
	keys := threeKeys(m)

	if err := m.RemoveKey(keys[0].ID); err != nil {
		t.Fatalf("RemoveKey() error: %v", err)
	}
	remaining := m.Keys()
	if len(remaining) != 2 {
		t.Fatalf("len(Keys()) = %d, want 2", len(remaining))
	}
	if !remaining[0].Primary {
		t.Error("first remaining key should be promoted to primary")
	}
	if remaining[1].Primary {
		t.Error("only one key may be primary")
	}
}

func TestRemoveKey_Unknown(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.RemoveKey("nope"); err != ErrKeyNotFound {
		t.Errorf("RemoveKey(unknown) = %v, want ErrKeyNotFound", err)
	}
}

func TestReportSuccess_ClearsFailureState(t *testing.T) {
	m, _ := newTestManager(t)
	m.AddKey("sk-a", "Alpha")
	m.NextKey()
	m.HandleError(500, "hiccup")

	m.ReportSuccess()
	k := m.Keys()[0]
	if k.FailCount != 0 || k.RateLimited {
		t.Errorf("after success: FailCount=%d RateLimited=%v, want 0/false",
			k.FailCount, k.RateLimited)
	}
}

func TestManager_PersistAndRestore(t *testing.T) {
	store := kvstore.NewMemory()
	clk := newTestClock()

	m := NewManager(store, WithClock(clk.now))
	threeKeys(m)
	m.NextKey()
	m.HandleError(429, "rate limit")
	m.SetShuffleMode(true)

	restored := NewManager(store, WithClock(clk.now))
	keys := restored.Keys()
	if len(keys) != 3 {
		t.Fatalf("restored %d keys, want 3", len(keys))
	}
	if !keys[0].RateLimited {
		t.Error("rate-limit state lost across restart")
	}
	if keys[0].Secret != "sk-alpha-0000000001" {
		t.Error("secret lost across restart")
	}
	if got := restored.TotalCalls(); got != 2 {
		t.Errorf("restored TotalCalls() = %d, want 2", got)
	}
}

func TestSubscribe_MaskedSnapshots(t *testing.T) {
	m, _ := newTestManager(t)

	var last []Key
	unsub := m.Subscribe(func(ks []Key) { last = ks })

	m.AddKey("sk-verysecretvalue-123", "Alpha")
	if len(last) != 1 {
		t.Fatalf("subscriber saw %d keys, want 1", len(last))
	}
	if strings.Contains(last[0].Secret, "verysecret") {
		t.Errorf("subscriber snapshot leaked secret: %q", last[0].Secret)
	}

	unsub()
	before := len(last)
	m.AddKey("sk-another", "Bravo")
	if len(last) != before {
		t.Error("subscriber notified after unsubscribe")
	}
}

func TestMask(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "********"},
		{"short", "********"},
		{"12345678", "********"},
		{"sk-abcdef12345wxyz", "sk-a********wxyz"},
	}
	for _, c := range cases {
		if got := Mask(c.in); got != c.want {
			t.Errorf("Mask(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestHandleError_NoKeys(t *testing.T) {
	m, _ := newTestManager(t)
	rot := m.HandleError(500, "boom")
	if rot.Switched {
		t.Error("HandleError on empty pool reported a switch")
	}
	if rot.Message == "" {
		t.Error("expected an explanatory message")
	}
}

func TestHandleError_SameKeyRetryReportsExhaustion(t *testing.T) {
	m, _ := newTestManager(t)
	m.AddKey("sk-only", "Solo")
	m.NextKey()

	// A rate-limited primary is still returned as the last resort, but the
	// message must make clear the rest of the pool is spent.
	rot := m.HandleError(429, "rate limit exceeded")
	if rot.Switched {
		t.Error("single-key pool cannot switch")
	}
	if rot.NewKey.ID == "" {
		t.Fatal("primary must remain available for retry")
	}
	if !strings.Contains(rot.Message, "exhausted") {
		t.Errorf("Message = %q, want an exhaustion-style message", rot.Message)
	}
}
