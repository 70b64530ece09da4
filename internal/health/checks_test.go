package health

import (
	"context"
	"strings"
	"testing"

	"github.com/auditory-labs/earshot/internal/kvstore"
	"github.com/auditory-labs/earshot/pkg/keyring"
)

func TestStorageChecker_RoundTrip(t *testing.T) {
	c := StorageChecker(kvstore.NewMemory())

	if c.Name != "storage" {
		t.Errorf("name = %q, want %q", c.Name, "storage")
	}
	detail, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(detail, "round trip") {
		t.Errorf("detail = %q, want round-trip timing", detail)
	}
}

func TestKeyPoolChecker_EmptyPool(t *testing.T) {
	mgr := keyring.NewManager(nil)
	c := KeyPoolChecker(mgr)

	if c.Name != "keys" {
		t.Errorf("name = %q, want %q", c.Name, "keys")
	}
	_, err := c.Check(context.Background())
	if err == nil {
		t.Fatal("expected error for empty pool")
	}
	if !strings.Contains(err.Error(), "no eligible keys") {
		t.Errorf("error = %q, want mention of eligible keys", err)
	}
}

func TestKeyPoolChecker_ReportsEligibleSplit(t *testing.T) {
	mgr := keyring.NewManager(nil)
	mgr.AddKey("sk-health-0000000001", "Alpha")
	mgr.AddKey("sk-health-0000000002", "Bravo")
	mgr.NextKey()
	mgr.HandleError(429, "rate limit exceeded") // parks Alpha

	detail, err := KeyPoolChecker(mgr).Check(context.Background())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if detail != "1/2 keys eligible" {
		t.Errorf("detail = %q, want %q", detail, "1/2 keys eligible")
	}
}
