package health

import (
	"context"
	"fmt"
	"time"

	"github.com/auditory-labs/earshot/internal/kvstore"
	"github.com/auditory-labs/earshot/pkg/keyring"
)

// StorageChecker verifies the embedded store with a write/read/delete round
// trip on a reserved key and reports how long it took.
func StorageChecker(store kvstore.Store) Checker {
	return Checker{
		Name: "storage",
		Check: func(ctx context.Context) (string, error) {
			const probeKey = "health/probe"
			start := time.Now()
			if err := store.Set(ctx, probeKey, []byte("ok")); err != nil {
				return "", fmt.Errorf("set: %w", err)
			}
			if _, err := store.Get(ctx, probeKey); err != nil {
				return "", fmt.Errorf("get: %w", err)
			}
			if err := store.Delete(ctx, probeKey); err != nil {
				return "", fmt.Errorf("delete: %w", err)
			}
			return fmt.Sprintf("round trip %s", time.Since(start).Round(time.Microsecond)), nil
		},
	}
}

// KeyPoolChecker reports failure when no API key is currently eligible, i.e.
// analysis requests would all be rejected. On success the detail carries the
// eligible/total split.
func KeyPoolChecker(mgr *keyring.Manager) Checker {
	return Checker{
		Name: "keys",
		Check: func(_ context.Context) (string, error) {
			mgr.RefreshKeyStates()
			eligible, total := 0, 0
			for _, k := range mgr.Keys() {
				total++
				if !k.Disabled && !k.RateLimited {
					eligible++
				}
			}
			if eligible == 0 {
				return "", fmt.Errorf("no eligible keys in pool of %d", total)
			}
			return fmt.Sprintf("%d/%d keys eligible", eligible, total), nil
		},
	}
}
