package kvstore

import (
	"context"
	"errors"
	"testing"
)

// openStores returns one of each Store implementation so the contract tests
// run against both. The badger instance runs in-memory mode.
func openStores(t *testing.T) map[string]Store {
	t.Helper()

	b, err := NewBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"badger": b,
	}
}

func TestStore_GetSetRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := s.Set(ctx, "detector/config", []byte(`{"a":1}`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := s.Get(ctx, "detector/config")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != `{"a":1}` {
				t.Fatalf("Get = %q, want %q", got, `{"a":1}`)
			}

			// Overwrite.
			if err := s.Set(ctx, "detector/config", []byte(`{"a":2}`)); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, _ = s.Get(ctx, "detector/config")
			if string(got) != `{"a":2}` {
				t.Fatalf("Get after overwrite = %q", got)
			}
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "nope")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Set(ctx, "k", []byte("v")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after delete = %v, want ErrNotFound", err)
			}
			// Deleting a missing key is not an error.
			if err := s.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete missing: %v", err)
			}
		})
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Set(ctx, "k", []byte("abc"))

	got, _ := m.Get(ctx, "k")
	got[0] = 'x'

	again, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}
