package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryStore_ConcurrentChainedAppends(t *testing.T) {
	store := NewMemoryStore()
	w := newTestWriter(t, store)
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := w.Record(ctx, Event{
				Action: fmt.Sprintf("update_contract_%d", n),
				Module: ModuleContract,
				Object: ObjectKeyRef("contract", "42"),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Record() error = %v", err)
		}
	}

	entries, err := store.EntriesForObject(ctx, ModuleContract, "contract", "42")
	if err != nil {
		t.Fatalf("EntriesForObject() error = %v", err)
	}
	if len(entries) != writers {
		t.Fatalf("stored entries = %d, want %d", len(entries), writers)
	}

	// Exactly one chain start, every later entry linked to its
	// predecessor with no forks.
	if entries[0].Link.PrevHash != "" {
		t.Errorf("first entry PrevHash = %q, want empty", entries[0].Link.PrevHash)
	}
	seen := map[string]bool{entries[0].Link.CurrentHash: true}
	for i := 1; i < len(entries); i++ {
		if entries[i].Link.PrevHash != entries[i-1].Link.CurrentHash {
			t.Fatalf("entry %d PrevHash = %q, want %q", i, entries[i].Link.PrevHash, entries[i-1].Link.CurrentHash)
		}
		if seen[entries[i].Link.CurrentHash] {
			t.Fatalf("duplicate hash at entry %d", i)
		}
		seen[entries[i].Link.CurrentHash] = true
	}

	v := newTestVerifier(t, store)
	result, err := v.VerifyChain(ctx, "contract", "42")
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if !result.OK {
		t.Errorf("chain built concurrently did not verify: %+v", result.Failure)
	}
}

func TestMemoryStore_AppendChainedRequiresKey(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.AppendChained(context.Background(), &Entry{Module: ModuleContract}, nil)
	if err != ErrEmptyChainKey {
		t.Errorf("AppendChained() error = %v, want ErrEmptyChainKey", err)
	}
}

func TestMemoryStore_IsolationFromCallerMutation(t *testing.T) {
	store := NewMemoryStore()
	w := newTestWriter(t, store)
	e := seedChain(t, w, "1", "create_contract")[0]

	// Mutating the returned entry must not reach stored state.
	e.Action = "mutated"
	entries, err := store.EntriesForObject(context.Background(), ModuleContract, "contract", "1")
	if err != nil {
		t.Fatalf("EntriesForObject() error = %v", err)
	}
	if entries[0].Action != "create_contract" {
		t.Errorf("stored action = %q, caller mutation leaked", entries[0].Action)
	}
}
