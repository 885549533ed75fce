package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// flakyStore fails the first failures calls to ObjectsInWindow, then
// behaves normally.
type flakyStore struct {
	*MemoryStore

	mu       sync.Mutex
	failures int
	calls    int
}

var errTransient = errors.New("connection reset")

func (s *flakyStore) ObjectsInWindow(ctx context.Context, modules []string, since time.Time, objectType string, limit int) ([]ObjectKey, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return nil, errTransient
	}
	return s.MemoryStore.ObjectsInWindow(ctx, modules, since, objectType, limit)
}

func (s *flakyStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newJobHarness(t *testing.T, store Store, config VerifyJobConfig) *VerifyJob {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{Store: store, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	config.Logger = discardLogger()
	return NewVerifyJob(config, v)
}

func TestVerifyJob_StartStop(t *testing.T) {
	job := newJobHarness(t, NewMemoryStore(), VerifyJobConfig{Interval: time.Hour})

	if job.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
	job.Start(context.Background())
	if !job.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	// Second Start is a no-op.
	job.Start(context.Background())

	job.Stop()
	if job.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	// Second Stop is a no-op.
	job.Stop()
}

func TestVerifyJob_RunsPeriodically(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	job := newJobHarness(t, store, VerifyJobConfig{Interval: 10 * time.Millisecond})

	job.Start(context.Background())
	defer job.Stop()

	deadline := time.After(2 * time.Second)
	for store.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("job did not run twice within deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestVerifyJob_RetriesTransientFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	job := newJobHarness(t, store, VerifyJobConfig{
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})

	job.RunOnce(context.Background())
	if got := store.callCount(); got != 3 {
		t.Errorf("batch attempts = %d, want 3 (two retries after two failures)", got)
	}
}

func TestVerifyJob_GivesUpAfterMaxRetries(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10}
	job := newJobHarness(t, store, VerifyJobConfig{
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})

	job.RunOnce(context.Background())
	if got := store.callCount(); got != 3 {
		t.Errorf("batch attempts = %d, want 3 before giving up", got)
	}
}

func TestVerifyJob_NegativeMaxRetriesDisablesRetries(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10}
	job := newJobHarness(t, store, VerifyJobConfig{
		MaxRetries:   -1,
		RetryBackoff: time.Millisecond,
	})

	job.RunOnce(context.Background())
	if got := store.callCount(); got != 1 {
		t.Errorf("batch attempts = %d, want 1 with retries disabled", got)
	}
}

func TestVerifyJob_ZeroMaxRetriesUsesDefault(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10}
	job := newJobHarness(t, store, VerifyJobConfig{
		RetryBackoff: time.Millisecond,
	})

	job.RunOnce(context.Background())
	if got := store.callCount(); got != 1+DefaultMaxRetries {
		t.Errorf("batch attempts = %d, want %d (default retry bound)", got, 1+DefaultMaxRetries)
	}
}

func TestVerifyJob_FindingsAreNotRetried(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	w := newTestWriter(t, store.MemoryStore)
	entries := seedChain(t, w, "1", "create_contract")
	store.Tamper(entries[0].ID, func(e *Entry) { e.ActorID = "intruder" })

	job := newJobHarness(t, store, VerifyJobConfig{
		MaxRetries:   5,
		RetryBackoff: time.Millisecond,
	})
	job.RunOnce(context.Background())
	if got := store.callCount(); got != 1 {
		t.Errorf("batch attempts = %d, want 1 (integrity findings are final)", got)
	}
}
