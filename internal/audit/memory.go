package audit

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and development.
// Chained appends for the same key are serialized by a per-key mutex;
// reads see only fully appended entries.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	tips    map[string]string // chain key -> current tip hash

	lockMu   sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tips:     make(map[string]string),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func chainKey(module, objectType, objectID string) string {
	return module + "\x00" + objectType + "\x00" + objectID
}

func (s *MemoryStore) keyLock(key string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	return l
}

// Append inserts an unchained entry.
func (s *MemoryStore) Append(ctx context.Context, e *Entry) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(e), nil
}

// AppendChained inserts a chained entry, holding the per-key lock across
// the read-tip, compute, insert sequence.
func (s *MemoryStore) AppendChained(ctx context.Context, e *Entry, compute func(prevHash string) (ChainLink, error)) (*Entry, error) {
	if e.Module == "" || e.ObjectType == "" || e.ObjectID == "" {
		return nil, ErrEmptyChainKey
	}
	key := chainKey(e.Module, e.ObjectType, e.ObjectID)
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	prev := s.tips[key]
	s.mu.RUnlock()

	link, err := compute(prev)
	if err != nil {
		return nil, err
	}
	e.Link = link

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.insertLocked(e)
	s.tips[key] = link.CurrentHash
	return stored, nil
}

func (s *MemoryStore) insertLocked(e *Entry) *Entry {
	copied := cloneEntry(e)
	copied.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, copied)
	result := cloneEntry(copied)
	return result
}

// EntriesForObject returns entries for one (module, object) pair ordered
// by (created_at, id) ascending.
func (s *MemoryStore) EntriesForObject(ctx context.Context, module, objectType, objectID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Entry
	for _, e := range s.entries {
		if e.Module == module && e.ObjectType == objectType && e.ObjectID == objectID {
			results = append(results, cloneEntry(e))
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// ActionsForObject returns action names for one (module, object) pair in
// creation order.
func (s *MemoryStore) ActionsForObject(ctx context.Context, module, objectType, objectID string) ([]string, error) {
	entries, err := s.EntriesForObject(ctx, module, objectType, objectID)
	if err != nil {
		return nil, err
	}
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions, nil
}

// ObjectsInWindow returns distinct objects active since the given time,
// most recently active first.
func (s *MemoryStore) ObjectsInWindow(ctx context.Context, modules []string, since time.Time, objectType string, limit int) ([]ObjectKey, error) {
	moduleSet := make(map[string]bool, len(modules))
	for _, m := range modules {
		moduleSet[m] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type activity struct {
		key  ObjectKey
		last time.Time
	}
	latest := make(map[ObjectKey]*activity)
	for _, e := range s.entries {
		if !moduleSet[e.Module] || e.ObjectType == "" || e.ObjectID == "" {
			continue
		}
		if e.CreatedAt.Before(since) {
			continue
		}
		if objectType != "" && e.ObjectType != objectType {
			continue
		}
		key := ObjectKey{ObjectType: e.ObjectType, ObjectID: e.ObjectID}
		if a, ok := latest[key]; !ok || e.CreatedAt.After(a.last) {
			latest[key] = &activity{key: key, last: e.CreatedAt}
		}
	}

	all := make([]*activity, 0, len(latest))
	for _, a := range latest {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].last.Equal(all[j].last) {
			return all[i].last.After(all[j].last)
		}
		// Stable order for same-instant activity
		ki := all[i].key.ObjectType + "\x00" + all[i].key.ObjectID
		kj := all[j].key.ObjectType + "\x00" + all[j].key.ObjectID
		return strings.Compare(ki, kj) < 0
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	keys := make([]ObjectKey, 0, len(all))
	for _, a := range all {
		keys = append(keys, a.key)
	}
	return keys, nil
}

// Tamper mutates a stored entry in place. It exists so tests can
// simulate direct storage manipulation; production code has no update
// path.
func (s *MemoryStore) Tamper(id int64, mutate func(e *Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			mutate(e)
			return true
		}
	}
	return false
}

// Remove deletes a stored entry. Test-only, mirroring Tamper.
func (s *MemoryStore) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

func cloneEntry(e *Entry) *Entry {
	copied := *e
	if e.BeforeData != nil {
		copied.BeforeData = append(json.RawMessage(nil), e.BeforeData...)
	}
	if e.AfterData != nil {
		copied.AfterData = append(json.RawMessage(nil), e.AfterData...)
	}
	return &copied
}
