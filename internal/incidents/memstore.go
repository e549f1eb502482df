package incidents

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	mu  sync.Mutex
	inc *Incident
}

// MemoryStore keeps incidents in process memory. Each incident has its own
// lock so different incidents are updated in parallel.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, inc *Incident) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := PrepareNew(inc, s.now())
	s.mu.Lock()
	s.entries[id] = &memEntry{inc: inc.Clone()}
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) entry(id string) (*memEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inc.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entries := make([]*memEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	res := make([]Incident, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if f.Matches(e.inc) {
			res = append(res, *e.inc.Clone())
		}
		e.mu.Unlock()
	}
	SortNewestFirst(res)
	return f.Truncate(res), nil
}

func (s *MemoryStore) AppendVerifier(ctx context.Context, id, verifier string, quorum int) (AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}
	e, ok := s.entry(id)
	if !ok {
		return AppendResult{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	appended, transitioned := ApplyVerifier(e.inc, verifier, quorum, s.now())
	return AppendResult{
		Incident:     e.inc.Clone(),
		Appended:     appended,
		Transitioned: transitioned,
	}, nil
}
