package template

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]Template
	byHash map[string]int64
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		byID:   make(map[int64]Template),
		byHash: make(map[string]int64),
		now:    time.Now,
	}
}

func (s *MemoryStore) FindByHash(_ context.Context, hash string) (*Template, error) {
	if hash == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, nil
	}
	t := s.byID[id].Clone()
	return &t, nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	c := t.Clone()
	return &c, nil
}

func (s *MemoryStore) Insert(_ context.Context, n NewTemplate) (*Template, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.Hash != "" {
		if id, ok := s.byHash[n.Hash]; ok {
			t := s.byID[id].Clone()
			return &t, nil
		}
	}

	t := Template{
		ID:        s.nextID,
		Name:      n.Name,
		Hash:      n.Hash,
		Features:  n.Features,
		Regions:   n.Regions,
		CreatedAt: s.now(),
	}.Clone()
	s.nextID++
	s.byID[t.ID] = t
	if t.Hash != "" {
		s.byHash[t.Hash] = t.ID
	}
	out := t.Clone()
	return &out, nil
}

// List returns templates in creation order.
func (s *MemoryStore) List(_ context.Context) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Template, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
