package bgsync

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists pending sync registrations.
type Store interface {
	// Register adds tag. Registering a pending tag keeps the existing
	// registration.
	Register(ctx context.Context, tag string) (Registration, error)
	// Pending lists registrations, oldest first.
	Pending(ctx context.Context) ([]Registration, error)
	// RecordFailure counts a failed run of tag.
	RecordFailure(ctx context.Context, tag string, cause error) (Registration, error)
	// Remove deletes tag. Removing an unknown tag is not an error.
	Remove(ctx context.Context, tag string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	regs map[string]*Registration
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{regs: make(map[string]*Registration)}
}

func (s *MemoryStore) Register(ctx context.Context, tag string) (Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reg, ok := s.regs[tag]; ok {
		return *reg, nil
	}
	reg := &Registration{Tag: tag, RegisteredAt: time.Now()}
	s.regs[tag] = reg
	return *reg, nil
}

func (s *MemoryStore) Pending(ctx context.Context) ([]Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Registration, 0, len(s.regs))
	for _, reg := range s.regs {
		out = append(out, *reg)
	}
	sortRegistrations(out)
	return out, nil
}

func (s *MemoryStore) RecordFailure(ctx context.Context, tag string, cause error) (Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regs[tag]
	if !ok {
		return Registration{}, ErrNotRegistered
	}
	reg.recordFailure(cause, time.Now())
	return *reg, nil
}

func (s *MemoryStore) Remove(ctx context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regs, tag)
	return nil
}

func sortRegistrations(regs []Registration) {
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			return regs[i].Tag < regs[j].Tag
		}
		return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
	})
}
