// Package memstore keeps listings, run history and cursors in process memory.
// Conditional writes are evaluated under a single mutex, which gives the same
// per-listing atomicity a SQL UPDATE ... WHERE provides.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

// Store implements domain.ListingRepository, domain.RunRepository and
// domain.CursorRepository.
type Store struct {
	mu       sync.Mutex
	listings map[string]domain.Listing
	runs     []domain.RunRecord
	cursors  map[string]int64

	// FailQuery, when set, is returned by Query and Count.
	FailQuery error
	// FailUpdate, when it returns non-nil for a listing id, fails that write.
	FailUpdate func(id string) error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		listings: make(map[string]domain.Listing),
		cursors:  make(map[string]int64),
	}
}

func (s *Store) Query(_ context.Context, filter domain.Filter) ([]domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailQuery != nil {
		return nil, s.FailQuery
	}

	var out []domain.Listing
	for _, l := range s.listings {
		if filter.Matches(l) {
			out = append(out, clone(l))
		}
	}

	byDeletion := filter.DeletionDueAtOrBefore != nil
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if byDeletion && a.DeletionScheduledAt != nil && b.DeletionScheduledAt != nil &&
			!a.DeletionScheduledAt.Equal(*b.DeletionScheduledAt) {
			return a.DeletionScheduledAt.Before(*b.DeletionScheduledAt)
		}
		if !byDeletion && !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.Before(b.ExpiresAt)
		}
		return a.ID < b.ID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, id string) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return domain.Listing{}, fmt.Errorf("listing %s: %w", id, domain.ErrNotFound)
	}
	return clone(l), nil
}

func (s *Store) Create(_ context.Context, listing domain.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listings[listing.ID]; ok {
		return fmt.Errorf("listing %s: %w", listing.ID, domain.ErrConflict)
	}
	s.listings[listing.ID] = clone(listing)
	return nil
}

func (s *Store) ConditionalUpdate(_ context.Context, id string, expect domain.Expectation, patch domain.Patch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUpdate != nil {
		if err := s.FailUpdate(id); err != nil {
			return false, err
		}
	}

	l, ok := s.listings[id]
	if !ok || !expect.Satisfies(l) {
		return false, nil
	}
	if patch.AddWarning != 0 && l.WarningsSent.Has(patch.AddWarning) {
		return false, nil
	}
	s.listings[id] = clone(patch.Apply(l))
	return true, nil
}

func (s *Store) CountByStatus(_ context.Context) (map[domain.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailQuery != nil {
		return nil, s.FailQuery
	}
	counts := make(map[domain.Status]int)
	for _, l := range s.listings {
		counts[l.Status]++
	}
	return counts, nil
}

func (s *Store) Count(_ context.Context, filter domain.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailQuery != nil {
		return 0, s.FailQuery
	}
	n := 0
	for _, l := range s.listings {
		if filter.Matches(l) {
			n++
		}
	}
	return n, nil
}

func (s *Store) RecordRun(_ context.Context, run domain.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *Store) LastRun(_ context.Context) (domain.RunRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return domain.RunRecord{}, false, nil
	}
	return s.runs[len(s.runs)-1], true, nil
}

func (s *Store) GetCursor(_ context.Context, stream string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[stream], nil
}

func (s *Store) UpdateCursor(_ context.Context, stream string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[stream] = cursor
	return nil
}

// clone copies the pointer fields so callers never share state with the store.
func clone(l domain.Listing) domain.Listing {
	if l.LastRenewalAt != nil {
		t := *l.LastRenewalAt
		l.LastRenewalAt = &t
	}
	if l.DeletionScheduledAt != nil {
		t := *l.DeletionScheduledAt
		l.DeletionScheduledAt = &t
	}
	return l
}
