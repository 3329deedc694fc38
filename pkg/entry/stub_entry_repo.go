package entry

import (
	"context"
	"fmt"
	"sync"
)

// StubRepo is an in-memory Repo used by tests. It enforces the same
// (parent, date) uniqueness guarantee as the sqlite schema so generation
// race-safety can be exercised without a database.
type StubRepo struct {
	mu     sync.Mutex
	nextID int64
	data   map[int64]Entry

	// FailStoreAfter aborts child inserts with an error once the given
	// number of child inserts succeeded. Negative means never fail.
	FailStoreAfter int
	childStores    int
}

func NewStubRepo() *StubRepo {
	return &StubRepo{data: map[int64]Entry{}, FailStoreAfter: -1}
}

func (s *StubRepo) Store(ctx context.Context, e Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ParentID != nil {
		if s.FailStoreAfter >= 0 && s.childStores >= s.FailStoreAfter {
			return 0, fmt.Errorf("stub store failure")
		}
		for _, existing := range s.data {
			if existing.ParentID != nil && *existing.ParentID == *e.ParentID && existing.Date.Equal(e.Date) {
				return 0, ErrDuplicateChildDate
			}
		}
		s.childStores++
	}
	s.nextID++
	e.ID = s.nextID
	s.data[e.ID] = e
	return e.ID, nil
}

func (s *StubRepo) FindByID(ctx context.Context, userID int, id int64) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok || e.UserID != userID {
		return nil, nil
	}
	return &e, nil
}

func (s *StubRepo) FindAll(ctx context.Context, userID int, kind Kind) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []Entry
	for _, e := range s.data {
		if e.UserID == userID && e.Kind == kind {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *StubRepo) FindChildren(ctx context.Context, parentID int64) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var children []Entry
	for _, e := range s.data {
		if e.ParentID != nil && *e.ParentID == parentID {
			children = append(children, e)
		}
	}
	return children, nil
}

func (s *StubRepo) FindActiveRecurringParents(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var parents []Entry
	for _, e := range s.data {
		if e.Recurrence != nil && e.Recurrence.Active && e.ParentID == nil {
			parents = append(parents, e)
		}
	}
	return parents, nil
}

func (s *StubRepo) UpdateRecurrenceState(ctx context.Context, id int64, update RecurrenceStateUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok || e.Recurrence == nil || e.ParentID != nil {
		return false, nil
	}
	rec := *e.Recurrence
	if update.LastGeneratedAt != nil && update.LastGeneratedAt.After(rec.LastGeneratedAt) {
		rec.LastGeneratedAt = *update.LastGeneratedAt
	}
	if update.Active != nil {
		rec.Active = *update.Active
	}
	e.Recurrence = &rec
	s.data[id] = e
	return true, nil
}

func (s *StubRepo) Update(ctx context.Context, userID int, e Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.data[e.ID]
	if !ok || existing.UserID != userID {
		return false, nil
	}
	s.data[e.ID] = e
	return true, nil
}

func (s *StubRepo) Delete(ctx context.Context, userID int, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok || e.UserID != userID {
		return false, nil
	}
	delete(s.data, id)
	return true, nil
}

func (s *StubRepo) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[int64]Entry{}
	s.childStores = 0
}
