package entry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerd/ledgerd/internal/utils"
	"github.com/ledgerd/ledgerd/pkg/user"
	log "github.com/sirupsen/logrus"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrNotRecurring  = errors.New("entry is not recurring")
	// ErrGenerationFailed marks a catch-up failure after a successful save.
	// The entry itself was stored; the periodic sweep retries the generation.
	ErrGenerationFailed = errors.New("recurring generation failed")
)

// GenerationResult summarizes one catch-up run over a recurring parent.
type GenerationResult struct {
	Generated   int
	Watermark   time.Time
	Deactivated bool
}

// CatchUpRunner is implemented by the recurring generation engine.
type CatchUpRunner interface {
	Run(ctx context.Context, parent Entry, today time.Time) (GenerationResult, error)
}

type Service interface {
	// Create stores a new entry. For a recurring parent it immediately runs
	// catch-up generation; a generation failure is returned wrapped in
	// ErrGenerationFailed but never prevents the entry from being saved.
	Create(ctx context.Context, e Entry) (Entry, GenerationResult, error)
	Update(ctx context.Context, e Entry) (Entry, GenerationResult, error)
	Get(ctx context.Context, id int64) (Entry, error)
	List(ctx context.Context, kind Kind) ([]Entry, error)
	Delete(ctx context.Context, id int64) error
	// CancelRecurrence deactivates a recurring parent without generating
	// anything. Given a child, the parent is resolved through its ParentID.
	CancelRecurrence(ctx context.Context, id int64) (Entry, error)
}

type ServiceImpl struct {
	repo      Repo
	generator CatchUpRunner
	clock     utils.Clock
}

func NewService(repo Repo, generator CatchUpRunner, clock utils.Clock) *ServiceImpl {
	return &ServiceImpl{repo: repo, generator: generator, clock: clock}
}

func (s *ServiceImpl) Create(ctx context.Context, e Entry) (Entry, GenerationResult, error) {
	userID, err := user.CurrentId(ctx)
	if err != nil {
		return Entry{}, GenerationResult{}, fmt.Errorf("failed to get current user: %w", err)
	}
	e.UserID = userID
	e.ParentID = nil
	normalizeRecurrence(&e)
	if err := e.Validate(); err != nil {
		return Entry{}, GenerationResult{}, err
	}

	e.UID = uuid.NewString()
	id, err := s.repo.Store(ctx, e)
	if err != nil {
		return Entry{}, GenerationResult{}, err
	}
	e.ID = id

	return s.catchUp(ctx, e)
}

func (s *ServiceImpl) Update(ctx context.Context, e Entry) (Entry, GenerationResult, error) {
	userID, err := user.CurrentId(ctx)
	if err != nil {
		return Entry{}, GenerationResult{}, fmt.Errorf("failed to get current user: %w", err)
	}
	existing, err := s.repo.FindByID(ctx, userID, e.ID)
	if err != nil {
		return Entry{}, GenerationResult{}, err
	}
	if existing == nil {
		return Entry{}, GenerationResult{}, ErrEntryNotFound
	}
	if existing.IsChild() && e.Recurrence != nil {
		return Entry{}, GenerationResult{}, fmt.Errorf("a generated entry cannot be made recurring")
	}

	e.UserID = userID
	e.UID = existing.UID
	e.Kind = existing.Kind
	e.ParentID = existing.ParentID
	if e.Recurrence != nil {
		if existing.Recurrence != nil {
			// Keep the schedule state; only frequency and end date are
			// editable. Deactivated recurrences stay deactivated.
			e.Recurrence.Active = existing.Recurrence.Active
			e.Recurrence.LastGeneratedAt = existing.Recurrence.LastGeneratedAt
		} else {
			// Newly switched to recurring: the entry's own date seeds the
			// watermark, same as on creation.
			e.Recurrence.Active = true
			e.Recurrence.LastGeneratedAt = e.Date
		}
	}
	normalizeRecurrence(&e)
	if err := e.Validate(); err != nil {
		return Entry{}, GenerationResult{}, err
	}

	updated, err := s.repo.Update(ctx, userID, e)
	if err != nil {
		return Entry{}, GenerationResult{}, err
	}
	if !updated {
		log.Warnf("entry not updated, probably because it does not exist (%d) or the user (%d) is not the owner", e.ID, userID)
		return Entry{}, GenerationResult{}, ErrEntryNotFound
	}

	return s.catchUp(ctx, e)
}

// catchUp runs immediate generation for recurring parents after a save.
func (s *ServiceImpl) catchUp(ctx context.Context, e Entry) (Entry, GenerationResult, error) {
	if !e.IsRecurringParent() || !e.Recurrence.Active {
		return e, GenerationResult{}, nil
	}
	result, err := s.generator.Run(ctx, e, utils.Today(s.clock))
	if err != nil {
		log.Warnf("entry %d saved but catch-up generation failed: %v", e.ID, err)
		return e, result, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if !result.Watermark.IsZero() {
		e.Recurrence.LastGeneratedAt = result.Watermark
	}
	if result.Deactivated {
		e.Recurrence.Active = false
	}
	return e, result, nil
}

func (s *ServiceImpl) Get(ctx context.Context, id int64) (Entry, error) {
	userID, err := user.CurrentId(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get current user: %w", err)
	}
	e, err := s.repo.FindByID(ctx, userID, id)
	if err != nil {
		return Entry{}, err
	}
	if e == nil {
		return Entry{}, ErrEntryNotFound
	}
	return *e, nil
}

func (s *ServiceImpl) List(ctx context.Context, kind Kind) ([]Entry, error) {
	userID, err := user.CurrentId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.FindAll(ctx, userID, kind)
}

func (s *ServiceImpl) Delete(ctx context.Context, id int64) error {
	userID, err := user.CurrentId(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	deleted, err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if !deleted {
		log.Warnf("entry not deleted, probably because it does not exist (%d) or the user (%d) is not the owner", id, userID)
		return ErrEntryNotFound
	}
	return nil
}

func (s *ServiceImpl) CancelRecurrence(ctx context.Context, id int64) (Entry, error) {
	userID, err := user.CurrentId(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get current user: %w", err)
	}
	e, err := s.repo.FindByID(ctx, userID, id)
	if err != nil {
		return Entry{}, err
	}
	if e == nil {
		return Entry{}, ErrEntryNotFound
	}
	parent := e
	if e.IsChild() {
		parent, err = s.repo.FindByID(ctx, userID, *e.ParentID)
		if err != nil {
			return Entry{}, err
		}
		if parent == nil {
			return Entry{}, ErrEntryNotFound
		}
	}
	if !parent.IsRecurringParent() {
		return Entry{}, ErrNotRecurring
	}

	active := false
	updated, err := s.repo.UpdateRecurrenceState(ctx, parent.ID, RecurrenceStateUpdate{Active: &active})
	if err != nil {
		return Entry{}, err
	}
	if !updated {
		return Entry{}, ErrEntryNotFound
	}
	log.Infof("recurring %s %d cancelled by user %d", parent.Kind, parent.ID, userID)
	parent.Recurrence.Active = false
	return *parent, nil
}

// normalizeRecurrence applies the creation-time rules: a fresh recurring
// parent starts active with its own date as the watermark seed, and a
// non-recurring entry carries no recurrence fields at all.
func normalizeRecurrence(e *Entry) {
	if e.Recurrence == nil {
		return
	}
	if e.Recurrence.LastGeneratedAt.IsZero() {
		e.Recurrence.LastGeneratedAt = e.Date
		e.Recurrence.Active = true
	}
}
