package recurring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerd/ledgerd/internal/event_bus"
	"github.com/ledgerd/ledgerd/pkg/entry"
	log "github.com/sirupsen/logrus"
)

// Generator is the catch-up engine: it materializes every missed occurrence
// of a recurring parent up to a given day, in order, exactly once.
//
// Runs for the same parent are serialized with an in-process lock; the
// partial unique index on (parent_id, entry_date) guards against duplicate
// inserts from races the lock cannot see (e.g. a second process).
type Generator struct {
	repo entry.Repo
	bus  *event_bus.EventBus

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewGenerator(repo entry.Repo, bus *event_bus.EventBus) *Generator {
	return &Generator{
		repo:  repo,
		bus:   bus,
		locks: make(map[int64]*sync.Mutex),
	}
}

// Run generates all child entries of parent that are due on or before today
// and advances the parent's watermark in a single write afterwards.
//
// The loop stops either when the next candidate date falls after today, or
// when it falls after the recurrence end date - in which case the parent is
// deactivated instead and no entry is generated for the overrun date. The end
// date itself is inclusive: a candidate equal to it is still generated.
//
// A candidate that already exists (duplicate insert from a concurrent run) is
// skipped and the loop continues. Any other storage failure aborts the run
// with the watermark un-advanced, so the next run retries the same candidates.
// Calling Run when nothing is due returns a zero Result and touches nothing.
func (g *Generator) Run(ctx context.Context, parent entry.Entry, today time.Time) (entry.GenerationResult, error) {
	rec := parent.Recurrence
	if rec == nil || parent.ParentID != nil {
		return entry.GenerationResult{}, fmt.Errorf("entry %d is not a recurring parent", parent.ID)
	}

	unlock := g.lockParent(parent.ID)
	defer unlock()

	result := entry.GenerationResult{}
	if !rec.Active {
		return result, nil
	}

	seed := rec.Seed(parent.Date)
	for {
		candidate := Next(seed, rec.Frequency)
		if candidate.After(today) {
			break
		}
		if !rec.EndDate.IsZero() && candidate.After(rec.EndDate) {
			if err := g.deactivate(ctx, parent); err != nil {
				return result, err
			}
			result.Deactivated = true
			break
		}

		child := parent.ChildFor(candidate)
		child.UID = uuid.NewString()
		id, err := g.repo.Store(ctx, child)
		switch {
		case errors.Is(err, entry.ErrDuplicateChildDate):
			// A concurrent run got there first; the occurrence exists, so
			// just move the local watermark past it.
			log.Debugf("child of parent %d for %s already generated, skipping",
				parent.ID, candidate.Format("2006-01-02"))
		case err != nil:
			return result, fmt.Errorf("could not create child entry of parent %d for %s: %w",
				parent.ID, candidate.Format("2006-01-02"), err)
		default:
			result.Generated++
			child.ID = id
			log.Infof("generated child %s for recurring parent %d with date %s",
				parent.Kind, parent.ID, candidate.Format("2006-01-02"))
			g.publish(ctx, event_bus.EventChildGenerated, event_bus.ChildGenerated{
				ParentID: parent.ID,
				ChildID:  id,
				Kind:     string(parent.Kind),
				Date:     candidate,
			})
		}

		seed = candidate
	}

	if result.Generated > 0 {
		result.Watermark = seed
		if _, err := g.repo.UpdateRecurrenceState(ctx, parent.ID, entry.RecurrenceStateUpdate{
			LastGeneratedAt: &seed,
		}); err != nil {
			return result, fmt.Errorf("could not advance watermark of parent %d: %w", parent.ID, err)
		}
	}

	return result, nil
}

func (g *Generator) deactivate(ctx context.Context, parent entry.Entry) error {
	active := false
	if _, err := g.repo.UpdateRecurrenceState(ctx, parent.ID, entry.RecurrenceStateUpdate{
		Active: &active,
	}); err != nil {
		return fmt.Errorf("could not deactivate recurring parent %d: %w", parent.ID, err)
	}
	log.Infof("recurring %s %d reached its end date and was deactivated", parent.Kind, parent.ID)
	g.publish(ctx, event_bus.EventRecurrenceEnded, event_bus.RecurrenceEnded{
		ParentID: parent.ID,
		Kind:     string(parent.Kind),
		EndDate:  parent.Recurrence.EndDate,
	})
	return nil
}

func (g *Generator) publish(ctx context.Context, eventType event_bus.EventType, data any) {
	if g.bus == nil {
		return
	}
	if err := g.bus.Publish(event_bus.NewEvent(ctx, eventType, data)); err != nil {
		log.Warnf("could not publish %s event: %v", eventType, err)
	}
}

// lockParent serializes catch-up runs per parent. Locks are never released
// from the map; the set is bounded by the number of recurring parents.
func (g *Generator) lockParent(id int64) func() {
	g.mu.Lock()
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}
