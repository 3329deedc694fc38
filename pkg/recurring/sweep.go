package recurring

import (
	"context"
	"fmt"
	"sync"

	"github.com/ledgerd/ledgerd/internal/utils"
	"github.com/ledgerd/ledgerd/pkg/entry"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SweepStats summarizes one sweep over all active recurring parents.
type SweepStats struct {
	Parents     int `json:"parents"`
	Due         int `json:"due"`
	Generated   int `json:"generated"`
	Deactivated int `json:"deactivated"`
	Failed      int `json:"failed"`
}

// Sweeper runs the catch-up generator over every active recurring parent.
// It is idempotent at any cadence: a sweep that finds nothing due changes
// nothing, and missed sweeps are made up for by catch-up generation.
type Sweeper struct {
	repo      entry.Repo
	generator *Generator
	clock     utils.Clock
	workers   int
}

func NewSweeper(repo entry.Repo, generator *Generator, clock utils.Clock, workers int) *Sweeper {
	if workers < 1 {
		workers = 1
	}
	return &Sweeper{repo: repo, generator: generator, clock: clock, workers: workers}
}

// RunAll sweeps all active recurring parents, processing independent parents
// in parallel up to the worker limit. One parent's generation failure is
// logged and counted but does not stop the sweep; the next sweep retries it.
// Context cancellation stops the sweep between parents, never mid-parent.
func (s *Sweeper) RunAll(ctx context.Context) (SweepStats, error) {
	today := utils.Today(s.clock)

	parents, err := s.repo.FindActiveRecurringParents(ctx)
	if err != nil {
		return SweepStats{}, fmt.Errorf("could not list active recurring parents: %w", err)
	}
	log.Debugf("recurring sweep started: %d active parent(s), today is %s",
		len(parents), today.Format("2006-01-02"))

	var (
		mu    sync.Mutex
		stats = SweepStats{Parents: len(parents)}
	)
	group := new(errgroup.Group)
	group.SetLimit(s.workers)

	for _, parent := range parents {
		if ctx.Err() != nil {
			log.Warnf("recurring sweep interrupted: %v", ctx.Err())
			break
		}
		group.Go(func() error {
			if !IsDue(parent, today) {
				return nil
			}
			mu.Lock()
			stats.Due++
			mu.Unlock()

			result, err := s.generator.Run(ctx, parent, today)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				log.Errorf("catch-up run failed for parent %d: %v", parent.ID, err)
				return nil
			}
			stats.Generated += result.Generated
			if result.Deactivated {
				stats.Deactivated++
			}
			return nil
		})
	}
	_ = group.Wait()

	log.Infof("recurring sweep complete: %d parent(s) checked, %d due, %d generated, %d deactivated, %d failed",
		stats.Parents, stats.Due, stats.Generated, stats.Deactivated, stats.Failed)
	return stats, nil
}
