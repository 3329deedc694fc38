package recurring

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ledgerd/ledgerd/internal/utils"
	"github.com/ledgerd/ledgerd/pkg/entry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeParent(t *testing.T, repo *entry.StubRepo, e entry.Entry) entry.Entry {
	t.Helper()
	id, err := repo.Store(context.Background(), e)
	require.NoError(t, err)
	e.ID = id
	return e
}

func fetchParent(t *testing.T, repo *entry.StubRepo, id int64) entry.Entry {
	t.Helper()
	parent, err := repo.FindByID(context.Background(), 1, id)
	require.NoError(t, err)
	require.NotNil(t, parent)
	return *parent
}

func childDates(t *testing.T, repo *entry.StubRepo, parentID int64) []time.Time {
	t.Helper()
	children, err := repo.FindChildren(context.Background(), parentID)
	require.NoError(t, err)
	dates := make([]time.Time, 0, len(children))
	for _, c := range children {
		assert.Nil(t, c.Recurrence, "a generated child must not be recurring")
		assert.Equal(t, parentID, *c.ParentID)
		dates = append(dates, c.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func newTestParent(frequency entry.Frequency, anchor time.Time) entry.Entry {
	categoryID := int64(3)
	return entry.Entry{
		UserID:      1,
		Kind:        entry.KindExpense,
		Date:        anchor,
		Item:        "Gym membership",
		AmountCents: 4999,
		CategoryID:  &categoryID,
		Description: "monthly plan",
		Recurrence: &entry.Recurrence{
			Frequency:       frequency,
			Active:          true,
			LastGeneratedAt: anchor,
		},
	}
}

func TestGeneratorCatchUp(t *testing.T) {
	ctx := context.Background()

	t.Run("generates every missed occurrence up to today", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := storeParent(t, repo, newTestParent(entry.FrequencyMonthly, utils.Date(2024, time.January, 1)))

		result, err := generator.Run(ctx, parent, utils.Date(2024, time.April, 15))
		require.NoError(t, err)

		assert.Equal(t, 3, result.Generated)
		assert.Equal(t, utils.Date(2024, time.April, 1), result.Watermark)
		assert.False(t, result.Deactivated)

		assert.Equal(t, []time.Time{
			utils.Date(2024, time.February, 1),
			utils.Date(2024, time.March, 1),
			utils.Date(2024, time.April, 1),
		}, childDates(t, repo, parent.ID))

		stored := fetchParent(t, repo, parent.ID)
		assert.Equal(t, utils.Date(2024, time.April, 1), stored.Recurrence.LastGeneratedAt)
		assert.True(t, stored.Recurrence.Active)
	})

	t.Run("children copy the parent's domain fields", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := storeParent(t, repo, newTestParent(entry.FrequencyDaily, utils.Date(2024, time.May, 1)))

		_, err := generator.Run(ctx, parent, utils.Date(2024, time.May, 2))
		require.NoError(t, err)

		children, err := repo.FindChildren(ctx, parent.ID)
		require.NoError(t, err)
		require.Len(t, children, 1)
		child := children[0]
		assert.Equal(t, parent.UserID, child.UserID)
		assert.Equal(t, parent.Kind, child.Kind)
		assert.Equal(t, parent.Item, child.Item)
		assert.Equal(t, parent.AmountCents, child.AmountCents)
		assert.Equal(t, *parent.CategoryID, *child.CategoryID)
		assert.Equal(t, parent.Description, child.Description)
		assert.NotEmpty(t, child.UID)
		assert.NotEqual(t, parent.UID, child.UID)
	})

	t.Run("second run on the same day is a no-op", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := storeParent(t, repo, newTestParent(entry.FrequencyMonthly, utils.Date(2024, time.January, 1)))
		today := utils.Date(2024, time.April, 15)

		_, err := generator.Run(ctx, parent, today)
		require.NoError(t, err)

		result, err := generator.Run(ctx, fetchParent(t, repo, parent.ID), today)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Generated)
		assert.True(t, result.Watermark.IsZero())

		stored := fetchParent(t, repo, parent.ID)
		assert.Equal(t, utils.Date(2024, time.April, 1), stored.Recurrence.LastGeneratedAt)
	})

	t.Run("chunked runs produce the same sequence as one big run", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := storeParent(t, repo, newTestParent(entry.FrequencyWeekly, utils.Date(2024, time.January, 1)))

		total := 0
		for _, today := range []time.Time{
			utils.Date(2024, time.January, 10),
			utils.Date(2024, time.January, 10),
			utils.Date(2024, time.January, 25),
			utils.Date(2024, time.February, 7),
		} {
			result, err := generator.Run(ctx, fetchParent(t, repo, parent.ID), today)
			require.NoError(t, err)
			total += result.Generated
		}

		assert.Equal(t, 5, total)
		assert.Equal(t, []time.Time{
			utils.Date(2024, time.January, 8),
			utils.Date(2024, time.January, 15),
			utils.Date(2024, time.January, 22),
			utils.Date(2024, time.January, 29),
			utils.Date(2024, time.February, 5),
		}, childDates(t, repo, parent.ID))
	})

	t.Run("leap year monthly clamp advances from the clamped date", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := storeParent(t, repo, newTestParent(entry.FrequencyMonthly, utils.Date(2024, time.January, 31)))

		result, err := generator.Run(ctx, parent, utils.Date(2024, time.March, 1))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Generated)
		assert.Equal(t, []time.Time{utils.Date(2024, time.February, 29)}, childDates(t, repo, parent.ID))

		result, err = generator.Run(ctx, fetchParent(t, repo, parent.ID), utils.Date(2024, time.March, 29))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Generated)
		assert.Equal(t, []time.Time{
			utils.Date(2024, time.February, 29),
			utils.Date(2024, time.March, 29),
		}, childDates(t, repo, parent.ID))
	})

	t.Run("run before anything is due touches nothing", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := storeParent(t, repo, newTestParent(entry.FrequencyMonthly, utils.Date(2024, time.January, 1)))

		result, err := generator.Run(ctx, parent, utils.Date(2024, time.January, 20))
		require.NoError(t, err)
		assert.Equal(t, 0, result.Generated)
		assert.Empty(t, childDates(t, repo, parent.ID))

		stored := fetchParent(t, repo, parent.ID)
		assert.Equal(t, utils.Date(2024, time.January, 1), stored.Recurrence.LastGeneratedAt)
		assert.True(t, stored.Recurrence.Active)
	})

	t.Run("rejects entries that are not recurring parents", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)

		plain := entry.Entry{ID: 7, UserID: 1, Kind: entry.KindIncome, Date: utils.Date(2024, time.January, 1)}
		_, err := generator.Run(ctx, plain, utils.Date(2024, time.February, 1))
		assert.Error(t, err)
	})
}

func TestGeneratorEndDate(t *testing.T) {
	ctx := context.Background()

	t.Run("end date is inclusive and overrun deactivates", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := newTestParent(entry.FrequencyWeekly, utils.Date(2024, time.January, 1))
		parent.Recurrence.EndDate = utils.Date(2024, time.January, 15)
		parent = storeParent(t, repo, parent)

		result, err := generator.Run(ctx, parent, utils.Date(2024, time.February, 1))
		require.NoError(t, err)

		assert.Equal(t, 2, result.Generated)
		assert.True(t, result.Deactivated)
		assert.Equal(t, []time.Time{
			utils.Date(2024, time.January, 8),
			utils.Date(2024, time.January, 15),
		}, childDates(t, repo, parent.ID))

		stored := fetchParent(t, repo, parent.ID)
		assert.False(t, stored.Recurrence.Active)
		assert.Equal(t, utils.Date(2024, time.January, 15), stored.Recurrence.LastGeneratedAt)
	})

	t.Run("no entry is generated for the overrun date itself", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := newTestParent(entry.FrequencyDaily, utils.Date(2024, time.January, 1))
		parent.Recurrence.EndDate = utils.Date(2024, time.January, 3)
		parent = storeParent(t, repo, parent)

		result, err := generator.Run(ctx, parent, utils.Date(2024, time.January, 10))
		require.NoError(t, err)
		assert.Equal(t, 2, result.Generated)
		assert.Equal(t, []time.Time{
			utils.Date(2024, time.January, 2),
			utils.Date(2024, time.January, 3),
		}, childDates(t, repo, parent.ID))
	})

	t.Run("deactivated parent stays frozen", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := storeParent(t, repo, newTestParent(entry.FrequencyMonthly, utils.Date(2024, time.January, 1)))

		_, err := generator.Run(ctx, parent, utils.Date(2024, time.February, 15))
		require.NoError(t, err)

		active := false
		_, err = repo.UpdateRecurrenceState(ctx, parent.ID, entry.RecurrenceStateUpdate{Active: &active})
		require.NoError(t, err)

		before := fetchParent(t, repo, parent.ID)
		result, err := generator.Run(ctx, before, utils.Date(2024, time.June, 1))
		require.NoError(t, err)
		assert.Equal(t, 0, result.Generated)

		after := fetchParent(t, repo, parent.ID)
		assert.Equal(t, before.Recurrence, after.Recurrence)
		assert.Len(t, childDates(t, repo, parent.ID), 1)
	})
}

func TestGeneratorFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate child insert is skipped, not fatal", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := storeParent(t, repo, newTestParent(entry.FrequencyMonthly, utils.Date(2024, time.January, 1)))

		// A concurrent run already produced the February occurrence.
		child := parent.ChildFor(utils.Date(2024, time.February, 1))
		child.UID = "preexisting"
		_, err := repo.Store(ctx, child)
		require.NoError(t, err)

		result, err := generator.Run(ctx, parent, utils.Date(2024, time.March, 5))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Generated)
		assert.Equal(t, []time.Time{
			utils.Date(2024, time.February, 1),
			utils.Date(2024, time.March, 1),
		}, childDates(t, repo, parent.ID))

		stored := fetchParent(t, repo, parent.ID)
		assert.Equal(t, utils.Date(2024, time.March, 1), stored.Recurrence.LastGeneratedAt)
	})

	t.Run("storage failure aborts the run without advancing the watermark", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := storeParent(t, repo, newTestParent(entry.FrequencyMonthly, utils.Date(2024, time.January, 1)))
		repo.FailStoreAfter = 1

		result, err := generator.Run(ctx, parent, utils.Date(2024, time.April, 15))
		assert.Error(t, err)
		assert.Equal(t, 1, result.Generated)

		// Watermark untouched: the next run retries March and April, and the
		// February duplicate is swallowed.
		stored := fetchParent(t, repo, parent.ID)
		assert.Equal(t, utils.Date(2024, time.January, 1), stored.Recurrence.LastGeneratedAt)

		repo.FailStoreAfter = -1
		retry, err := generator.Run(ctx, stored, utils.Date(2024, time.April, 15))
		require.NoError(t, err)
		assert.Equal(t, 2, retry.Generated)
		assert.Equal(t, []time.Time{
			utils.Date(2024, time.February, 1),
			utils.Date(2024, time.March, 1),
			utils.Date(2024, time.April, 1),
		}, childDates(t, repo, parent.ID))
	})

	t.Run("concurrent runs never double-generate an occurrence", func(t *testing.T) {
		repo := entry.NewStubRepo()
		generator := NewGenerator(repo, nil)
		parent := storeParent(t, repo, newTestParent(entry.FrequencyMonthly, utils.Date(2024, time.January, 1)))
		today := utils.Date(2024, time.April, 15)

		var wg sync.WaitGroup
		results := make([]entry.GenerationResult, 2)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Both runs start from the same stale snapshot, like an edit
				// racing the daily sweep.
				result, err := generator.Run(ctx, parent, today)
				assert.NoError(t, err)
				results[i] = result
			}()
		}
		wg.Wait()

		assert.Equal(t, 3, results[0].Generated+results[1].Generated)
		assert.Equal(t, []time.Time{
			utils.Date(2024, time.February, 1),
			utils.Date(2024, time.March, 1),
			utils.Date(2024, time.April, 1),
		}, childDates(t, repo, parent.ID))
	})
}

// The due check is advisory; a disagreement with the generator would make the
// sweep either skip due parents or run no-op generations forever.
func TestDueCheckerAgreesWithGenerator(t *testing.T) {
	ctx := context.Background()
	anchor := utils.Date(2024, time.January, 1)
	todays := []time.Time{
		utils.Date(2024, time.January, 1),
		utils.Date(2024, time.January, 31),
		utils.Date(2024, time.February, 1),
		utils.Date(2024, time.February, 2),
		utils.Date(2024, time.July, 4),
		utils.Date(2025, time.January, 1),
	}
	frequencies := []entry.Frequency{
		entry.FrequencyDaily,
		entry.FrequencyWeekly,
		entry.FrequencyBiWeekly,
		entry.FrequencyMonthly,
		entry.FrequencyYearly,
	}

	for _, frequency := range frequencies {
		for _, today := range todays {
			repo := entry.NewStubRepo()
			generator := NewGenerator(repo, nil)
			parent := storeParent(t, repo, newTestParent(frequency, anchor))

			due := IsDue(parent, today)
			result, err := generator.Run(ctx, parent, today)
			require.NoError(t, err)

			assert.Equal(t, due, result.Generated > 0,
				"due check and generator disagree for %s on %s", frequency, today.Format("2006-01-02"))
		}
	}
}
