package app

import (
	"database/sql"

	"github.com/ledgerd/ledgerd/internal/config"
	"github.com/ledgerd/ledgerd/internal/event_bus"
	"github.com/ledgerd/ledgerd/internal/utils"
	"github.com/ledgerd/ledgerd/pkg/entry"
	"github.com/ledgerd/ledgerd/pkg/recurring"
	log "github.com/sirupsen/logrus"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Bus   *event_bus.EventBus
	Clock utils.Clock

	EntryRepo    entry.Repo
	EntryService *entry.ServiceImpl
	EntryHandler *entry.Handler

	Generator    *recurring.Generator
	Sweeper      *recurring.Sweeper
	SweepHandler *recurring.SweepHandler
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(db *sql.DB, cfg config.Application) *Dependencies {
	deps := &Dependencies{}

	deps.Bus = event_bus.NewEventBus()
	deps.Clock = &utils.SystemClock{}

	deps.EntryRepo = entry.NewRepo(db)
	deps.Generator = recurring.NewGenerator(deps.EntryRepo, deps.Bus)
	deps.EntryService = entry.NewService(deps.EntryRepo, deps.Generator, deps.Clock)
	deps.EntryHandler = entry.NewHandler(deps.EntryService)

	deps.Sweeper = recurring.NewSweeper(deps.EntryRepo, deps.Generator, deps.Clock, cfg.Recurring.SweepWorkers)
	deps.SweepHandler = recurring.NewSweepHandler(deps.Sweeper)

	subscribeListeners(deps.Bus)

	return deps
}

// subscribeListeners attaches the application-level listeners to the bus.
// The generation engine publishes; anything that wants to react (reporting,
// notifications) subscribes here.
func subscribeListeners(bus *event_bus.EventBus) {
	bus.Subscribe(event_bus.EventChildGenerated, func(e event_bus.Event) error {
		if data, ok := e.Data.(event_bus.ChildGenerated); ok {
			log.Debugf("%s entry %d generated from parent %d for %s",
				data.Kind, data.ChildID, data.ParentID, data.Date.Format("2006-01-02"))
		}
		return nil
	})
	bus.Subscribe(event_bus.EventRecurrenceEnded, func(e event_bus.Event) error {
		if data, ok := e.Data.(event_bus.RecurrenceEnded); ok {
			log.Debugf("recurring %s %d ended on %s",
				data.Kind, data.ParentID, data.EndDate.Format("2006-01-02"))
		}
		return nil
	})
}
