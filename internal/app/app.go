package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/ledgerd/ledgerd/internal/config"
	"github.com/ledgerd/ledgerd/internal/database"
	"github.com/ledgerd/ledgerd/internal/scheduler"
	log "github.com/sirupsen/logrus"
)

// Application wires configuration, database, router, scheduler, and server
// lifecycle.
type Application struct {
	cfg       config.Application
	deps      *Dependencies
	router    *mux.Router
	srv       *http.Server
	scheduler *scheduler.Scheduler
}

// NewApplication constructs the full application, ready to Run().
func NewApplication() (*Application, error) {
	cfg, err := config.Load("./config/application.yaml")
	if err != nil {
		return nil, err
	}

	// DB + migrations
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	r := mux.NewRouter()

	// Build dependencies (services, handlers...)
	deps := BuildDependencies(db, cfg)

	// Middleware chain
	SetupMiddleware(r, deps, cfg)

	// Routes
	RegisterRoutes(r, deps, cfg)

	// Daily sweep over recurring parents
	sched := scheduler.New(time.Local)
	if _, err := sched.ScheduleDaily(cfg.Recurring.SweepTime, func() {
		if _, err := deps.Sweeper.RunAll(context.Background()); err != nil {
			log.Errorf("scheduled recurring sweep failed: %v", err)
		}
	}); err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.Addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Application{cfg: cfg, deps: deps, router: r, srv: srv, scheduler: sched}, nil
}

// Run starts the scheduler and the HTTP server and blocks until a shutdown
// signal arrives.
func (a *Application) Run() error {
	a.scheduler.Start()
	defer a.scheduler.Stop()

	if a.cfg.Recurring.SweepOnStartup {
		go func() {
			if _, err := a.deps.Sweeper.RunAll(context.Background()); err != nil {
				log.Errorf("startup recurring sweep failed: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Infof("Shutdown signal received: %s", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.srv.Shutdown(ctx)
}
