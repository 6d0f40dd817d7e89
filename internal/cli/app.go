// internal/cli/app.go
package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"nutrivision/internal/analysis"
	"nutrivision/internal/config"
	"nutrivision/internal/diagnostics"
	"nutrivision/internal/imaging"
	"nutrivision/internal/llm"
	"nutrivision/internal/notify"
	"nutrivision/internal/session"
	"nutrivision/internal/storage"
	"nutrivision/internal/tracker"
)

// App is every long-lived component built from one configuration.
type App struct {
	Config      *config.Config
	Logger      *log.Logger
	Store       storage.Store
	Model       llm.Model
	Hub         *notify.Hub
	Toaster     *notify.Toaster
	Tracker     *tracker.Tracker
	Machine     *session.Machine
	Analyzer    *analysis.Client
	Camera      *imaging.Camera
	Diagnostics *diagnostics.Runner
}

// NewApp opens the store and wires the components. A model that cannot be
// built is logged and left nil so that commands not needing it still work.
func NewApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}

	if err := ensureStorageDir(cfg.Storage); err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	model, err := llm.New(ctx, llm.Config{
		Provider:  cfg.Model.Provider,
		Model:     cfg.Model.Name,
		APIKey:    cfg.Model.APIKey,
		OllamaURL: cfg.Model.OllamaURL,
		BaseURL:   cfg.Model.BaseURL,
	})
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			logger.Printf("Warning: no API key configured; analysis and chat are unavailable")
		} else {
			logger.Printf("Warning: failed to create model client: %v", err)
		}
		model = nil
	}

	hub := notify.NewHub(logger)
	toaster := notify.NewToaster(hub, cfg.ToastDuration)
	tr := tracker.New(storage.NewRecords(store, logger), logger, tracker.Options{
		Notifier:     hub,
		Toaster:      toaster,
		Model:        model,
		PhaseTimeout: cfg.Agent.PhaseTimeout,
		Location:     cfg.Location(),
	})
	machine := session.NewMachine(session.Options{
		TickInterval: cfg.Session.TickInterval,
		FinishDelay:  cfg.Session.FinishDelay,
	})

	var camera *imaging.Camera
	var device imaging.Device
	if cfg.Camera.SnapshotURL != "" {
		device = imaging.NewSnapshotDevice(cfg.Camera.SnapshotURL)
		camera = imaging.NewCamera(device, imaging.Facing(cfg.Camera.Facing))
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Model:    model,
		Hub:      hub,
		Toaster:  toaster,
		Tracker:  tr,
		Machine:  machine,
		Analyzer: analysis.NewClient(model, cfg.Location(), logger),
		Camera:   camera,
	}
	app.Diagnostics = diagnostics.NewRunner(diagnostics.Deps{
		Store:   store,
		Model:   model,
		Camera:  device,
		Tracker: tr,
		Machine: machine,
		Logger:  logger,
	})
	return app, nil
}

func ensureStorageDir(s config.StorageConfig) error {
	if s.Path == "" || s.Path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(s.Path)
	if s.Driver == storage.DriverBadger {
		dir = s.Path
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}

// Close releases the camera, reminders and the store.
func (a *App) Close() {
	if a.Camera != nil {
		a.Camera.Close()
	}
	a.Machine.Close()
	a.Tracker.Close()
	a.Hub.Close()
	if err := a.Store.Close(); err != nil {
		a.Logger.Printf("Error closing storage: %v", err)
	}
}
