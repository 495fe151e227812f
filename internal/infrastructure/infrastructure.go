// Package infrastructure provides core service initialization for application startup.
// It assembles the common dependencies domain systems require: logging, database,
// blob storage, and the transaction manager that serializes store access.
package infrastructure

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/JaimeStill/compass/internal/config"
	"github.com/JaimeStill/compass/pkg/database"
	"github.com/JaimeStill/compass/pkg/lifecycle"
	"github.com/JaimeStill/compass/pkg/storage"
	"github.com/JaimeStill/compass/pkg/txn"
)

// Infrastructure holds the core systems required by all domain modules.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Txn       *txn.Manager
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	return &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Database:  db,
		Storage:   store,
		Txn:       txn.New(&cfg.Txn, logger),
	}, nil
}

// Start registers all infrastructure systems with the lifecycle coordinator.
// The transaction manager is closed on shutdown so queued operations fail fast.
func (i *Infrastructure) Start() error {
	if err := i.Database.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("database start failed: %w", err)
	}
	i.Lifecycle.RegisterCheck("database", i.Database)
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}
	if err := i.Txn.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("txn start failed: %w", err)
	}
	return nil
}
