package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/banking-ledger/internal/config"
	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/banking-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/banking-ledger/internal/storage/sqlite"
)

// Open returns the LedgerStore selected by cfg.DB.Driver with its schema in
// place.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (interfaces.LedgerStore, error) {
	switch cfg.DB.Driver {
	case "postgres":
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		log.Info("postgres store ready")
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.DB.DSN, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		log.Warn("using in-memory store, data is lost on exit")
		return memory.NewMemoryLedgerStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}
}
