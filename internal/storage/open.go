package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"linkblocksbot/internal/config"
)

// Open builds the repository selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (Repository, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		repo, err := OpenPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseKey, logger)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	case config.BackendBadger:
		repo, err := NewBadgerRepository(cfg.BadgerDBPath, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
