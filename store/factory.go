package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/config"
	"github.com/luminetic/ensemble/internal/metrics"
	"github.com/luminetic/ensemble/types"
)

// Open builds the Store selected by cfg.Driver. An empty driver falls back
// to the in-memory store.
func Open(cfg config.StoreConfig, logger *zap.Logger, collector *metrics.Collector) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite", "mysql", "postgres":
		return OpenGorm(cfg, logger, collector)
	default:
		return nil, types.NewValidationError(fmt.Sprintf("unsupported store driver %q", cfg.Driver))
	}
}
