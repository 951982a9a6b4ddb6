// Package store persists the auction document with optimistic revision
// tracking. The worker is the single writer per auction; a revision mismatch
// therefore means an out-of-band write and is resolved by refreshing the
// revision from the stored copy and retrying, up to a bounded number of
// attempts.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
	"github.com/openauction/texas-worker/internal/metrics"
)

// saveRetries bounds revision-refresh retry loops on Save.
const saveRetries = 10

// Store loads and saves auction documents.
type Store interface {
	// Get returns the stored document, or nil when the id is unknown.
	Get(ctx context.Context, id string) (*auction.Document, error)
	// Save writes the document under id and updates doc.Rev to the new
	// revision.
	Save(ctx context.Context, doc *auction.Document, id string) error
}

// Prepare builds the store variant selected by the configuration.
func Prepare(cfg *config.DatabaseConfig, logger *zap.Logger, reg *metrics.Registry) (Store, error) {
	switch cfg.Type {
	case "redis":
		return NewRedisStore(&cfg.Redis, logger, reg)
	case "memory":
		return NewMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
