package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/domain/errors"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
	"github.com/openauction/texas-worker/internal/metrics"
)

// redisStore keeps one JSON document per auction id. The revision is an
// integer counter embedded in the document's _rev field; Save performs a
// WATCH-guarded compare-and-increment.
type redisStore struct {
	client  *redis.Client
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg *config.RedisConfig, logger *zap.Logger, reg *metrics.Registry) (Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("document store initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB))

	if reg == nil {
		reg = metrics.NewNopRegistry()
	}
	return &redisStore{client: client, logger: logger, metrics: reg}, nil
}

func docKey(id string) string { return "auction:" + id }

func (s *redisStore) Get(ctx context.Context, id string) (*auction.Document, error) {
	raw, err := s.client.Get(ctx, docKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("get document failed", zap.String("auction_id", id), zap.Error(err))
		return nil, errors.NewExternalError("store", "get document").WithCause(err)
	}

	doc := &auction.Document{}
	if err := json.Unmarshal([]byte(raw), doc); err != nil {
		return nil, errors.NewInternalError("stored document is not valid JSON").WithCause(err)
	}
	s.logger.Info("got auction document",
		zap.String("auction_id", id),
		zap.String("rev", doc.Rev))
	return doc, nil
}

func (s *redisStore) Save(ctx context.Context, doc *auction.Document, id string) error {
	key := docKey(id)

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			storedRev := ""
			raw, err := tx.Get(ctx, key).Result()
			switch {
			case err == redis.Nil:
			case err != nil:
				return err
			default:
				stored := &auction.Document{}
				if err := json.Unmarshal([]byte(raw), stored); err != nil {
					return err
				}
				storedRev = stored.Rev
			}

			if storedRev != doc.Rev {
				// Out-of-band write: adopt the stored revision and
				// retry, last writer wins.
				doc.Rev = storedRev
				return errors.ErrStoreConflict
			}

			doc.Rev = nextRev(doc.Rev)
			payload, err := json.Marshal(doc)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				return nil
			})
			return err
		}, key)

		if err == nil {
			s.logger.Info("saved auction document",
				zap.String("auction_id", id),
				zap.String("rev", doc.Rev))
			return nil
		}
		lastErr = err
		s.metrics.StoreSaveRetries.Inc()
		s.logger.Warn("retrying document save",
			zap.String("auction_id", id),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return errors.NewInternalError("document save retries exhausted").WithCause(lastErr)
}

func nextRev(rev string) string {
	n, err := strconv.Atoi(rev)
	if err != nil {
		n = 0
	}
	return strconv.Itoa(n + 1)
}
