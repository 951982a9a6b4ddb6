package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	redisStore, err := NewRedisStore(&config.RedisConfig{URL: mr.Addr()}, zap.NewNop(), nil)
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(zap.NewNop()),
		"redis":  redisStore,
	}
}

func testDoc(id string) *auction.Document {
	return &auction.Document{
		ID:           id,
		AuctionID:    "UA-11111",
		CurrentStage: auction.StagePlanned,
		Value:        auction.Value{Amount: decimal.NewFromInt(35000)},
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			doc, err := s.Get(context.Background(), "unknown")
			require.NoError(t, err)
			assert.Nil(t, doc)
		})
	}
}

func TestSaveAssignsRevisions(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			doc := testDoc("doc-1")

			require.NoError(t, s.Save(ctx, doc, "doc-1"))
			assert.Equal(t, "1", doc.Rev)

			require.NoError(t, s.Save(ctx, doc, "doc-1"))
			assert.Equal(t, "2", doc.Rev)

			stored, err := s.Get(ctx, "doc-1")
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, "2", stored.Rev)
			assert.Equal(t, "UA-11111", stored.AuctionID)
		})
	}
}

func TestSaveRefreshesStaleRevision(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := testDoc("doc-1")
			require.NoError(t, s.Save(ctx, first, "doc-1"))

			// An out-of-band writer bumps the revision.
			outOfBand := first.Clone()
			outOfBand.CurrentStage = 0
			require.NoError(t, s.Save(ctx, outOfBand, "doc-1"))

			// The stale copy still saves: its revision is refreshed from
			// the stored document and the write retried.
			stale := first
			stale.CurrentStage = 1
			require.NoError(t, s.Save(ctx, stale, "doc-1"))
			assert.Equal(t, "3", stale.Rev)

			stored, err := s.Get(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, 1, stored.CurrentStage)
		})
	}
}

func TestPrepare(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		s, err := Prepare(&config.DatabaseConfig{Type: "memory"}, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Prepare(&config.DatabaseConfig{Type: "couch"}, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}
