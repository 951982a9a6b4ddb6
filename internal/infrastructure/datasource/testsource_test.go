package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTestSourceRebasesStartDate(t *testing.T) {
	source, err := NewTestSource("doc-1", zap.NewNop())
	require.NoError(t, err)

	data, err := source.GetData(context.Background(), false, true)
	require.NoError(t, err)
	require.NotNil(t, data)

	assert.Equal(t, "doc-1", data.Data.AuctionID)
	until := time.Until(data.StartDate())
	assert.Greater(t, until, time.Minute)
	assert.LessOrEqual(t, until, testStartDelay)
	assert.Len(t, data.Data.Bids, 2)
}

func TestTestSourceReturnsCopies(t *testing.T) {
	source, err := NewTestSource("doc-1", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	first, err := source.GetData(ctx, false, true)
	require.NoError(t, err)
	first.Data.Title = "mutated"

	second, err := source.GetData(ctx, false, true)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", second.Data.Title)
}
