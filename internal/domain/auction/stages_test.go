package auction

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBidFloor(t *testing.T) {
	tests := []struct {
		name  string
		value string
		step  string
		want  string
	}{
		{"whole amounts", "35000", "1000", "36000"},
		{"cents kept", "100.25", "10.10", "110.35"},
		{"bankers rounding down", "100.004", "0.001", "100"},
		{"bankers rounding to even", "100.005", "0.02", "100.02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value := decimal.RequireFromString(tt.value)
			step := decimal.RequireFromString(tt.step)
			assert.True(t, NextBidFloor(value, step).Equal(decimal.RequireFromString(tt.want)),
				"got %s", NextBidFloor(value, step))
		})
	}
}

func TestPrepareAuctionStages(t *testing.T) {
	start := time.Date(2019, 1, 10, 11, 0, 0, 0, time.UTC)
	value := decimal.NewFromInt(35000)
	step := decimal.NewFromInt(1000)

	t.Run("no deadline", func(t *testing.T) {
		pause, mainRound := PrepareAuctionStages(start, value, step, time.Time{}, false)

		assert.Equal(t, StagePause, pause.Kind)
		assert.Equal(t, start, pause.Start)

		require.NotNil(t, mainRound)
		assert.Equal(t, StageMainRound, mainRound.Kind)
		assert.Equal(t, start.Add(PauseDuration), mainRound.Start)
		assert.Equal(t, start.Add(PauseDuration+RoundDuration), mainRound.PlannedEnd)
		assert.True(t, mainRound.Amount.Equal(decimal.NewFromInt(36000)))
	})

	t.Run("deadline truncates round", func(t *testing.T) {
		deadline := start.Add(PauseDuration + 2*time.Minute)
		_, mainRound := PrepareAuctionStages(start, value, step, deadline, false)

		require.NotNil(t, mainRound)
		assert.Equal(t, deadline, mainRound.PlannedEnd)
	})

	t.Run("no round past deadline", func(t *testing.T) {
		deadline := start.Add(PauseDuration)
		pause, mainRound := PrepareAuctionStages(start, value, step, deadline, false)

		assert.Equal(t, StagePause, pause.Kind)
		assert.Nil(t, mainRound)
	})

	t.Run("fast forward timings", func(t *testing.T) {
		_, mainRound := PrepareAuctionStages(start, value, step, time.Time{}, true)

		require.NotNil(t, mainRound)
		assert.Equal(t, start.Add(FastPauseDuration), mainRound.Start)
		assert.Equal(t, start.Add(FastPauseDuration+FastRoundDuration), mainRound.PlannedEnd)
	})
}

func TestRoundEndingTime(t *testing.T) {
	start := time.Date(2019, 1, 10, 17, 58, 0, 0, time.UTC)

	t.Run("no deadline", func(t *testing.T) {
		assert.Equal(t, start.Add(RoundDuration), RoundEndingTime(start, RoundDuration, time.Time{}))
	})

	t.Run("capped at deadline", func(t *testing.T) {
		deadline := time.Date(2019, 1, 10, 18, 0, 0, 0, time.UTC)
		assert.Equal(t, deadline, RoundEndingTime(start, RoundDuration, deadline))
	})
}

func TestSetSpecificTime(t *testing.T) {
	kyiv := time.FixedZone("EET", 2*60*60)
	date := time.Date(2019, 1, 10, 3, 30, 45, 123, kyiv)

	t.Run("plain", func(t *testing.T) {
		got := SetSpecificTime(date, 18, 0, 0)
		assert.Equal(t, time.Date(2019, 1, 10, 18, 0, 0, 0, kyiv), got)
	})

	t.Run("second overflow carries", func(t *testing.T) {
		got := SetSpecificTime(date, 10, 59, 120)
		assert.Equal(t, time.Date(2019, 1, 10, 11, 1, 0, 0, kyiv), got)
	})

	t.Run("hour wraps", func(t *testing.T) {
		got := SetSpecificTime(date, 25, 0, 0)
		assert.Equal(t, time.Date(2019, 1, 10, 1, 0, 0, 0, kyiv), got)
	})
}

func TestDeadlines(t *testing.T) {
	start := time.Date(2019, 1, 10, 11, 0, 0, 0, time.UTC)

	t.Run("absolute", func(t *testing.T) {
		got := AbsoluteDeadline(start, TimeOfDay{Hour: 18})
		assert.Equal(t, time.Date(2019, 1, 10, 18, 0, 0, 0, time.UTC), got)
	})

	t.Run("relative", func(t *testing.T) {
		got := RelativeDeadline(start, SandboxAuctionDuration)
		assert.Equal(t, start.Add(SandboxAuctionDuration), got)
	})
}
