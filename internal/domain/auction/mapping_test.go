package auction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestBidsMappingAssign(t *testing.T) {
	t.Run("sequential numbers", func(t *testing.T) {
		mapping := BidsMapping{}
		bidders := []Bidder{{ID: "a"}, {ID: "b"}, {ID: "c"}}

		mapping.Assign(bidders)

		assert.Equal(t, BidsMapping{"a": 1, "b": 2, "c": 3}, mapping)
		for i, bidder := range bidders {
			require.NotNil(t, bidder.BidNumber)
			assert.Equal(t, i+1, *bidder.BidNumber)
		}
	})

	t.Run("explicit numbers honoured", func(t *testing.T) {
		mapping := BidsMapping{}
		bidders := []Bidder{
			{ID: "a", BidNumber: intPtr(7)},
			{ID: "b"},
		}

		mapping.Assign(bidders)

		assert.Equal(t, 7, mapping["a"])
		assert.Equal(t, 1, mapping["b"])
	})

	t.Run("smallest free number taken", func(t *testing.T) {
		mapping := BidsMapping{}
		bidders := []Bidder{
			{ID: "a", BidNumber: intPtr(1)},
			{ID: "b", BidNumber: intPtr(3)},
			{ID: "c"},
			{ID: "d"},
		}

		mapping.Assign(bidders)

		assert.Equal(t, 2, mapping["c"])
		assert.Equal(t, 4, mapping["d"])
	})

	t.Run("append only across calls", func(t *testing.T) {
		mapping := BidsMapping{}
		mapping.Assign([]Bidder{{ID: "a"}, {ID: "b"}})
		before := BidsMapping{"a": mapping["a"], "b": mapping["b"]}

		mapping.Assign([]Bidder{{ID: "a"}, {ID: "b"}, {ID: "c"}})

		assert.Equal(t, before["a"], mapping["a"])
		assert.Equal(t, before["b"], mapping["b"])
		assert.Equal(t, 3, mapping["c"])
	})

	t.Run("numbers stay unique", func(t *testing.T) {
		mapping := BidsMapping{}
		mapping.Assign([]Bidder{
			{ID: "a", BidNumber: intPtr(2)},
			{ID: "b"},
			{ID: "c"},
		})

		seen := map[int]bool{}
		for _, n := range mapping {
			assert.False(t, seen[n], "number %d assigned twice", n)
			seen[n] = true
		}
	})
}
