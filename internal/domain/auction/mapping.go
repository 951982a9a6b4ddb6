package auction

// BidsMapping assigns each bidder id a small positive integer used for the
// public labels. The mapping is append-only for the lifetime of an auction.
type BidsMapping map[string]int

// Assign extends the mapping with every bidder not yet mapped. A bidNumber
// already present on the external bid is honoured; otherwise the smallest
// positive integer not yet in use is taken. Assigned numbers are written
// back onto the bidders slice.
func (m BidsMapping) Assign(bidders []Bidder) {
	used := make(map[int]bool)
	for _, b := range bidders {
		if b.BidNumber != nil {
			used[*b.BidNumber] = true
		}
	}
	for n := range m {
		used[m[n]] = true
	}

	for i := range bidders {
		if n, ok := m[bidders[i].ID]; ok {
			assigned := n
			bidders[i].BidNumber = &assigned
			continue
		}
		number := generateBidNumber(used, bidders[i].BidNumber)
		m[bidders[i].ID] = number
		bidders[i].BidNumber = &number
		used[number] = true
	}
}

func generateBidNumber(used map[int]bool, explicit *int) int {
	if explicit != nil {
		return *explicit
	}
	for number := 1; ; number++ {
		if !used[number] {
			return number
		}
	}
}
