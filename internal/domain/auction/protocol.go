package auction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Protocol is the audit trail of one auction, uploaded to the datasource on
// completion as a YAML document.
type Protocol struct {
	ID        string                   `yaml:"id" json:"id"`
	AuctionID string                   `yaml:"auctionId" json:"auctionId"`
	Items     []map[string]interface{} `yaml:"items" json:"items"`
	Timeline  map[string]interface{}   `yaml:"timeline" json:"timeline"`
}

// NewProtocol initialises an empty protocol with an auction_start block.
func NewProtocol(docID, auctionID string, items []map[string]interface{}) *Protocol {
	return &Protocol{
		ID:        docID,
		AuctionID: auctionID,
		Items:     items,
		Timeline: map[string]interface{}{
			"auction_start": map[string]interface{}{
				"initial_bids": []interface{}{},
			},
		},
	}
}

func (p *Protocol) auctionStart() map[string]interface{} {
	start, _ := p.Timeline["auction_start"].(map[string]interface{})
	if start == nil {
		start = map[string]interface{}{"initial_bids": []interface{}{}}
		p.Timeline["auction_start"] = start
	}
	return start
}

// SetAuctionStartTime stamps the moment the initial pause ended.
func (p *Protocol) SetAuctionStartTime(t time.Time) {
	p.auctionStart()["time"] = t.Format(time.RFC3339)
}

// AddInitialBid appends one starting bid record to the auction_start block.
func (p *Protocol) AddInitialBid(bidderID string, date time.Time, amount decimal.Decimal, bidNumber int) {
	start := p.auctionStart()
	bids, _ := start["initial_bids"].([]interface{})
	start["initial_bids"] = append(bids, map[string]interface{}{
		"bidder":     bidderID,
		"date":       date.Format(time.RFC3339),
		"amount":     amount.InexactFloat64(),
		"bid_number": bidNumber,
	})
}

// ResetInitialBids drops previously recorded starting bids, used when the
// announcement rebuilds them with disclosed identities.
func (p *Protocol) ResetInitialBids() {
	p.auctionStart()["initial_bids"] = []interface{}{}
}

func bidResult(stage Stage) map[string]interface{} {
	return map[string]interface{}{
		"bidder": stage.BidderID,
		"amount": stage.Amount.InexactFloat64(),
		"time":   stage.Time.Format(time.RFC3339),
	}
}

// ApproveStages records a stage_N entry for every planned stage: pauses get
// their start/end interval, main rounds their accepted bid (or an empty bids
// block when no bid arrived).
func (p *Protocol) ApproveStages(doc *Document) {
	for i, stage := range doc.Stages {
		key := fmt.Sprintf("stage_%d", i)
		switch stage.Kind {
		case StagePause:
			pause := map[string]interface{}{"start": stage.Start.Format(time.RFC3339)}
			if i+1 < len(doc.Stages) {
				pause["end"] = doc.Stages[i+1].Start.Format(time.RFC3339)
			}
			p.Timeline[key] = map[string]interface{}{"pause": pause}
		case StageMainRound:
			if stage.Time.IsZero() {
				p.Timeline[key] = map[string]interface{}{"bids": map[string]interface{}{}}
			} else {
				p.Timeline[key] = map[string]interface{}{"bids": bidResult(stage)}
			}
		}
	}
}

// ApproveOnBidStage records the round_N summary for the just-closed round.
func (p *Protocol) ApproveOnBidStage(doc *Document) {
	current := doc.CurrentStage
	if current < 0 || current >= len(doc.Stages) {
		return
	}
	roundNumber := current/2 + 1
	p.Timeline[fmt.Sprintf("round_%d", roundNumber)] = bidResult(doc.Stages[current])
}

// ApproveOnAnnouncement writes the final results block. With disclosed
// bidder identities it also rebuilds the starting bids and enriches every
// result with bid_number, identification and owner.
func (p *Protocol) ApproveOnAnnouncement(doc *Document, approved map[string]ApprovedBidder, now time.Time) {
	results := map[string]interface{}{
		"time": now.Format(time.RFC3339),
		"bids": []interface{}{},
	}
	p.Timeline["results"] = results

	if approved != nil {
		p.ResetInitialBids()
		for _, bid := range doc.InitialBids {
			info := approved[bid.BidderID]
			p.auctionStart()["initial_bids"] = append(
				p.auctionStart()["initial_bids"].([]interface{}),
				map[string]interface{}{
					"bidder":         bid.BidderID,
					"date":           bid.Time.Format(time.RFC3339),
					"amount":         bid.Amount.InexactFloat64(),
					"bid_number":     info.BidNumber,
					"identification": info.Tenderers,
					"owner":          info.Owner,
				},
			)
		}
	}

	bids := results["bids"].([]interface{})
	for _, bid := range doc.Results {
		entry := map[string]interface{}{
			"bidder": bid.BidderID,
			"amount": bid.Amount.InexactFloat64(),
			"time":   bid.Time.Format(time.RFC3339),
		}
		if approved != nil {
			info := approved[bid.BidderID]
			entry["bid_number"] = info.BidNumber
			entry["identification"] = info.Tenderers
			entry["owner"] = info.Owner
		}
		bids = append(bids, entry)
	}
	results["bids"] = bids
}

// SetResultsTime overrides the timestamp of the results block.
func (p *Protocol) SetResultsTime(t time.Time) {
	if results, ok := p.Timeline["results"].(map[string]interface{}); ok {
		results["time"] = t.Format(time.RFC3339)
	}
}
