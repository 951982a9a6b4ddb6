package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/domain/errors"
)

// Bid is one incoming offer from the bidding frontend.
type Bid struct {
	BidderID string
	Amount   decimal.Decimal
	Time     time.Time
}

// AddBid validates the bid against the current main round and applies it:
// the round closes on the bid, the results ledger is updated and the
// timeline is rebuilt with a fresh pause and, deadline permitting, the next
// round. Callers must hold the mutation slot, so the stage check and the
// application are atomic.
func (s *Service) AddBid(ctx context.Context, stageIndex int, bid Bid) error {
	doc := s.doc

	if doc.CurrentStage != stageIndex ||
		stageIndex < 0 || stageIndex >= len(doc.Stages) ||
		doc.Stages[stageIndex].Kind != auction.StageMainRound {
		s.metrics.BidsRejected.Inc()
		return errors.NewBusinessError("INVALID_STAGE", "Current stage does not allow bidding")
	}
	stage := doc.Stages[stageIndex]

	number, known := s.mapping[bid.BidderID]
	if !known {
		s.metrics.BidsRejected.Inc()
		return errors.NewValidationError("UNKNOWN_BIDDER", "No bidder id")
	}
	if bid.Amount.LessThan(stage.Amount) {
		s.metrics.BidsRejected.Inc()
		return errors.NewBusinessError("BID_TOO_LOW", "Too low value")
	}
	if !bid.Amount.Sub(stage.Amount).Mod(doc.MinimalStep.Amount).IsZero() {
		s.metrics.BidsRejected.Inc()
		return errors.NewValidationError("STEP_MISMATCH", fmt.Sprintf(
			"Value should be a multiplier of a minimalStep amount (%s)",
			doc.MinimalStep.Amount.String()))
	}

	if bid.Time.IsZero() {
		bid.Time = time.Now()
	}

	err := s.updateDocument(ctx, func(working *auction.Document) error {
		applyBid(working, stageIndex, bid, number)
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.BidsAccepted.Inc()
	s.metrics.RoundLength.Observe(bid.Time.Sub(stage.Start).Seconds())
	s.logger.Info("bid accepted",
		zap.String("bidder_id", bid.BidderID),
		zap.Int("bid_number", number),
		zap.String("amount", bid.Amount.String()),
		zap.Int("stage", stageIndex))

	return s.endBidStage(ctx, bid)
}

// PlaceBid applies the bid against the live stage under the mutation slot.
func (s *Service) PlaceBid(ctx context.Context, bid Bid) error {
	s.Lock()
	defer s.Unlock()
	return s.AddBid(ctx, s.doc.CurrentStage, bid)
}

// applyBid closes the round stage on the bid and updates the per-bidder
// entry of the results ledger.
func applyBid(doc *auction.Document, stageIndex int, bid Bid, number int) {
	label := auction.BidderLabel(number)
	doc.Stages[stageIndex].Time = bid.Time
	doc.Stages[stageIndex].BidderID = bid.BidderID
	doc.Stages[stageIndex].Amount = bid.Amount
	doc.Stages[stageIndex].Label = &label
	doc.Stages[stageIndex].BidNumber = number

	updated := false
	for i := range doc.Results {
		if doc.Results[i].BidderID == bid.BidderID {
			doc.Results[i].Amount = bid.Amount
			doc.Results[i].Time = bid.Time
			updated = true
			break
		}
	}
	if !updated {
		result := auction.PrepareResultsStage(bid.BidderID, number, bid.Amount, bid.Time)
		result.BidNumber = number
		doc.Results = append(doc.Results, result)
	}
	doc.SortResults()
}

// endBidStage rebuilds the timeline after an accepted bid: the closed round
// is recorded in the protocol, pending jobs are dropped and a new pause
// (plus the next round, when it fits before the deadline) is appended.
// Callers must hold the mutation slot.
func (s *Service) endBidStage(ctx context.Context, bid Bid) error {
	if s.protocol != nil {
		s.protocol.ApproveOnBidStage(s.doc)
	}
	s.sched.RemoveAllJobs()

	err := s.updateDocument(ctx, func(doc *auction.Document) error {
		doc.Stages = doc.Stages[:doc.CurrentStage+1]
		pause, mainRound := auction.PrepareAuctionStages(
			bid.Time, bid.Amount, doc.MinimalStep.Amount, s.deadline, s.fastForward())
		doc.Stages = append(doc.Stages, pause)
		if mainRound != nil {
			doc.Stages = append(doc.Stages, *mainRound)
		}
		doc.CurrentStage++
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.StageTransitions.Inc()

	doc := s.doc
	last := doc.Stages[len(doc.Stages)-1]
	if last.Kind == auction.StageMainRound {
		s.AddPauseJob(last.Start)
		s.AddEndingMainRoundJob(last.PlannedEnd)
	} else {
		// No further round fits: the auction ends at the deadline.
		s.AddEndingMainRoundJob(s.deadline)
	}
	return nil
}
