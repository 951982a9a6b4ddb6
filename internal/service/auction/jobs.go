package auction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
)

// Job ids on the worker's scheduler. Re-adding an id replaces the pending
// job, so every rebuild cancels the previous timeline before installing the
// next one.
const (
	startJobID = "auction:start"
	pauseJobID = "auction:pause"
	endJobID   = "auction:end"
)

// AddPauseJob schedules the end of the current pause, which opens the next
// main round.
func (s *Service) AddPauseJob(runAt time.Time) {
	s.sched.AddJob(pauseJobID, "End of Pause", runAt, func() {
		s.switchToNextStage(context.Background())
	})
}

// AddEndingMainRoundJob schedules the end of the auction at the moment the
// current main round (or the deadline) expires. An accepted bid replaces
// this job before it fires.
func (s *Service) AddEndingMainRoundJob(runAt time.Time) {
	s.sched.AddJob(endJobID, "End of Auction", runAt, func() {
		if err := s.endAuction(context.Background()); err != nil {
			s.logger.Error("ending auction failed", zap.Error(err))
		}
	})
}

// switchToNextStage advances current_stage by one, moving from a pause into
// the following main round.
func (s *Service) switchToNextStage(ctx context.Context) {
	s.Lock()
	defer s.Unlock()

	err := s.updateDocument(ctx, func(doc *auction.Document) error {
		doc.CurrentStage++
		return nil
	})
	if err != nil {
		s.logger.Error("switching stage failed", zap.Error(err))
		return
	}
	s.metrics.StageTransitions.Inc()
	s.logger.Info("switched to next stage", zap.Int("current_stage", s.doc.CurrentStage))
}

// endAuction closes the auction: no bid arrived before the round (or the
// deadline) expired. It freezes the timeline with a preannouncement stage,
// publishes the results upstream, appends the END stage and uploads the
// audit protocol.
func (s *Service) endAuction(ctx context.Context) error {
	s.sched.RemoveAllJobs()
	s.stopServer()

	now := time.Now()

	s.Lock()
	err := s.updateDocument(ctx, func(doc *auction.Document) error {
		// Planning leaves a zero placeholder when no round fits; an
		// expired round keeps its planned cells. Either way nothing
		// after the current stage carries data worth keeping.
		if doc.CurrentStage >= 0 && doc.CurrentStage+1 < len(doc.Stages) {
			doc.Stages = doc.Stages[:doc.CurrentStage+1]
		}
		doc.Stages = append(doc.Stages, auction.Stage{
			Kind:  auction.StagePreannouncement,
			Start: now,
		})
		doc.SortResults()
		return nil
	})
	if err != nil {
		s.Unlock()
		return err
	}
	if s.protocol != nil {
		s.protocol.ApproveStages(s.doc)
		s.protocol.ApproveOnAnnouncement(s.doc, nil, now)
	}
	s.Unlock()

	var enriched *auction.Document
	if s.source.PostResultEnabled() {
		enriched, err = s.source.PostResults(ctx, s.auctionData, s.doc)
		if err != nil {
			s.logger.Warn("posting results failed", zap.Error(err))
		} else if enriched == nil {
			s.logger.Warn("results not approved upstream")
		}
	}

	err = s.UpdateDocument(ctx, func(doc *auction.Document) error {
		if enriched != nil {
			rev := doc.Rev
			*doc = *enriched
			doc.Rev = rev
		}
		doc.Stages = append(doc.Stages, auction.PrepareEndStage(now))
		doc.CurrentStage = len(doc.Stages) - 1
		doc.EndDate = now
		return nil
	})
	if err != nil {
		return err
	}

	if s.protocol != nil && s.source.PostHistoryEnabled() {
		id, uploadErr := s.source.UploadAudit(ctx, s.protocol, s.auditDocID)
		if uploadErr != nil {
			s.logger.Error("audit upload failed", zap.Error(uploadErr))
		} else {
			s.auditDocID = id
		}
	}

	s.metrics.AuctionsEnded.Inc()
	s.logger.Info("auction ended",
		zap.Time("end_date", now),
		zap.Int("results", len(s.doc.Results)))
	s.SignalEnd()
	return nil
}
