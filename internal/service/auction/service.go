// Package auction drives one auction through its whole lifecycle: planning
// the timeline, opening rounds, applying bids, extending the auction after
// each accepted bid and announcing the results. All state transitions are
// serialised through a single mutation slot and persisted to the document
// store before anything observes them.
package auction

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/domain/errors"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
	"github.com/openauction/texas-worker/internal/infrastructure/datasource"
	"github.com/openauction/texas-worker/internal/infrastructure/store"
	"github.com/openauction/texas-worker/internal/metrics"
	"github.com/openauction/texas-worker/internal/scheduler"
)

// Service coordinates one auction worker run.
type Service struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   store.Store
	source  datasource.DataSource
	sched   *scheduler.Scheduler
	metrics *metrics.Registry

	docID string

	// sem is the single mutation slot; see Lock.
	sem chan struct{}

	doc         *auction.Document
	auctionData *datasource.AuctionData
	bidders     []auction.Bidder
	mapping     auction.BidsMapping
	protocol    *auction.Protocol
	auditDocID  string
	deadline    time.Time

	server Server
	notify func(*auction.Document)

	done    chan struct{}
	endOnce sync.Once
}

// New builds a worker service for one auction document id.
func New(
	cfg *config.Config,
	docID string,
	st store.Store,
	source datasource.DataSource,
	sched *scheduler.Scheduler,
	reg *metrics.Registry,
	logger *zap.Logger,
) *Service {
	if reg == nil {
		reg = metrics.NewNopRegistry()
	}
	return &Service{
		cfg:     cfg,
		logger:  logger.With(zap.String("auction_doc_id", docID)),
		store:   st,
		source:  source,
		sched:   sched,
		metrics: reg,
		docID:   docID,
		sem:     make(chan struct{}, 1),
		mapping: auction.BidsMapping{},
		done:    make(chan struct{}),
	}
}

// DocID returns the worker's auction document id.
func (s *Service) DocID() string {
	return s.docID
}

// synchronizeAuctionInfo refreshes the in-memory auction definition. With
// prepare set the public view is fetched first; the credentialed private
// view is fetched always and overlays it. A missing private view means the
// upstream dropped the auction.
func (s *Service) synchronizeAuctionInfo(ctx context.Context, prepare bool) error {
	if prepare {
		public, err := s.source.GetData(ctx, true, false)
		if err != nil {
			return err
		}
		if public != nil {
			s.auctionData = public
		}
	}
	if s.auctionData == nil {
		s.auctionData = &datasource.AuctionData{}
	}

	private, err := s.source.GetData(ctx, false, true)
	if err != nil {
		return err
	}
	if private == nil {
		return errors.ErrDatasourceMissing
	}
	s.auctionData.Merge(private)
	s.bidders = s.auctionData.ActiveBidders()
	return nil
}

// PrepareAuctionDocument plans the auction: it builds the document from the
// datasource definition, lays out the initial pause and first main round and
// pushes participation urls upstream. Run by the chronograph ahead of the
// auction start.
func (s *Service) PrepareAuctionDocument(ctx context.Context) error {
	if err := s.synchronizeAuctionInfo(ctx, true); err != nil {
		return err
	}

	stored, err := s.store.Get(ctx, s.docID)
	if err != nil {
		return err
	}

	info := &s.auctionData.Data
	startDate := s.auctionData.StartDate()
	if startDate.IsZero() {
		return errors.NewValidationError("NO_START_DATE", "auction period has no start date")
	}

	doc := s.documentFromInfo(info, startDate)
	if stored != nil {
		doc.Rev = stored.Rev
	}

	s.doc = doc
	s.deadline = s.auctionDeadline(startDate)

	pause, mainRound := auction.PrepareAuctionStages(
		startDate, doc.Value.Amount, doc.MinimalStep.Amount, s.deadline, s.fastForward())
	doc.Stages = []auction.Stage{pause}
	if mainRound != nil {
		doc.Stages = append(doc.Stages, *mainRound)
	} else {
		doc.Stages = append(doc.Stages, auction.Stage{})
	}

	if err := s.store.Save(ctx, doc, s.docID); err != nil {
		return err
	}
	if mainRound == nil {
		// No room for a round before the deadline; hand the auction back
		// to the chronograph for a new start date.
		s.logger.Warn("no main round fits before deadline, rescheduling",
			zap.Time("start_date", startDate),
			zap.Time("deadline", s.deadline))
		return s.RescheduleAuction(ctx)
	}
	s.logger.Info("auction document planned",
		zap.Time("start_date", startDate),
		zap.Time("deadline", s.deadline))

	if s.source.PostHistoryEnabled() {
		if err := s.source.SetParticipationURLs(ctx, s.auctionData); err != nil {
			s.logger.Warn("setting participation urls failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) documentFromInfo(info *datasource.AuctionInfo, startDate time.Time) *auction.Document {
	doc := &auction.Document{
		ID:                      s.docID,
		AuctionID:               info.AuctionID,
		ProcurementMethodType:   info.ProcurementMethodType,
		APIVersion:              s.cfg.ResourceAPIVersion,
		AuctionType:             auction.DefaultAuctionType,
		CurrentStage:            auction.StagePlanned,
		Results:                 []auction.Result{},
		InitialBids:             []auction.Result{},
		ProcuringEntity:         info.ProcuringEntity,
		Items:                   info.Items,
		Title:                   info.Title,
		TitleEn:                 info.TitleEn,
		TitleRu:                 info.TitleRu,
		Description:             info.Description,
		DescriptionEn:           info.DescriptionEn,
		DescriptionRu:           info.DescriptionRu,
		Mode:                    info.Mode,
		SubmissionMethodDetails: info.SubmissionMethodDetails,
		Standalone:              info.Standalone,
		StartDate:               startDate,
	}
	if info.Value != nil {
		doc.Value = auction.Value{Amount: info.Value.Amount}
		doc.InitialValue = info.Value.Amount
	}
	if info.MinimalStep != nil {
		doc.MinimalStep = auction.Value{Amount: info.MinimalStep.Amount}
	}
	return doc
}

// ScheduleAuction loads the planned document, installs the lifecycle jobs
// and starts the bidding frontend. The scheduler must already be running.
func (s *Service) ScheduleAuction(ctx context.Context) error {
	doc, err := s.store.Get(ctx, s.docID)
	if err != nil {
		return err
	}
	if doc == nil {
		return errors.ErrDocumentNotFound
	}
	s.doc = doc

	if err := s.synchronizeAuctionInfo(ctx, false); err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			// Upstream dropped the auction between planning and start.
			s.logger.Warn("auction gone upstream, cancelling")
			if cancelErr := s.CancelAuction(ctx); cancelErr != nil {
				return cancelErr
			}
			s.SignalEnd()
			return err
		}
		return err
	}

	s.deadline = s.auctionDeadline(doc.StartDate)
	s.protocol = auction.NewProtocol(s.docID, doc.AuctionID, doc.Items)

	if len(doc.Stages) < 2 || doc.Stages[1].Kind != auction.StageMainRound {
		// Planning found no room for a round before the deadline.
		s.logger.Warn("no main round fits before deadline, ending immediately")
		return s.endAuction(ctx)
	}

	s.sched.AddJob(startJobID, "Start of Auction", doc.Stages[0].Start, func() {
		s.startAuction(context.Background())
	})
	s.AddPauseJob(doc.Stages[1].Start)
	s.AddEndingMainRoundJob(doc.Stages[1].PlannedEnd)

	if s.server != nil {
		go func() {
			if err := s.server.Run(); err != nil {
				s.logger.Error("bid server stopped", zap.Error(err))
			}
		}()
	}

	s.logger.Info("auction scheduled",
		zap.Time("start", doc.Stages[0].Start),
		zap.Time("first_round", doc.Stages[1].Start),
		zap.Time("deadline", s.deadline))
	return nil
}

// startAuction opens the initial pause: it assigns bid numbers, seeds the
// results ledger with the starting bids and moves the document out of the
// planned state.
func (s *Service) startAuction(ctx context.Context) {
	s.Lock()
	defer s.Unlock()

	now := time.Now()
	err := s.updateDocument(ctx, func(doc *auction.Document) error {
		s.prepareInitialBids(doc, now)
		doc.CurrentStage = 0
		return nil
	})
	if err != nil {
		s.logger.Error("starting auction failed", zap.Error(err))
		return
	}
	s.protocol.SetAuctionStartTime(now)
	s.metrics.StageTransitions.Inc()
	s.logger.Info("auction started", zap.Int("bidders", len(s.bidders)))
}

// prepareInitialBids seeds initial_bids and the results ledger from the
// bidders data, ordered by amount then bid number.
func (s *Service) prepareInitialBids(doc *auction.Document, now time.Time) {
	s.mapping.Assign(s.bidders)

	ordered := make([]auction.Bidder, len(s.bidders))
	copy(ordered, s.bidders)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Amount.Equal(ordered[j].Amount) {
			return ordered[i].Amount.LessThan(ordered[j].Amount)
		}
		return s.mapping[ordered[i].ID] < s.mapping[ordered[j].ID]
	})

	doc.InitialBids = doc.InitialBids[:0]
	doc.Results = doc.Results[:0]
	for _, bidder := range ordered {
		number := s.mapping[bidder.ID]
		date := bidder.Date
		if date.IsZero() {
			date = now
		}
		result := auction.PrepareResultsStage(bidder.ID, number, bidder.Amount, date)
		doc.InitialBids = append(doc.InitialBids, result)
		doc.Results = append(doc.Results, result)
		s.protocol.AddInitialBid(bidder.ID, date, bidder.Amount, number)
	}
	doc.SortResults()
}

// CancelAuction marks the stored document cancelled and stamps its end date.
// Pending jobs are dropped; a worker observing the sentinel must not drive
// the auction further.
func (s *Service) CancelAuction(ctx context.Context) error {
	return s.setSentinelStage(ctx, auction.StageCancelled, true, "auction cancelled")
}

// RescheduleAuction marks the stored document rescheduled, handing the
// auction back to the chronograph for a new start date.
func (s *Service) RescheduleAuction(ctx context.Context) error {
	return s.setSentinelStage(ctx, auction.StageRescheduled, false, "auction rescheduled")
}

func (s *Service) setSentinelStage(ctx context.Context, sentinel int, stampEnd bool, message string) error {
	s.sched.RemoveAllJobs()

	if s.doc == nil {
		doc, err := s.store.Get(ctx, s.docID)
		if err != nil {
			return err
		}
		if doc == nil {
			return errors.ErrDocumentNotFound
		}
		s.doc = doc
	}

	err := s.UpdateDocument(ctx, func(doc *auction.Document) error {
		doc.CurrentStage = sentinel
		if stampEnd {
			doc.EndDate = time.Now()
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info(message, zap.Int("current_stage", sentinel))
	return nil
}

// PostAnnounce discloses bidder identities on the stored document once the
// upstream opens the bids.
func (s *Service) PostAnnounce(ctx context.Context) error {
	if s.doc == nil {
		doc, err := s.store.Get(ctx, s.docID)
		if err != nil {
			return err
		}
		if doc == nil {
			return errors.ErrDocumentNotFound
		}
		s.doc = doc
	}

	if err := s.synchronizeAuctionInfo(ctx, false); err != nil {
		return err
	}
	approved := s.auctionData.ApprovedBidders()

	return s.UpdateDocument(ctx, func(doc *auction.Document) error {
		auction.OpenBidderNames(doc, approved)
		return nil
	})
}

// PostAuctionResults pushes the final results ledger upstream and adopts the
// returned document with disclosed names.
func (s *Service) PostAuctionResults(ctx context.Context) error {
	if s.doc == nil {
		doc, err := s.store.Get(ctx, s.docID)
		if err != nil {
			return err
		}
		if doc == nil {
			return errors.ErrDocumentNotFound
		}
		s.doc = doc
	}

	if !s.source.PostResultEnabled() {
		s.logger.Info("datasource does not accept results")
		return nil
	}

	enriched, err := s.source.PostResults(ctx, s.auctionData, s.doc)
	if err != nil {
		return err
	}
	if enriched == nil {
		s.logger.Warn("results not approved upstream")
		return nil
	}

	return s.UpdateDocument(ctx, func(doc *auction.Document) error {
		rev := doc.Rev
		*doc = *enriched
		doc.Rev = rev
		return nil
	})
}

// PostAuctionProtocol rebuilds the audit protocol from the stored document,
// uploads it (updating the document with the given id when set) and returns
// the audit document id.
func (s *Service) PostAuctionProtocol(ctx context.Context, docID string) (string, error) {
	doc, err := s.store.Get(ctx, s.docID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", errors.ErrDocumentNotFound
	}
	s.doc = doc

	protocol := auction.NewProtocol(s.docID, doc.AuctionID, doc.Items)
	if !doc.StartDate.IsZero() {
		protocol.SetAuctionStartTime(doc.StartDate)
	}
	for _, bid := range doc.InitialBids {
		protocol.AddInitialBid(bid.BidderID, bid.Time, bid.Amount, bid.BidNumber)
	}
	protocol.ApproveStages(doc)
	announced := doc.EndDate
	if announced.IsZero() {
		announced = time.Now()
	}
	protocol.ApproveOnAnnouncement(doc, nil, announced)

	id, err := s.source.UploadAudit(ctx, protocol, docID)
	if err != nil {
		return "", err
	}
	s.auditDocID = id
	s.logger.Info("audit protocol posted", zap.String("document_id", id))
	return id, nil
}
