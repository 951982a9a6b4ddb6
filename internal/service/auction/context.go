package auction

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
)

// Server is the bidding frontend the worker runs while the auction is live.
// The concrete implementation lives in the api layer and is injected from
// the command wiring.
type Server interface {
	Run() error
	Shutdown(ctx context.Context) error
}

// Lock acquires the single mutation slot. Every read-modify-write of the
// auction document and every job body runs under it, so a stage switch and a
// bid application can never interleave.
func (s *Service) Lock() {
	s.sem <- struct{}{}
}

// Unlock releases the mutation slot.
func (s *Service) Unlock() {
	<-s.sem
}

// UpdateDocument acquires the mutation slot and runs fn against a copy of
// the current document. See updateDocument for the write-on-success rule.
func (s *Service) UpdateDocument(ctx context.Context, fn func(doc *auction.Document) error) error {
	s.Lock()
	defer s.Unlock()
	return s.updateDocument(ctx, fn)
}

// updateDocument runs fn against a clone of the in-memory document and saves
// the clone on success. When fn fails nothing is written and the in-memory
// document stays untouched. Callers must hold the mutation slot.
func (s *Service) updateDocument(ctx context.Context, fn func(doc *auction.Document) error) error {
	working := s.doc.Clone()
	if err := fn(working); err != nil {
		return err
	}
	if err := s.store.Save(ctx, working, s.docID); err != nil {
		return err
	}
	s.doc = working
	s.publish(working)
	return nil
}

// publish pushes a read snapshot to the live feed, when one is attached.
func (s *Service) publish(doc *auction.Document) {
	if s.notify != nil {
		s.notify(doc.Clone())
	}
}

// Snapshot returns a deep copy of the current document for readers outside
// the mutation slot.
func (s *Service) Snapshot() *auction.Document {
	s.Lock()
	defer s.Unlock()
	return s.doc.Clone()
}

// SetServer attaches the bidding frontend started on ScheduleAuction.
func (s *Service) SetServer(server Server) {
	s.server = server
}

// SetNotify attaches the live feed callback invoked after every saved
// document change.
func (s *Service) SetNotify(notify func(*auction.Document)) {
	s.notify = notify
}

// SignalEnd marks the auction finished. Safe to call more than once.
func (s *Service) SignalEnd() {
	s.endOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed once the auction reached its END stage (or was abandoned).
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// WaitToEnd blocks until the auction finishes or ctx is cancelled.
func (s *Service) WaitToEnd(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopServer shuts the bidding frontend down with a bounded grace period.
func (s *Service) stopServer() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("bid server shutdown failed", zap.Error(err))
	}
	s.server = nil
}

// fastForward reports whether stage timings are collapsed. Only sandbox
// workers run fast; a production document asking for quick submission keeps
// real durations.
func (s *Service) fastForward() bool {
	return s.cfg.SandboxMode
}

func isQuick(submissionMethodDetails string) bool {
	return strings.Contains(submissionMethodDetails, "quick")
}

// auctionDeadline derives the wall past which no further round may start.
// A sandbox worker running a quick test document gets a short relative
// deadline, everything else the configured daily cutoff; a zero time
// disables the deadline entirely.
func (s *Service) auctionDeadline(startDate time.Time) time.Time {
	if s.cfg.SandboxMode && s.doc.Mode == "test" && isQuick(s.doc.SubmissionMethodDetails) {
		return auction.RelativeDeadline(startDate, auction.SandboxAuctionDuration)
	}
	if !s.cfg.Deadline.Enabled {
		return time.Time{}
	}
	return auction.AbsoluteDeadline(startDate, s.cfg.Deadline.DeadlineTime)
}
