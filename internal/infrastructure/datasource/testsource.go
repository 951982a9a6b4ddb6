package datasource

import (
	"context"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/domain/errors"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
)

//go:embed testdata/tender_data.json
var tenderFixture []byte

// testStartDelay schedules the fixture auction shortly after the worker
// starts, so standalone runs reach the first round quickly.
const testStartDelay = 120 * time.Second

func init() {
	Register("test", func(cfg *config.Config, auctionID string, logger *zap.Logger) (DataSource, error) {
		return NewTestSource(auctionID, logger)
	})
}

// testSource serves an embedded fixture with the start date rebased to the
// near future. Standalone runs use it to exercise the full lifecycle without
// any upstream.
type testSource struct {
	auctionID string
	logger    *zap.Logger
	data      *AuctionData
}

// NewTestSource builds the fixture-backed datasource.
func NewTestSource(auctionID string, logger *zap.Logger) (DataSource, error) {
	data := &AuctionData{}
	if err := json.Unmarshal(tenderFixture, data); err != nil {
		return nil, errors.NewInternalError("tender fixture is not valid JSON").WithCause(err)
	}

	data.Data.AuctionID = auctionID
	if data.Data.AuctionPeriod == nil {
		data.Data.AuctionPeriod = &AuctionPeriod{}
	}
	data.Data.AuctionPeriod.StartDate = time.Now().Add(testStartDelay)

	return &testSource{auctionID: auctionID, logger: logger, data: data}, nil
}

func (s *testSource) GetData(context.Context, bool, bool) (*AuctionData, error) {
	clone := &AuctionData{}
	raw, err := json.Marshal(s.data)
	if err != nil {
		return nil, errors.NewInternalError("fixture not serialisable").WithCause(err)
	}
	if err := json.Unmarshal(raw, clone); err != nil {
		return nil, errors.NewInternalError("fixture round trip failed").WithCause(err)
	}
	return clone, nil
}

func (s *testSource) SetParticipationURLs(context.Context, *AuctionData) error {
	return nil
}

func (s *testSource) UploadAudit(_ context.Context, protocol *auction.Protocol, docID string) (string, error) {
	payload, err := yaml.Marshal(protocol)
	if err != nil {
		return "", errors.NewInternalError("audit protocol not serialisable").WithCause(err)
	}
	if docID == "" {
		docID = uuid.NewString()
	}
	s.logger.Info("audit ready",
		zap.String("document_id", docID),
		zap.Int("bytes", len(payload)))
	return docID, nil
}

func (s *testSource) PostResults(context.Context, *AuctionData, *auction.Document) (*auction.Document, error) {
	return nil, nil
}

func (s *testSource) PostResultEnabled() bool  { return false }
func (s *testSource) PostHistoryEnabled() bool { return false }
