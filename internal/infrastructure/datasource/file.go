package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/domain/errors"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
)

func init() {
	Register("file", func(cfg *config.Config, auctionID string, logger *zap.Logger) (DataSource, error) {
		return NewFileSource(cfg.Datasource.Path, auctionID, logger), nil
	})
}

// fileSource reads the auction definition from auction_<id>.json in the
// configured directory and writes the audit next to it. Participation urls
// and results have nowhere to go, so those flags are off.
type fileSource struct {
	dir       string
	auctionID string
	logger    *zap.Logger
}

// NewFileSource builds a directory-backed datasource.
func NewFileSource(dir, auctionID string, logger *zap.Logger) DataSource {
	return &fileSource{dir: dir, auctionID: auctionID, logger: logger}
}

func (s *fileSource) GetData(_ context.Context, _, _ bool) (*AuctionData, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("auction_%s.json", s.auctionID))
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.logger.Warn("auction file not found", zap.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewExternalError("file", "read auction file").WithCause(err)
	}

	data := &AuctionData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, errors.NewExternalError("file", "decode auction file").WithCause(err)
	}
	return data, nil
}

func (s *fileSource) SetParticipationURLs(context.Context, *AuctionData) error {
	return nil
}

func (s *fileSource) UploadAudit(_ context.Context, protocol *auction.Protocol, docID string) (string, error) {
	payload, err := yaml.Marshal(protocol)
	if err != nil {
		return "", errors.NewInternalError("audit protocol not serialisable").WithCause(err)
	}

	if docID == "" {
		docID = uuid.NewString()
	}
	path := filepath.Join(s.dir, fmt.Sprintf("audit_%s.yaml", s.auctionID))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", errors.NewExternalError("file", "write audit file").WithCause(err)
	}
	s.logger.Info("audit written", zap.String("path", path))
	return docID, nil
}

func (s *fileSource) PostResults(context.Context, *AuctionData, *auction.Document) (*auction.Document, error) {
	return nil, nil
}

func (s *fileSource) PostResultEnabled() bool  { return false }
func (s *fileSource) PostHistoryEnabled() bool { return false }
