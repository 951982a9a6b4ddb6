package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/domain/errors"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
)

const (
	auditUploadRetries  = 3
	postResultsRetries  = 2
	externalHTTPTimeout = 30 * time.Second
)

func init() {
	Register("external_api", func(cfg *config.Config, auctionID string, logger *zap.Logger) (DataSource, error) {
		return NewExternalSource(cfg, auctionID, logger), nil
	})
}

// externalSource talks to the procurement API over HTTP. The private auction
// view lives under the /auction subresource and requires the API token.
type externalSource struct {
	cfg       *config.Config
	auctionID string
	logger    *zap.Logger
	client    *http.Client
}

// NewExternalSource builds the procurement API datasource for one auction.
func NewExternalSource(cfg *config.Config, auctionID string, logger *zap.Logger) DataSource {
	return &externalSource{
		cfg:       cfg,
		auctionID: auctionID,
		logger:    logger,
		client:    &http.Client{Timeout: externalHTTPTimeout},
	}
}

func (s *externalSource) resourceURL() string {
	return fmt.Sprintf("%s/api/%s/%s/%s",
		s.cfg.ResourceAPIServer, s.cfg.ResourceAPIVersion, s.cfg.ResourceName, s.auctionID)
}

func (s *externalSource) do(ctx context.Context, method, url string, body interface{}, auth bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.NewInternalError("request body not serialisable").WithCause(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+s.cfg.ResourceAPIToken)
	}
	return s.client.Do(req)
}

func (s *externalSource) GetData(ctx context.Context, public, withCredentials bool) (*AuctionData, error) {
	url := s.resourceURL()
	if !public {
		url += "/auction"
	}

	resp, err := s.do(ctx, http.MethodGet, url, nil, !public || withCredentials)
	if err != nil {
		return nil, errors.NewExternalError("resource_api", "get auction data").WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		s.logger.Warn("auction not found upstream",
			zap.String("auction_id", s.auctionID),
			zap.Bool("public", public))
		return nil, nil
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, errors.NewExternalError("resource_api",
			fmt.Sprintf("get auction data: status %d", resp.StatusCode))
	}

	data := &AuctionData{}
	if err := json.NewDecoder(resp.Body).Decode(data); err != nil {
		return nil, errors.NewExternalError("resource_api", "decode auction data").WithCause(err)
	}
	return data, nil
}

// SetParticipationURLs pushes a personal login url for every active bid. The
// hash is the bidder's HMAC signature under the shared secret, so the url
// passes the bid server's login check as-is.
func (s *externalSource) SetParticipationURLs(ctx context.Context, data *AuctionData) error {
	auctionURL := fmt.Sprintf("%s/auctions/%s", s.cfg.AuctionsURL, s.auctionID)
	bids := make([]map[string]interface{}, 0, len(data.Data.Bids))
	for _, bid := range data.Data.Bids {
		if !bid.active() {
			continue
		}
		bids = append(bids, map[string]interface{}{
			"id": bid.ID,
			"participationUrl": fmt.Sprintf("%s/login?bidder_id=%s&hash=%s",
				auctionURL, bid.ID, auction.ParticipationSignature(s.cfg.HashSecret, bid.ID)),
		})
	}

	body := map[string]interface{}{"data": map[string]interface{}{
		"auctionUrl": auctionURL,
		"bids":       bids,
	}}
	resp, err := s.do(ctx, http.MethodPatch, s.resourceURL()+"/auction", body, true)
	if err != nil {
		return errors.NewExternalError("resource_api", "set participation urls").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.NewExternalError("resource_api",
			fmt.Sprintf("set participation urls: status %d", resp.StatusCode))
	}
	s.logger.Info("participation urls set", zap.String("auction_id", s.auctionID))
	return nil
}

func (s *externalSource) PostResults(ctx context.Context, data *AuctionData, doc *auction.Document) (*auction.Document, error) {
	bids := make([]map[string]interface{}, 0, len(doc.Results))
	for _, result := range doc.Results {
		bids = append(bids, map[string]interface{}{
			"id":   result.BidderID,
			"date": result.Time.Format(time.RFC3339),
			"value": map[string]interface{}{
				"amount": result.Amount.InexactFloat64(),
			},
		})
	}
	body := map[string]interface{}{"data": map[string]interface{}{"bids": bids}}

	var lastErr error
	for attempt := 0; attempt < postResultsRetries; attempt++ {
		enriched, err := s.postResultsOnce(ctx, body, doc)
		if err == nil {
			return enriched, nil
		}
		lastErr = err
		s.logger.Warn("posting results failed",
			zap.String("auction_id", s.auctionID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

func (s *externalSource) postResultsOnce(ctx context.Context, body interface{}, doc *auction.Document) (*auction.Document, error) {
	resp, err := s.do(ctx, http.MethodPost, s.resourceURL()+"/auction", body, true)
	if err != nil {
		return nil, errors.NewExternalError("resource_api", "post results").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.NewExternalError("resource_api",
			fmt.Sprintf("post results: status %d", resp.StatusCode))
	}

	answer := &AuctionData{}
	if err := json.NewDecoder(resp.Body).Decode(answer); err != nil {
		return nil, errors.NewExternalError("resource_api", "decode results answer").WithCause(err)
	}
	if len(answer.Data.Bids) == 0 {
		// Upstream accepted the request but did not open bids.
		return nil, nil
	}

	enriched := doc.Clone()
	auction.OpenBidderNames(enriched, answer.ApprovedBidders())
	return enriched, nil
}

func (s *externalSource) UploadAudit(ctx context.Context, protocol *auction.Protocol, docID string) (string, error) {
	payload, err := yaml.Marshal(protocol)
	if err != nil {
		return "", errors.NewInternalError("audit protocol not serialisable").WithCause(err)
	}

	var lastErr error
	for attempt := 0; attempt < auditUploadRetries; attempt++ {
		id, err := s.uploadAuditOnce(ctx, payload, docID)
		if err == nil {
			s.logger.Info("audit uploaded",
				zap.String("auction_id", s.auctionID),
				zap.String("document_id", id))
			return id, nil
		}
		lastErr = err
		s.logger.Warn("audit upload failed",
			zap.String("auction_id", s.auctionID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", lastErr
}

func (s *externalSource) uploadAuditOnce(ctx context.Context, payload []byte, docID string) (string, error) {
	if s.cfg.WithDocumentService {
		url, err := s.uploadToDocumentService(ctx, payload)
		if err != nil {
			return "", err
		}
		return s.attachDocument(ctx, map[string]interface{}{
			"data": map[string]interface{}{
				"title":  "audit_" + s.auctionID + ".yaml",
				"url":    url,
				"format": "application/yaml",
			},
		}, docID)
	}
	return s.uploadMultipart(ctx, s.documentsURL(docID), payload, docID != "")
}

func (s *externalSource) documentsURL(docID string) string {
	url := s.resourceURL() + "/documents"
	if docID != "" {
		url += "/" + docID
	}
	return url
}

// uploadToDocumentService stores the audit file in the document service and
// returns the download URL the API document should reference.
func (s *externalSource) uploadToDocumentService(ctx context.Context, payload []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "audit_"+s.auctionID+".yaml")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(payload); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.DocumentService.URL+"/upload", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.SetBasicAuth(s.cfg.DocumentService.Username, s.cfg.DocumentService.Password)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.NewExternalError("document_service", "upload audit").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", errors.NewExternalError("document_service",
			fmt.Sprintf("upload audit: status %d", resp.StatusCode))
	}

	var answer struct {
		GetURL string `json:"get_url"`
		Data   struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return "", errors.NewExternalError("document_service", "decode upload answer").WithCause(err)
	}
	if answer.GetURL != "" {
		return answer.GetURL, nil
	}
	return answer.Data.URL, nil
}

// attachDocument registers the document record on the auction resource.
func (s *externalSource) attachDocument(ctx context.Context, body interface{}, docID string) (string, error) {
	method := http.MethodPost
	if docID != "" {
		method = http.MethodPut
	}
	resp, err := s.do(ctx, method, s.documentsURL(docID), body, true)
	if err != nil {
		return "", errors.NewExternalError("resource_api", "attach audit document").WithCause(err)
	}
	defer resp.Body.Close()

	return decodeDocumentID(resp)
}

// uploadMultipart posts the audit file straight to the API documents
// collection, used when no document service is configured.
func (s *externalSource) uploadMultipart(ctx context.Context, url string, payload []byte, update bool) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "audit_"+s.auctionID+".yaml")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(payload); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	method := http.MethodPost
	if update {
		method = http.MethodPut
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.cfg.ResourceAPIToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.NewExternalError("resource_api", "upload audit document").WithCause(err)
	}
	defer resp.Body.Close()

	return decodeDocumentID(resp)
}

func decodeDocumentID(resp *http.Response) (string, error) {
	if resp.StatusCode >= http.StatusBadRequest {
		return "", errors.NewExternalError("resource_api",
			fmt.Sprintf("audit document: status %d", resp.StatusCode))
	}
	var answer struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return "", errors.NewExternalError("resource_api", "decode document answer").WithCause(err)
	}
	return answer.Data.ID, nil
}

func (s *externalSource) PostResultEnabled() bool  { return true }
func (s *externalSource) PostHistoryEnabled() bool { return true }
