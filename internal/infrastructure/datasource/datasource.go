// Package datasource adapts the external systems that own the authoritative
// auction definition: the procurement API, a local file, or an embedded test
// fixture. Variants register themselves in a factory keyed on the configured
// datasource type.
package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
)

// Money mirrors the API's monetary fields.
type Money struct {
	Amount decimal.Decimal `json:"amount"`
}

// APIBid is one bid as returned by the procurement API.
type APIBid struct {
	ID               string                   `json:"id"`
	Date             time.Time                `json:"date,omitzero"`
	Status           string                   `json:"status,omitempty"`
	Owner            string                   `json:"owner,omitempty"`
	BidNumber        *int                     `json:"bidNumber,omitempty"`
	Value            Money                    `json:"value"`
	Tenderers        []map[string]interface{} `json:"tenderers,omitempty"`
	ParticipationURL string                   `json:"participationUrl,omitempty"`
}

// active reports whether the bid takes part in the auction. Older API
// versions omit the status entirely.
func (b *APIBid) active() bool {
	return b.Status == "" || b.Status == "active"
}

// AuctionPeriod carries the scheduled bounds of the auction.
type AuctionPeriod struct {
	StartDate time.Time `json:"startDate,omitzero"`
	EndDate   time.Time `json:"endDate,omitzero"`
}

// AuctionInfo is the canonical auction definition.
type AuctionInfo struct {
	AuctionID               string                   `json:"auctionID,omitempty"`
	ProcurementMethodType   string                   `json:"procurementMethodType,omitempty"`
	Title                   string                   `json:"title,omitempty"`
	TitleEn                 string                   `json:"title_en,omitempty"`
	TitleRu                 string                   `json:"title_ru,omitempty"`
	Description             string                   `json:"description,omitempty"`
	DescriptionEn           string                   `json:"description_en,omitempty"`
	DescriptionRu           string                   `json:"description_ru,omitempty"`
	Mode                    string                   `json:"mode,omitempty"`
	SubmissionMethodDetails string                   `json:"submissionMethodDetails,omitempty"`
	Standalone              bool                     `json:"standalone,omitempty"`
	ProcuringEntity         map[string]interface{}   `json:"procuringEntity,omitempty"`
	Items                   []map[string]interface{} `json:"items,omitempty"`
	Value                   *Money                   `json:"value,omitempty"`
	MinimalStep             *Money                   `json:"minimalStep,omitempty"`
	AuctionPeriod           *AuctionPeriod           `json:"auctionPeriod,omitempty"`
	AuctionURL              string                   `json:"auctionUrl,omitempty"`
	Bids                    []APIBid                 `json:"bids,omitempty"`
}

// AuctionData is the API envelope around AuctionInfo.
type AuctionData struct {
	Data AuctionInfo `json:"data"`
}

// Merge overlays every non-zero field of other onto d. The private fetch
// returns a partial view (bids, auctionPeriod, value) that completes the
// public one.
func (d *AuctionData) Merge(other *AuctionData) {
	if other == nil {
		return
	}
	o := &other.Data
	t := &d.Data
	if o.AuctionID != "" {
		t.AuctionID = o.AuctionID
	}
	if o.ProcurementMethodType != "" {
		t.ProcurementMethodType = o.ProcurementMethodType
	}
	if o.Title != "" {
		t.Title = o.Title
	}
	if o.TitleEn != "" {
		t.TitleEn = o.TitleEn
	}
	if o.TitleRu != "" {
		t.TitleRu = o.TitleRu
	}
	if o.Description != "" {
		t.Description = o.Description
	}
	if o.DescriptionEn != "" {
		t.DescriptionEn = o.DescriptionEn
	}
	if o.DescriptionRu != "" {
		t.DescriptionRu = o.DescriptionRu
	}
	if o.Mode != "" {
		t.Mode = o.Mode
	}
	if o.SubmissionMethodDetails != "" {
		t.SubmissionMethodDetails = o.SubmissionMethodDetails
	}
	if o.Standalone {
		t.Standalone = true
	}
	if o.ProcuringEntity != nil {
		t.ProcuringEntity = o.ProcuringEntity
	}
	if o.Items != nil {
		t.Items = o.Items
	}
	if o.Value != nil {
		t.Value = o.Value
	}
	if o.MinimalStep != nil {
		t.MinimalStep = o.MinimalStep
	}
	if o.AuctionPeriod != nil {
		t.AuctionPeriod = o.AuctionPeriod
	}
	if o.AuctionURL != "" {
		t.AuctionURL = o.AuctionURL
	}
	if o.Bids != nil {
		t.Bids = o.Bids
	}
}

// StartDate returns the scheduled auction start, or zero when unknown.
func (d *AuctionData) StartDate() time.Time {
	if d == nil || d.Data.AuctionPeriod == nil {
		return time.Time{}
	}
	return d.Data.AuctionPeriod.StartDate
}

// ActiveBidders projects bids with status "active" (or no status) into the
// domain representation used by the coordinator.
func (d *AuctionData) ActiveBidders() []auction.Bidder {
	var bidders []auction.Bidder
	for _, bid := range d.Data.Bids {
		if !bid.active() {
			continue
		}
		bidders = append(bidders, auction.Bidder{
			ID:        bid.ID,
			Date:      bid.Date,
			Amount:    bid.Value.Amount,
			Owner:     bid.Owner,
			BidNumber: bid.BidNumber,
		})
	}
	return bidders
}

// ApprovedBidders indexes the disclosed bid information by bidder id, used
// on announcement to open bidder names.
func (d *AuctionData) ApprovedBidders() map[string]auction.ApprovedBidder {
	approved := make(map[string]auction.ApprovedBidder, len(d.Data.Bids))
	for _, bid := range d.Data.Bids {
		info := auction.ApprovedBidder{Owner: bid.Owner, Tenderers: bid.Tenderers}
		if bid.BidNumber != nil {
			info.BidNumber = *bid.BidNumber
		}
		if len(bid.Tenderers) > 0 {
			if name, ok := bid.Tenderers[0]["name"].(string); ok {
				info.Name = name
			}
		}
		approved[bid.ID] = info
	}
	return approved
}

// DataSource reads the auction definition and publishes results and audit.
type DataSource interface {
	// GetData fetches the definition. The private fetch (public=false)
	// authenticates and returns the bid-bearing view; nil means the
	// upstream no longer knows the auction.
	GetData(ctx context.Context, public, withCredentials bool) (*AuctionData, error)

	// SetParticipationURLs pushes per-bidder participation links upstream.
	SetParticipationURLs(ctx context.Context, data *AuctionData) error

	// UploadAudit posts the audit document, or updates it in place when
	// docID is non-empty. Returns the server-assigned document id.
	UploadAudit(ctx context.Context, protocol *auction.Protocol, docID string) (string, error)

	// PostResults pushes the final bid ledger and returns the document
	// enriched with opened bidder names, or nil when the upstream refused.
	PostResults(ctx context.Context, data *AuctionData, doc *auction.Document) (*auction.Document, error)

	// Feature flags of the variant.
	PostResultEnabled() bool
	PostHistoryEnabled() bool
}

// Factory builds a datasource variant from worker configuration.
type Factory func(cfg *config.Config, auctionID string, logger *zap.Logger) (DataSource, error)

var factories = map[string]Factory{}

// Register installs a variant under the given datasource type. Built-in
// variants register themselves; plugins may add more before Prepare runs.
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Prepare builds the variant selected by cfg.Datasource.Type.
func Prepare(cfg *config.Config, auctionID string, logger *zap.Logger) (DataSource, error) {
	factory, ok := factories[cfg.Datasource.Type]
	if !ok {
		return nil, fmt.Errorf("unknown datasource type %q", cfg.Datasource.Type)
	}
	return factory(cfg, auctionID, logger)
}
