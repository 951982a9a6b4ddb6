package auction

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// StageKind identifies a cell on the auction timeline.
type StageKind string

const (
	StagePause           StageKind = "pause"
	StageMainRound       StageKind = "main_round"
	StagePreannouncement StageKind = "preannouncement"
	StageEnd             StageKind = "end"
)

// Sentinel values for Document.CurrentStage.
const (
	StagePlanned     = -1
	StageCancelled   = -100
	StageRescheduled = -101
)

// DefaultAuctionType marks the procedure variant this worker runs.
const DefaultAuctionType = "texas"

// Value is a monetary field of the auction document.
type Value struct {
	Amount decimal.Decimal `json:"amount"`
}

// Label is the public display name of a bidder in the fixed language set.
type Label struct {
	En string `json:"en"`
	Uk string `json:"uk"`
	Ru string `json:"ru"`
}

// Stage is a single timeline cell. Pause stages carry only Kind and Start;
// main rounds additionally carry PlannedEnd and the bid floor Amount, and
// after an accepted bid the bid's Time, BidderID and Label.
type Stage struct {
	Kind       StageKind       `json:"type"`
	Start      time.Time       `json:"start"`
	PlannedEnd time.Time       `json:"planned_end,omitzero"`
	Amount     decimal.Decimal `json:"amount"`
	Time       time.Time       `json:"time,omitzero"`
	BidderID   string          `json:"bidder_id,omitempty"`
	Label      *Label          `json:"label,omitempty"`
	BidNumber  int             `json:"bidNumber,omitempty"`
}

// Result is a per-bidder accepted bid record, used for both the initial_bids
// block and the running results ledger.
type Result struct {
	BidderID  string          `json:"bidder_id"`
	Time      time.Time       `json:"time"`
	Amount    decimal.Decimal `json:"amount"`
	Label     Label           `json:"label"`
	BidNumber int             `json:"bidNumber,omitempty"`
}

// Bidder is one normalised entry of the bidders data fetched from the
// datasource; only bids with status "active" are projected into it.
type Bidder struct {
	ID        string
	Date      time.Time
	Amount    decimal.Decimal
	Owner     string
	BidNumber *int
}

// Document is the persisted single source of truth for one auction.
type Document struct {
	ID                      string                   `json:"_id"`
	Rev                     string                   `json:"_rev,omitempty"`
	AuctionID               string                   `json:"auctionID"`
	ProcurementMethodType   string                   `json:"procurementMethodType"`
	APIVersion              string                   `json:"TENDERS_API_VERSION"`
	AuctionType             string                   `json:"auction_type"`
	CurrentStage            int                      `json:"current_stage"`
	Stages                  []Stage                  `json:"stages"`
	Results                 []Result                 `json:"results"`
	InitialBids             []Result                 `json:"initial_bids"`
	Value                   Value                    `json:"value"`
	MinimalStep             Value                    `json:"minimalStep"`
	InitialValue            decimal.Decimal          `json:"initial_value"`
	ProcuringEntity         map[string]interface{}   `json:"procuringEntity,omitempty"`
	Items                   []map[string]interface{} `json:"items,omitempty"`
	Title                   string                   `json:"title"`
	TitleEn                 string                   `json:"title_en,omitempty"`
	TitleRu                 string                   `json:"title_ru,omitempty"`
	Description             string                   `json:"description"`
	DescriptionEn           string                   `json:"description_en,omitempty"`
	DescriptionRu           string                   `json:"description_ru,omitempty"`
	Mode                    string                   `json:"mode,omitempty"`
	SubmissionMethodDetails string                   `json:"submissionMethodDetails,omitempty"`
	Standalone              bool                     `json:"standalone,omitempty"`
	StartDate               time.Time                `json:"startDate,omitzero"`
	EndDate                 time.Time                `json:"endDate,omitzero"`
	TestAuctionData         json.RawMessage          `json:"test_auction_data,omitempty"`
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	raw, err := json.Marshal(d)
	if err != nil {
		// Document contains only JSON-serialisable fields.
		panic(fmt.Sprintf("auction: document not serialisable: %v", err))
	}
	out := &Document{}
	if err := json.Unmarshal(raw, out); err != nil {
		panic(fmt.Sprintf("auction: document round trip failed: %v", err))
	}
	return out
}

// SortResults orders the results ledger by amount descending. Equal amounts
// keep their insertion order.
func (d *Document) SortResults() {
	sort.SliceStable(d.Results, func(i, j int) bool {
		return d.Results[i].Amount.GreaterThan(d.Results[j].Amount)
	})
}

// PrepareResultsStage builds the per-bidder record stored in stages, results
// and initial_bids.
func PrepareResultsStage(bidderID string, bidderNumber int, amount decimal.Decimal, t time.Time) Result {
	return Result{
		BidderID:  bidderID,
		Time:      t,
		Amount:    amount,
		Label:     BidderLabel(bidderNumber),
	}
}

// BidderLabel returns the public display label for a bid number.
func BidderLabel(number int) Label {
	return Label{
		En: fmt.Sprintf("Bidder #%d", number),
		Uk: fmt.Sprintf("Учасник №%d", number),
		Ru: fmt.Sprintf("Участник №%d", number),
	}
}

// ApprovedBidder carries the disclosed identity of a bidder, available only
// after the upstream opens bids on announcement.
type ApprovedBidder struct {
	BidNumber int
	Name      string
	Owner     string
	Tenderers []map[string]interface{}
}

// OpenBidderNames replaces anonymous labels with disclosed bidder names in
// initial_bids, results and stages. Entries without a match are left as is.
func OpenBidderNames(doc *Document, approved map[string]ApprovedBidder) {
	open := func(bidderID string, label **Label, number *int) {
		info, ok := approved[bidderID]
		if !ok {
			return
		}
		*label = &Label{En: info.Name, Uk: info.Name, Ru: info.Name}
		*number = info.BidNumber
	}
	for i := range doc.InitialBids {
		if info, ok := approved[doc.InitialBids[i].BidderID]; ok {
			doc.InitialBids[i].Label = Label{En: info.Name, Uk: info.Name, Ru: info.Name}
			doc.InitialBids[i].BidNumber = info.BidNumber
		}
	}
	for i := range doc.Results {
		if info, ok := approved[doc.Results[i].BidderID]; ok {
			doc.Results[i].Label = Label{En: info.Name, Uk: info.Name, Ru: info.Name}
			doc.Results[i].BidNumber = info.BidNumber
		}
	}
	for i := range doc.Stages {
		if doc.Stages[i].BidderID == "" {
			continue
		}
		open(doc.Stages[i].BidderID, &doc.Stages[i].Label, &doc.Stages[i].BidNumber)
	}
}
