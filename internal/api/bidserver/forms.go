package bidserver

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/openauction/texas-worker/internal/domain/errors"
	auctionsvc "github.com/openauction/texas-worker/internal/service/auction"
)

// BidsForm is the postbid request body.
type BidsForm struct {
	BidderID string      `json:"bidder_id" validate:"required"`
	Bid      json.Number `json:"bid" validate:"required"`
}

// parseBidsForm decodes and validates the bid request. Validation failures
// carry the message shown to the bidder.
func (s *Server) parseBidsForm(r *http.Request) (auctionsvc.Bid, error) {
	var form BidsForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		return auctionsvc.Bid{}, errors.NewValidationError("BAD_REQUEST", "Invalid request body")
	}

	if err := s.validate.Struct(&form); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			switch fieldErrs[0].Field() {
			case "BidderID":
				return auctionsvc.Bid{}, errors.NewValidationError("UNKNOWN_BIDDER", "No bidder id")
			case "Bid":
				return auctionsvc.Bid{}, errors.NewValidationError("NO_AMOUNT", "Bid amount is required")
			}
		}
		return auctionsvc.Bid{}, errors.NewValidationError("BAD_REQUEST", "Invalid request body")
	}

	amount, err := decimal.NewFromString(form.Bid.String())
	if err != nil || !amount.IsPositive() {
		return auctionsvc.Bid{}, errors.NewValidationError("NO_AMOUNT", "Bid amount is required")
	}

	return auctionsvc.Bid{BidderID: form.BidderID, Amount: amount}, nil
}
