package auction

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ParticipationSignature is the login proof for one bidder: the hex HMAC of
// the bidder id under the shared secret. The same value is embedded in the
// participation url pushed upstream and verified by the bid server's login
// handler.
func ParticipationSignature(secret, bidderID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(bidderID))
	return hex.EncodeToString(mac.Sum(nil))
}
