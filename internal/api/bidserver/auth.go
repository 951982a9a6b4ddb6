package bidserver

import (
	"crypto/hmac"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/domain/errors"
)

const (
	sessionCookie = "auction_session"
	sessionTTL    = 24 * time.Hour
)

type sessionClaims struct {
	BidderID string `json:"bidder_id"`
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// sessionStore tracks live client ids so a session can be revoked before its
// token expires.
type sessionStore struct {
	mu      sync.Mutex
	clients map[string]string // client id -> bidder id
}

func newSessionStore() *sessionStore {
	return &sessionStore{clients: make(map[string]string)}
}

func (s *sessionStore) Add(clientID, bidderID string) {
	s.mu.Lock()
	s.clients[clientID] = bidderID
	s.mu.Unlock()
}

// Kick revokes one client session and reports whether it existed.
func (s *sessionStore) Kick(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return false
	}
	delete(s.clients, clientID)
	return true
}

func (s *sessionStore) Active(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clients[clientID]
	return ok
}

// signature is the login proof carried in the participation url a broker
// platform hands its bidder.
func signature(secret, bidderID string) string {
	return auction.ParticipationSignature(secret, bidderID)
}

func validSignature(secret, bidderID, provided string) bool {
	return hmac.Equal([]byte(signature(secret, bidderID)), []byte(provided))
}

// issueSession mints a JWT session cookie for the bidder and registers the
// client id for revocation.
func (s *Server) issueSession(w http.ResponseWriter, bidderID string) string {
	clientID := uuid.NewString()
	claims := &sessionClaims{
		BidderID: bidderID,
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(s.cfg.HashSecret))
	if err != nil {
		// HS256 signing over an in-memory key cannot fail with valid input.
		panic(err)
	}

	s.sessions.Add(clientID, bidderID)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(sessionTTL),
	})
	return clientID
}

// sessionFromRequest parses and verifies the session cookie. A revoked
// client id yields a forbidden error, everything else unauthorized.
func (s *Server) sessionFromRequest(r *http.Request) (*sessionClaims, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, errors.NewUnauthorizedError("no session")
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.NewUnauthorizedError("unexpected signing method")
		}
		return []byte(s.cfg.HashSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.NewUnauthorizedError("invalid session")
	}
	if !s.sessions.Active(claims.ClientID) {
		return nil, errors.NewForbiddenError("session revoked")
	}
	return claims, nil
}
