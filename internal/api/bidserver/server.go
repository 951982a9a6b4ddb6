// Package bidserver is the HTTP frontend bidders interact with while the
// auction is live: session login, bid submission, and a websocket feed of
// document changes. It runs only between ScheduleAuction and the end of the
// auction.
package bidserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openauction/texas-worker/internal/domain/errors"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
	auctionsvc "github.com/openauction/texas-worker/internal/service/auction"
)

// Per-bidder submission limit: one bid per second with a small burst.
const (
	bidRateLimit = rate.Limit(1)
	bidRateBurst = 5
)

// Server is the bidding frontend.
type Server struct {
	cfg      *config.Config
	service  *auctionsvc.Service
	logger   *zap.Logger
	sessions *sessionStore
	feed     *Feed
	validate *validator.Validate

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	httpServer *http.Server
}

// New wires the frontend to the auction service. The service's live feed is
// attached so every saved change reaches connected clients.
func New(cfg *config.Config, service *auctionsvc.Service, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		service:  service,
		logger:   logger,
		sessions: newSessionStore(),
		feed:     newFeed(logger),
		validate: validator.New(),
		limiters: make(map[string]*rate.Limiter),
	}
	service.SetNotify(s.feed.Publish)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", s.handleLogin)
	mux.HandleFunc("GET /relogin", s.handleLogin)
	mux.HandleFunc("GET /authorized", s.handleLogin)
	mux.HandleFunc("GET /logout", s.handleLogout)
	mux.HandleFunc("POST /check_authorization", s.handleCheckAuthorization)
	mux.HandleFunc("POST /postbid", s.handlePostBid)
	mux.HandleFunc("POST /kickclient", s.handleKickClient)
	mux.HandleFunc("GET /event_feed", s.handleFeed)
	mux.HandleFunc("GET /auction", s.handleSnapshot)
	mux.HandleFunc("GET /health", s.handleHealth)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Run serves until Shutdown.
func (s *Server) Run() error {
	s.logger.Info("bid server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and disconnects the feed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.Close()
	return s.httpServer.Shutdown(ctx)
}

// handleLogin authenticates a bidder by the HMAC signature its broker
// platform computed and issues the session cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	bidderID := r.URL.Query().Get("bidder_id")
	hash := r.URL.Query().Get("hash")
	if bidderID == "" || hash == "" {
		s.writeError(w, errors.NewUnauthorizedError("bidder_id and hash are required"))
		return
	}
	if !validSignature(s.cfg.HashSecret, bidderID, hash) {
		s.writeError(w, errors.NewUnauthorizedError("invalid hash"))
		return
	}

	clientID := s.issueSession(w, bidderID)
	s.logger.Info("bidder logged in",
		zap.String("bidder_id", bidderID),
		zap.String("client_id", clientID))
	http.Redirect(w, r, "/auction", http.StatusFound)
}

// handleLogout revokes the caller's session and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if claims, err := s.sessionFromRequest(r); err == nil {
		s.sessions.Kick(claims.ClientID)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	http.Redirect(w, r, "/auction", http.StatusFound)
}

func (s *Server) handleCheckAuthorization(w http.ResponseWriter, r *http.Request) {
	claims, err := s.sessionFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"bidder_id": claims.BidderID,
		"client_id": claims.ClientID,
	})
}

// handlePostBid applies one bid. The stage check and the application run
// under the service's mutation slot, so a stage switch cannot interleave
// with the validation.
func (s *Server) handlePostBid(w http.ResponseWriter, r *http.Request) {
	claims, err := s.sessionFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	bid, err := s.parseBidsForm(r)
	if err != nil {
		s.writeBidFailure(w, err)
		return
	}
	if bid.BidderID != claims.BidderID {
		s.writeError(w, errors.NewForbiddenError("bidder does not match session"))
		return
	}
	if !s.limiter(bid.BidderID).Allow() {
		s.writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"status": "failed",
			"errors": map[string]interface{}{"bid": []string{"Too many bids"}},
		})
		return
	}

	bid.Time = time.Now()
	if err := s.service.PlaceBid(r.Context(), bid); err != nil {
		s.writeBidFailure(w, err)
		return
	}
	s.writeBidSuccess(w, bid)
}

// handleKickClient revokes another session of the same bidder, used when a
// bidder reconnects from a new browser tab.
func (s *Server) handleKickClient(w http.ResponseWriter, r *http.Request) {
	claims, err := s.sessionFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ClientID == "" {
		s.writeError(w, errors.NewValidationError("BAD_REQUEST", "client_id is required"))
		return
	}
	if !s.sessions.Kick(body.ClientID) {
		s.writeError(w, errors.NewNotFoundError("client"))
		return
	}
	s.logger.Info("client kicked",
		zap.String("bidder_id", claims.BidderID),
		zap.String("client_id", body.ClientID))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	s.feed.handleFeed(w, r)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) limiter(bidderID string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[bidderID]
	if !ok {
		limiter = rate.NewLimiter(bidRateLimit, bidRateBurst)
		s.limiters[bidderID] = limiter
	}
	return limiter
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, errors.GetStatusCode(err), map[string]interface{}{
		"status": "failed",
		"errors": map[string]interface{}{"bid": []string{err.Error()}},
	})
}

// writeBidSuccess echoes the applied bid back to the frontend.
func (s *Server) writeBidSuccess(w http.ResponseWriter, bid auctionsvc.Bid) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data": map[string]interface{}{
			"bidder_id": bid.BidderID,
			"amount":    bid.Amount,
			"time":      bid.Time,
		},
	})
}

// writeBidFailure reports a rejected bid. Bidder frontends expect the failed
// envelope with 200; auth failures keep their status codes.
func (s *Server) writeBidFailure(w http.ResponseWriter, err error) {
	code := errors.GetStatusCode(err)
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "failed",
		"errors": map[string]interface{}{"bid": []string{err.Error()}},
	})
}
