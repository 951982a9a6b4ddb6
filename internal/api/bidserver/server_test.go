package bidserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
	"github.com/openauction/texas-worker/internal/infrastructure/datasource"
	"github.com/openauction/texas-worker/internal/infrastructure/store"
	"github.com/openauction/texas-worker/internal/scheduler"
	auctionsvc "github.com/openauction/texas-worker/internal/service/auction"
)

// fixtureBidder is the first bid id of the embedded test tender.
const fixtureBidder = "c26d9eed99624c338ce0fca58a0aac32"

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{
		HashSecret: "test-secret",
		Database:   config.DatabaseConfig{Type: "memory"},
		Datasource: config.DatasourceConfig{Type: "test"},
		Server:     config.ServerConfig{ShutdownTimeout: time.Second},
	}

	source, err := datasource.NewTestSource("doc-1", zap.NewNop())
	require.NoError(t, err)

	sched := scheduler.New(zap.NewNop())
	t.Cleanup(sched.Shutdown)

	service := auctionsvc.New(cfg, "doc-1",
		store.NewMemoryStore(zap.NewNop()), source, sched, nil, zap.NewNop())
	require.NoError(t, service.PrepareAuctionDocument(context.Background()))

	srv := New(cfg, service, nil, zap.NewNop())
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func login(t *testing.T, ts *httptest.Server, bidderID string) *http.Cookie {
	t.Helper()
	resp, err := noRedirectClient().Get(
		ts.URL + "/login?bidder_id=" + bidderID + "&hash=" + signature("test-secret", bidderID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie {
			return cookie
		}
	}
	t.Fatal("no session cookie issued")
	return nil
}

func postBid(t *testing.T, ts *httptest.Server, cookie *http.Cookie, body map[string]interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/postbid", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func firstError(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		Status string              `json:"status"`
		Errors map[string][]string `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "failed", body.Status)
	require.NotEmpty(t, body.Errors["bid"])
	return body.Errors["bid"][0]
}

func TestLogin(t *testing.T) {
	_, ts := testServer(t)

	t.Run("valid signature", func(t *testing.T) {
		cookie := login(t, ts, fixtureBidder)
		assert.NotEmpty(t, cookie.Value)
	})

	t.Run("invalid signature", func(t *testing.T) {
		resp, err := noRedirectClient().Get(
			ts.URL + "/login?bidder_id=" + fixtureBidder + "&hash=bogus")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing params", func(t *testing.T) {
		resp, err := noRedirectClient().Get(ts.URL + "/login")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestCheckAuthorization(t *testing.T) {
	srv, ts := testServer(t)

	t.Run("no session", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/check_authorization", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid session", func(t *testing.T) {
		cookie := login(t, ts, fixtureBidder)
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/check_authorization", nil)
		req.AddCookie(cookie)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, fixtureBidder, body["bidder_id"])
	})

	t.Run("revoked session", func(t *testing.T) {
		cookie := login(t, ts, fixtureBidder)
		parsed, _ := http.NewRequest(http.MethodGet, "/", nil)
		parsed.AddCookie(cookie)
		claims, err := srv.sessionFromRequest(parsed)
		require.NoError(t, err)
		srv.sessions.Kick(claims.ClientID)

		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/check_authorization", nil)
		req.AddCookie(cookie)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestPostBid(t *testing.T) {
	t.Run("method not allowed", func(t *testing.T) {
		_, ts := testServer(t)
		resp, err := http.Get(ts.URL + "/postbid")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("no session", func(t *testing.T) {
		_, ts := testServer(t)
		resp := postBid(t, ts, nil, map[string]interface{}{
			"bidder_id": fixtureBidder, "bid": 36000,
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("missing amount", func(t *testing.T) {
		_, ts := testServer(t)
		cookie := login(t, ts, fixtureBidder)
		resp := postBid(t, ts, cookie, map[string]interface{}{
			"bidder_id": fixtureBidder,
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Bid amount is required", firstError(t, resp))
	})

	t.Run("missing bidder", func(t *testing.T) {
		_, ts := testServer(t)
		cookie := login(t, ts, fixtureBidder)
		resp := postBid(t, ts, cookie, map[string]interface{}{
			"bid": 36000,
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "No bidder id", firstError(t, resp))
	})

	t.Run("session bidder mismatch", func(t *testing.T) {
		_, ts := testServer(t)
		cookie := login(t, ts, fixtureBidder)
		resp := postBid(t, ts, cookie, map[string]interface{}{
			"bidder_id": "someone-else", "bid": 36000,
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("outside a round", func(t *testing.T) {
		// the auction is still planned, so no stage accepts bids
		_, ts := testServer(t)
		cookie := login(t, ts, fixtureBidder)
		resp := postBid(t, ts, cookie, map[string]interface{}{
			"bidder_id": fixtureBidder, "bid": 36000,
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Current stage does not allow bidding", firstError(t, resp))
	})
}

func TestPostBidSuccessEnvelope(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.writeBidSuccess(rec, auctionsvc.Bid{
		BidderID: fixtureBidder,
		Amount:   decimal.NewFromInt(36000),
		Time:     time.Now(),
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string `json:"status"`
		Data   struct {
			BidderID string          `json:"bidder_id"`
			Amount   decimal.Decimal `json:"amount"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, fixtureBidder, body.Data.BidderID)
	assert.True(t, body.Data.Amount.Equal(decimal.NewFromInt(36000)))
}

func TestLogout(t *testing.T) {
	_, ts := testServer(t)
	cookie := login(t, ts, fixtureBidder)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/logout", nil)
	req.AddCookie(cookie)
	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	// the session no longer authorizes
	check, _ := http.NewRequest(http.MethodPost, ts.URL+"/check_authorization", nil)
	check.AddCookie(cookie)
	checkResp, err := http.DefaultClient.Do(check)
	require.NoError(t, err)
	checkResp.Body.Close()
	assert.Equal(t, http.StatusForbidden, checkResp.StatusCode)
}

func TestSnapshotAndHealth(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/auction")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc auction.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, auction.StagePlanned, doc.CurrentStage)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
