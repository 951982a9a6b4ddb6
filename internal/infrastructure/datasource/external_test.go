package datasource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openauction/texas-worker/internal/domain/auction"
	"github.com/openauction/texas-worker/internal/infrastructure/config"
)

func externalConfig(server string) *config.Config {
	return &config.Config{
		ResourceAPIServer:  server,
		ResourceAPIVersion: "2.5",
		ResourceAPIToken:   "api-token",
		ResourceName:       "auctions",
		AuctionsURL:        "https://auctions.example.org",
		HashSecret:         "secret",
		Datasource:         config.DatasourceConfig{Type: "external_api"},
	}
}

func TestExternalGetData(t *testing.T) {
	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/2.5/auctions/doc-1":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{"auctionID": "UA-11111"},
			})
		case "/api/2.5/auctions/doc-1/auction":
			gotAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"bids": []map[string]interface{}{
						{"id": "a", "value": map[string]interface{}{"amount": 35000}},
					},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()

	source := NewExternalSource(externalConfig(api.URL), "doc-1", zap.NewNop())
	ctx := context.Background()

	public, err := source.GetData(ctx, true, false)
	require.NoError(t, err)
	require.NotNil(t, public)
	assert.Equal(t, "UA-11111", public.Data.AuctionID)

	private, err := source.GetData(ctx, false, true)
	require.NoError(t, err)
	require.NotNil(t, private)
	assert.Len(t, private.Data.Bids, 1)
	assert.Equal(t, "Bearer api-token", gotAuth)
}

func TestExternalGetDataNotFound(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer api.Close()

	source := NewExternalSource(externalConfig(api.URL), "doc-1", zap.NewNop())

	data, err := source.GetData(context.Background(), false, true)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestExternalSetParticipationURLs(t *testing.T) {
	var got map[string]interface{}
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/2.5/auctions/doc-1/auction", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	source := NewExternalSource(externalConfig(api.URL), "doc-1", zap.NewNop())
	data := &AuctionData{Data: AuctionInfo{Bids: []APIBid{
		{ID: "a", Status: "active"},
		{ID: "b", Status: "deleted"},
		{ID: "c"},
	}}}

	require.NoError(t, source.SetParticipationURLs(context.Background(), data))

	payload := got["data"].(map[string]interface{})
	assert.Equal(t, "https://auctions.example.org/auctions/doc-1", payload["auctionUrl"])

	// deleted bids get no url
	bids := payload["bids"].([]interface{})
	require.Len(t, bids, 2)
	first := bids[0].(map[string]interface{})
	assert.Equal(t, "a", first["id"])
	assert.Equal(t,
		"https://auctions.example.org/auctions/doc-1/login?bidder_id=a&hash="+
			auction.ParticipationSignature("secret", "a"),
		first["participationUrl"])
	second := bids[1].(map[string]interface{})
	assert.Equal(t, "c", second["id"])
}

func TestExternalPostResults(t *testing.T) {
	t.Run("approved", func(t *testing.T) {
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"bids": []map[string]interface{}{
						{
							"id":        "a",
							"owner":     "broker.one",
							"bidNumber": 1,
							"tenderers": []map[string]interface{}{{"name": "First Bidder LLC"}},
						},
					},
				},
			})
		}))
		defer api.Close()

		source := NewExternalSource(externalConfig(api.URL), "doc-1", zap.NewNop())
		doc := &auction.Document{
			Results: []auction.Result{
				{BidderID: "a", Amount: decimal.NewFromInt(36000), Label: auction.BidderLabel(1)},
			},
		}

		enriched, err := source.PostResults(context.Background(), &AuctionData{}, doc)
		require.NoError(t, err)
		require.NotNil(t, enriched)
		assert.Equal(t, "First Bidder LLC", enriched.Results[0].Label.En)
		// the input document is untouched
		assert.Equal(t, "Bidder #1", doc.Results[0].Label.En)
	})

	t.Run("not approved", func(t *testing.T) {
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{}})
		}))
		defer api.Close()

		source := NewExternalSource(externalConfig(api.URL), "doc-1", zap.NewNop())
		enriched, err := source.PostResults(context.Background(), &AuctionData{}, &auction.Document{})
		require.NoError(t, err)
		assert.Nil(t, enriched)
	})
}

func TestExternalUploadAudit(t *testing.T) {
	var method, path string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"id": "audit-doc-id"},
		})
	}))
	defer api.Close()

	source := NewExternalSource(externalConfig(api.URL), "doc-1", zap.NewNop())
	protocol := auction.NewProtocol("doc-1", "UA-11111", nil)

	id, err := source.UploadAudit(context.Background(), protocol, "")
	require.NoError(t, err)
	assert.Equal(t, "audit-doc-id", id)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/api/2.5/auctions/doc-1/documents", path)

	// a second upload updates the existing document in place
	_, err = source.UploadAudit(context.Background(), protocol, "audit-doc-id")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/api/2.5/auctions/doc-1/documents/audit-doc-id", path)
}

func TestExternalUploadAuditRetries(t *testing.T) {
	attempts := 0
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"id": "audit-doc-id"},
		})
	}))
	defer api.Close()

	source := NewExternalSource(externalConfig(api.URL), "doc-1", zap.NewNop())

	id, err := source.UploadAudit(context.Background(), auction.NewProtocol("doc-1", "UA-11111", nil), "")
	require.NoError(t, err)
	assert.Equal(t, "audit-doc-id", id)
	assert.Equal(t, 3, attempts)
}
