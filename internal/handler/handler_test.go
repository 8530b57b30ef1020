package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
	"github.com/xenking/campaign-engine/internal/domain/order"
	"github.com/xenking/campaign-engine/internal/domain/product"
	"github.com/xenking/campaign-engine/internal/storage/memory"
)

type productRepo struct {
	byID map[string]product.Product
}

func (p productRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if v, ok := p.byID[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (p productRepo) Upsert(context.Context, product.Product) error { return nil }

type orderRepo struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

func (o *orderRepo) Create(_ context.Context, ord *order.Order) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.orders[ord.ID]; ok {
		return false, nil
	}
	o.orders[ord.ID] = ord
	return true, nil
}

func (o *orderRepo) Get(_ context.Context, id string) (*order.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, ok := o.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return ord, nil
}

type failingRecorder struct{}

func (failingRecorder) Commit(context.Context, campaign.CommitRequest) (*campaign.CommitResult, error) {
	return nil, campaign.ErrCommitFailed
}

func newServer(t *testing.T, recorder order.UsageRecorder, orderMiddlewares ...func(http.Handler) http.Handler) (*httptest.Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	now := time.Now()
	store.Put(campaign.Campaign{
		ID:          "summer",
		Name:        "Summer sale",
		Type:        campaign.TypeSeasonal,
		IsActive:    true,
		IsAutoApply: true,
		Priority:    1,
		StartDate:   now.Add(-time.Hour),
		EndDate:     now.Add(time.Hour),
		Rules:       campaign.Rules{MinOrderAmount: decimal.NewFromInt(50)},
		Discount:    campaign.Discount{Type: campaign.DiscountPercentage, Value: decimal.NewFromInt(10)},
	})

	if recorder == nil {
		r, err := campaign.NewRecorder(store, campaign.DefaultRecorderConfig())
		require.NoError(t, err)
		recorder = r
	}

	products := productRepo{byID: map[string]product.Product{
		"p1": {ID: "p1", Name: "Sneaker", Price: decimal.RequireFromString("30.00"), Category: "shoes", Brand: "acme"},
	}}
	svc := order.NewService(products, campaign.NewSelector(store), recorder, &orderRepo{orders: map[string]*order.Order{}})

	r := chi.NewRouter()
	NewHandler(svc, store).Register(r, orderMiddlewares...)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestQuote(t *testing.T) {
	srv, _ := newServer(t, nil)

	tests := []struct {
		name         string
		body         string
		wantStatus   int
		wantTotal    float64
		wantCampaign bool
		wantMessage  string
	}{
		{
			name:         "campaign applies above min order",
			body:         `{"items":[{"productId":"p1","quantity":2}],"userId":"u1"}`,
			wantStatus:   http.StatusOK,
			wantTotal:    54,
			wantCampaign: true,
		},
		{
			name:       "below min order",
			body:       `{"items":[{"productId":"p1","quantity":1}],"shippingCost":"4.50"}`,
			wantStatus: http.StatusOK,
			wantTotal:  34.5,
		},
		{
			name:        "empty items",
			body:        `{"items":[]}`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "items required",
		},
		{
			name:        "unknown product",
			body:        `{"items":[{"productId":"nope","quantity":1}]}`,
			wantStatus:  http.StatusUnprocessableEntity,
			wantMessage: "product nope not found",
		},
		{
			name:       "malformed body",
			body:       `{"items":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"items":[{"productId":"p1","quantity":1}],"bogus":true}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv.URL+"/api/checkout/quote", tt.body)

			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus != http.StatusOK {
				assert.EqualValues(t, tt.wantStatus, body["code"])
				if tt.wantMessage != "" {
					assert.Equal(t, tt.wantMessage, body["message"])
				}
				return
			}
			assert.InDelta(t, tt.wantTotal, body["total"], 0.001)
			assert.Equal(t, tt.wantCampaign, body["campaign"] != nil)
			assert.NotEmpty(t, body["evaluated"])
		})
	}
}

func TestPlaceOrder_RecordsUsageOnce(t *testing.T) {
	srv, store := newServer(t, nil)
	body := `{"orderId":"o-1","userId":"u1","items":[{"productId":"p1","quantity":2}]}`

	resp, first := post(t, srv.URL+"/api/orders", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "o-1", first["id"])
	assert.Equal(t, false, first["replayed"])

	assert.Equal(t, "summer", first["campaignId"])
	assert.InDelta(t, 54.0, first["total"], 0.001)
	require.NotNil(t, first["quote"])

	resp, second := post(t, srv.URL+"/api/orders", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, second["replayed"])
	assert.Equal(t, first["campaignId"], second["campaignId"])
	assert.Equal(t, first["total"], second["total"])
	assert.Equal(t, first["createdAt"], second["createdAt"])
	assert.Nil(t, second["quote"])

	c, err := store.Usage(context.Background(), "summer")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Stats.TotalUses)

	getResp, err := http.Get(srv.URL + "/api/campaigns/summer/usage")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var usage usageResponse
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&usage))
	assert.Equal(t, int64(1), usage.Stats.TotalUses)
	assert.Equal(t, int64(1), usage.Stats.UniqueUsers)
	require.Len(t, usage.History, 1)
	assert.Equal(t, "o-1", usage.History[0].OrderID)
	assert.InDelta(t, 6.0, usage.History[0].DiscountAmount, 0.001)
}

func TestPlaceOrder_UsageNotRecorded(t *testing.T) {
	srv, _ := newServer(t, failingRecorder{})

	resp, body := post(t, srv.URL+"/api/orders", `{"items":[{"productId":"p1","quantity":2}]}`)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, strings.Contains(body["message"].(string), "could not be recorded"))
}

func TestCampaignUsage_NotFound(t *testing.T) {
	srv, _ := newServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/campaigns/missing/usage")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlaceOrder_ReplayIgnoresChangedCart(t *testing.T) {
	srv, _ := newServer(t, nil)

	resp, first := post(t, srv.URL+"/api/orders", `{"orderId":"o-2","items":[{"productId":"p1","quantity":2}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, second := post(t, srv.URL+"/api/orders", `{"orderId":"o-2","items":[{"productId":"p1","quantity":5}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, first["total"], second["total"])
	items := second["items"].([]any)
	require.Len(t, items, 1)
	line := items[0].(map[string]any)
	assert.EqualValues(t, 2, line["quantity"])
	assert.InDelta(t, 30.0, line["unitPrice"], 0.001)
	assert.InDelta(t, 60.0, line["lineTotal"], 0.001)
}

func TestRegister_OrderMiddlewaresOnlyWrapOrders(t *testing.T) {
	var (
		mu      sync.Mutex
		wrapped []string
	)
	mark := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			wrapped = append(wrapped, RoutePattern(r))
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
	srv, _ := newServer(t, nil, mark)

	resp, _ := post(t, srv.URL+"/api/checkout/quote", `{"items":[{"productId":"p1","quantity":1}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = post(t, srv.URL+"/api/orders", `{"items":[{"productId":"p1","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/api/orders"}, wrapped)
}
