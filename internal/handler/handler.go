package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
	"github.com/xenking/campaign-engine/internal/domain/order"
)

const maxBodyBytes = 1 << 20

// Checkout is the order service used by the handlers.
type Checkout interface {
	Quote(ctx context.Context, req order.CheckoutRequest) (*order.Quote, error)
	Confirm(ctx context.Context, req order.CheckoutRequest) (*order.Confirmation, error)
}

// UsageReader returns a campaign with its usage history.
type UsageReader interface {
	Usage(ctx context.Context, campaignID string) (*campaign.Campaign, error)
}

// Handler serves the checkout and campaign usage API.
type Handler struct {
	checkout Checkout
	usage    UsageReader
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(checkout Checkout, usage UsageReader) *Handler {
	return &Handler{checkout: checkout, usage: usage}
}

// Register mounts the API routes on r. orderMiddlewares only wrap order
// placement.
func (h *Handler) Register(r chi.Router, orderMiddlewares ...func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout/quote", h.Quote)
		r.With(orderMiddlewares...).Post("/orders", h.PlaceOrder)
		r.Get("/campaigns/{id}/usage", h.CampaignUsage)
	})
}

// RoutePattern returns the chi route pattern matched for r, or "" before
// routing or when nothing matched.
func RoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

// writeDomainError maps domain errors to API errors. Unknown errors are logged
// and reported as 500 without details.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		iqErr  *order.InvalidQuantityError
		pnfErr *order.ProductNotFoundError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.As(err, &pnfErr):
		writeError(w, http.StatusUnprocessableEntity, pnfErr.Error())
	case errors.Is(err, order.ErrInvalidAmount):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, campaign.ErrCampaignNotFound):
		writeError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, order.ErrDiscountNotRecorded):
		zctx.From(ctx).Error("Campaign usage not recorded", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, order.ErrDiscountNotRecorded.Error())
	default:
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
