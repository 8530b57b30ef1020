package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
	"github.com/xenking/campaign-engine/internal/domain/order"
)

type itemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	OrderID         string          `json:"orderId,omitempty"`
	UserID          string          `json:"userId,omitempty"`
	UserGroups      []string        `json:"userGroups,omitempty"`
	Items           []itemRequest   `json:"items"`
	ShippingCost    decimal.Decimal `json:"shippingCost"`
	CouponAmount    decimal.Decimal `json:"couponAmount"`
	CouponStackable bool            `json:"couponStackable,omitempty"`
	Stacking        string          `json:"stacking,omitempty"`
	CampaignIDs     []string        `json:"campaignIds,omitempty"`
}

func (r checkoutRequest) toDomain() order.CheckoutRequest {
	items := make([]order.OrderItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = order.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return order.CheckoutRequest{
		OrderID:         r.OrderID,
		UserID:          r.UserID,
		UserGroups:      r.UserGroups,
		Items:           items,
		ShippingCost:    r.ShippingCost,
		CouponAmount:    r.CouponAmount,
		CouponStackable: r.CouponStackable,
		StackingMode:    r.Stacking,
		CampaignIDs:     r.CampaignIDs,
	}
}

type campaignSummary struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	DiscountType string  `json:"discountType"`
	Priority     int     `json:"priority"`
	Discount     float64 `json:"discount"`
}

type lineResponse struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	LineTotal float64 `json:"lineTotal"`
}

type quoteResponse struct {
	Lines            []lineResponse               `json:"lines"`
	Subtotal         float64                      `json:"subtotal"`
	Campaign         *campaignSummary             `json:"campaign"`
	CampaignDiscount float64                      `json:"campaignDiscount"`
	CouponDiscount   float64                      `json:"couponDiscount"`
	ShippingCost     float64                      `json:"shippingCost"`
	Total            float64                      `json:"total"`
	Stacking         string                       `json:"stacking"`
	Evaluated        []campaign.EligibilityResult `json:"evaluated"`
}

type orderItemResponse struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	LineTotal float64 `json:"lineTotal"`
}

// orderResponse is built from the stored order so a replay reports exactly
// what was confirmed first. Quote is only set on the first confirmation.
type orderResponse struct {
	ID               string              `json:"id"`
	Replayed         bool                `json:"replayed"`
	UserID           string              `json:"userId,omitempty"`
	Items            []orderItemResponse `json:"items"`
	Subtotal         float64             `json:"subtotal"`
	CampaignID       string              `json:"campaignId,omitempty"`
	CampaignDiscount float64             `json:"campaignDiscount"`
	CouponDiscount   float64             `json:"couponDiscount"`
	ShippingCost     float64             `json:"shippingCost"`
	Total            float64             `json:"total"`
	CreatedAt        time.Time           `json:"createdAt"`
	Quote            *quoteResponse      `json:"quote,omitempty"`
}

func confirmationToResponse(res *order.Confirmation) orderResponse {
	o := res.Order
	resp := orderResponse{
		ID:               o.ID,
		Replayed:         res.Replayed,
		UserID:           o.UserID,
		Items:            make([]orderItemResponse, len(o.Items)),
		Subtotal:         o.Subtotal.InexactFloat64(),
		CampaignID:       o.CampaignID,
		CampaignDiscount: o.CampaignDiscount.InexactFloat64(),
		CouponDiscount:   o.CouponDiscount.InexactFloat64(),
		ShippingCost:     o.ShippingCost.InexactFloat64(),
		Total:            o.Total.InexactFloat64(),
		CreatedAt:        o.CreatedAt,
	}
	for i, item := range o.Items {
		resp.Items[i] = orderItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.InexactFloat64(),
			LineTotal: item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).InexactFloat64(),
		}
	}
	if res.Quote != nil {
		q := quoteToResponse(res.Quote)
		resp.Quote = &q
	}
	return resp
}

func quoteToResponse(q *order.Quote) quoteResponse {
	resp := quoteResponse{
		Lines:            make([]lineResponse, len(q.Lines)),
		Subtotal:         q.Subtotal.InexactFloat64(),
		CampaignDiscount: q.CampaignDiscount.InexactFloat64(),
		CouponDiscount:   q.CouponDiscount.InexactFloat64(),
		ShippingCost:     q.ShippingCost.InexactFloat64(),
		Total:            q.Total.InexactFloat64(),
		Stacking:         q.Stacking.String(),
		Evaluated:        q.Evaluated,
	}
	if resp.Evaluated == nil {
		resp.Evaluated = []campaign.EligibilityResult{}
	}
	for i, l := range q.Lines {
		resp.Lines[i] = lineResponse{
			ProductID: l.Product.ID,
			Name:      l.Product.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.Product.Price.InexactFloat64(),
			LineTotal: l.LineTotal.InexactFloat64(),
		}
	}
	if c := q.Campaign; c != nil {
		resp.Campaign = &campaignSummary{
			ID:           c.ID,
			Name:         c.Name,
			Type:         string(c.Type),
			DiscountType: string(c.Discount.Type),
			Priority:     c.Priority,
			Discount:     q.CampaignDiscount.InexactFloat64(),
		}
	}
	return resp
}

// Quote prices a checkout without recording anything.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q, err := h.checkout.Quote(r.Context(), req.toDomain())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteToResponse(q))
}

// PlaceOrder confirms the checkout, recording campaign usage.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.checkout.Confirm(r.Context(), req.toDomain())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, confirmationToResponse(res))
}
