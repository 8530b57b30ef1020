package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type statsResponse struct {
	TotalUses       int64   `json:"totalUses"`
	TotalDiscount   float64 `json:"totalDiscount"`
	TotalOrderValue float64 `json:"totalOrderValue"`
	UniqueUsers     int64   `json:"uniqueUsers"`
}

type usageEntryResponse struct {
	UserID         string    `json:"userId,omitempty"`
	OrderID        string    `json:"orderId"`
	OrderAmount    float64   `json:"orderAmount"`
	DiscountAmount float64   `json:"discountAmount"`
	UsedAt         time.Time `json:"usedAt"`
}

type usageResponse struct {
	CampaignID string               `json:"campaignId"`
	Version    int64                `json:"version"`
	Stats      statsResponse        `json:"stats"`
	History    []usageEntryResponse `json:"history"`
}

// CampaignUsage returns the stats and usage history of one campaign.
func (h *Handler) CampaignUsage(w http.ResponseWriter, r *http.Request) {
	c, err := h.usage.Usage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	resp := usageResponse{
		CampaignID: c.ID,
		Version:    c.Version,
		Stats: statsResponse{
			TotalUses:       c.Stats.TotalUses,
			TotalDiscount:   c.Stats.TotalDiscount.InexactFloat64(),
			TotalOrderValue: c.Stats.TotalOrderValue.InexactFloat64(),
			UniqueUsers:     c.Stats.UniqueUsers,
		},
		History: make([]usageEntryResponse, len(c.UsageHistory)),
	}
	for i, u := range c.UsageHistory {
		resp.History[i] = usageEntryResponse{
			UserID:         u.UserID,
			OrderID:        u.OrderID,
			OrderAmount:    u.OrderAmount.InexactFloat64(),
			DiscountAmount: u.DiscountAmount.InexactFloat64(),
			UsedAt:         u.UsedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
