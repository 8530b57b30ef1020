package campaign

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type labels the promotional intent of a campaign. It does not affect
// discount arithmetic, which is driven by DiscountType.
type Type string

const (
	TypeDiscount     Type = "discount"
	TypeFreeShipping Type = "free_shipping"
	TypeGift         Type = "gift"
	TypeBundle       Type = "bundle"
	TypeFlashSale    Type = "flash_sale"
	TypeSeasonal     Type = "seasonal"
)

// DiscountType enumerates the supported discount formulas.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed monetary amount, never more than the order amount.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeShipping waives the quoted shipping cost.
	DiscountFreeShipping DiscountType = "free_shipping"
)

var (
	// ErrCampaignNotFound is returned by stores when no campaign has the given id.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrDuplicateCommit is returned by stores when the order was already recorded
	// against the campaign.
	ErrDuplicateCommit = errors.New("usage already recorded for order")
	// ErrConflict is returned by stores on transient concurrency conflicts. The
	// Recorder retries it.
	ErrConflict = errors.New("concurrent usage update conflict")
	// ErrCommitFailed is returned by the Recorder when usage could not be durably
	// recorded. The discount must not be reflected in the finalized order.
	ErrCommitFailed = errors.New("campaign usage commit failed")
	// ErrInvalidCommit is returned by the Recorder for malformed commit requests.
	ErrInvalidCommit = errors.New("invalid usage commit")
)

// Rules holds the eligibility constraints of a campaign. Empty lists and zero
// bounds mean "no constraint".
type Rules struct {
	MinOrderAmount       decimal.Decimal     `json:"minOrderAmount"`
	MaxOrderAmount       decimal.NullDecimal `json:"maxOrderAmount"`
	ApplicableCategories []string            `json:"applicableCategories,omitempty"`
	ApplicableBrands     []string            `json:"applicableBrands,omitempty"`
	ApplicableProducts   []string            `json:"applicableProducts,omitempty"`
	ExcludedProducts     []string            `json:"excludedProducts,omitempty"`
	UserGroups           []string            `json:"userGroups,omitempty"`
	ApplicableUsers      []string            `json:"applicableUsers,omitempty"`
	ExcludedUsers        []string            `json:"excludedUsers,omitempty"`
	MinProductCount      int                 `json:"minProductCount"`
	MaxProductCount      int                 `json:"maxProductCount"`
}

// Discount describes how the discount amount is computed.
type Discount struct {
	Type              DiscountType        `json:"type"`
	Value             decimal.Decimal     `json:"value"`
	MaxDiscountAmount decimal.NullDecimal `json:"maxDiscountAmount"`
}

// Stats holds aggregate usage counters. They are derived from the usage
// history and only ever changed together with an appended UsageEntry.
type Stats struct {
	TotalUses       int64           `json:"totalUses"`
	TotalDiscount   decimal.Decimal `json:"totalDiscount"`
	TotalOrderValue decimal.Decimal `json:"totalOrderValue"`
	UniqueUsers     int64           `json:"uniqueUsers"`
}

// UsageEntry is one redemption of a campaign by a finalized order.
type UsageEntry struct {
	ID             string          `json:"id"`
	CampaignID     string          `json:"campaignId"`
	UserID         string          `json:"userId,omitempty"`
	OrderID        string          `json:"orderId"`
	OrderAmount    decimal.Decimal `json:"orderAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	UsedAt         time.Time       `json:"usedAt"`
}

// Campaign is a time-boxed promotional rule with eligibility constraints and a
// discount formula.
type Campaign struct {
	ID          string
	Name        string
	Description string
	Type        Type
	Rules       Rules
	Discount    Discount
	IsActive    bool
	IsAutoApply bool
	Priority    int
	StartDate   time.Time
	EndDate     time.Time
	Stats       Stats
	// UsageHistory is only populated by stores that are asked for it; catalog
	// listings leave it empty.
	UsageHistory []UsageEntry
	// Version is incremented on every recorded usage.
	Version   int64
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsValid reports whether the campaign is active and now lies within its
// [StartDate, EndDate] window.
func (c *Campaign) IsValid(now time.Time) bool {
	return c.IsActive && !now.Before(c.StartDate) && !now.After(c.EndDate)
}

// Item is a single order line as seen by the eligibility rules.
type Item struct {
	ProductID  string
	CategoryID string
	BrandID    string
	Quantity   int
}

// OrderContext is the checkout state a campaign is evaluated against.
type OrderContext struct {
	// UserID is empty for guest checkouts.
	UserID      string
	UserGroups  []string
	Items       []Item
	OrderAmount decimal.Decimal
	// ShippingCost is quoted by the shipping collaborator and waived by
	// free-shipping campaigns.
	ShippingCost        decimal.Decimal
	AppliedCouponAmount decimal.Decimal
	// CampaignIDs lists campaigns referenced explicitly by the caller. Only
	// these may win when they are not auto-applied.
	CampaignIDs []string
	Stacking    StackingPolicy
}

// Catalog provides read access to campaigns. Listings are pre-filtered by
// validity window but callers must still evaluate each campaign.
type Catalog interface {
	ListActive(ctx context.Context, now time.Time) ([]Campaign, error)
	ListForUser(ctx context.Context, userID string, now time.Time) ([]Campaign, error)
	Get(ctx context.Context, id string) (*Campaign, error)
}

// UsageStore durably records campaign redemptions.
type UsageStore interface {
	// RecordUsage appends the entry and updates the campaign stats as one
	// atomic unit. It returns ErrDuplicateCommit when the order is already
	// recorded, ErrConflict on transient conflicts and ErrCampaignNotFound for
	// unknown campaigns.
	RecordUsage(ctx context.Context, entry UsageEntry) (Stats, error)
	// Usage returns the campaign with its stats and full usage history.
	Usage(ctx context.Context, campaignID string) (*Campaign, error)
}
