package campaign

import (
	"slices"
	"time"
)

// ReasonCode explains why a campaign does not apply to an order.
type ReasonCode string

const (
	ReasonInactive             ReasonCode = "INACTIVE"
	ReasonNotStarted           ReasonCode = "NOT_STARTED"
	ReasonExpired              ReasonCode = "EXPIRED"
	ReasonBelowMinOrder        ReasonCode = "BELOW_MIN_ORDER"
	ReasonAboveMaxOrder        ReasonCode = "ABOVE_MAX_ORDER"
	ReasonUserExcluded         ReasonCode = "USER_EXCLUDED"
	ReasonUserNotEligible      ReasonCode = "USER_NOT_ELIGIBLE"
	ReasonUserGroupNotEligible ReasonCode = "USER_GROUP_NOT_ELIGIBLE"
	ReasonBelowMinItems        ReasonCode = "BELOW_MIN_ITEMS"
	ReasonAboveMaxItems        ReasonCode = "ABOVE_MAX_ITEMS"
	ReasonProductExcluded      ReasonCode = "PRODUCT_EXCLUDED"
	ReasonNoMatchingItem       ReasonCode = "NO_MATCHING_ITEM"
	// ReasonNotAutoApply is reported by the selector for campaigns that must be
	// referenced explicitly.
	ReasonNotAutoApply ReasonCode = "NOT_AUTO_APPLY"
	// ReasonCouponOnly is reported by the selector when the stacking policy
	// gives precedence to an applied coupon.
	ReasonCouponOnly ReasonCode = "COUPON_ONLY"
)

// EligibilityResult is the outcome of evaluating one campaign. Reason is empty
// when Eligible is true.
type EligibilityResult struct {
	CampaignID string     `json:"campaignId"`
	Eligible   bool       `json:"eligible"`
	Reason     ReasonCode `json:"reason,omitempty"`
}

// Evaluate checks the campaign against the order. Checks run in a fixed order
// and stop at the first failure, so the reported reason is always the first
// blocking rule.
func Evaluate(c *Campaign, order OrderContext, now time.Time) EligibilityResult {
	reason := firstBlockingRule(c, order, now)
	return EligibilityResult{
		CampaignID: c.ID,
		Eligible:   reason == "",
		Reason:     reason,
	}
}

func firstBlockingRule(c *Campaign, order OrderContext, now time.Time) ReasonCode {
	r := &c.Rules

	if !c.IsActive {
		return ReasonInactive
	}
	if now.Before(c.StartDate) {
		return ReasonNotStarted
	}
	if now.After(c.EndDate) {
		return ReasonExpired
	}

	if order.OrderAmount.LessThan(r.MinOrderAmount) {
		return ReasonBelowMinOrder
	}
	if r.MaxOrderAmount.Valid && order.OrderAmount.GreaterThan(r.MaxOrderAmount.Decimal) {
		return ReasonAboveMaxOrder
	}

	if order.UserID != "" {
		if slices.Contains(r.ExcludedUsers, order.UserID) {
			return ReasonUserExcluded
		}
		if len(r.ApplicableUsers) > 0 && !slices.Contains(r.ApplicableUsers, order.UserID) {
			return ReasonUserNotEligible
		}
		if len(r.UserGroups) > 0 && !intersects(r.UserGroups, order.UserGroups) {
			return ReasonUserGroupNotEligible
		}
	}

	if len(order.Items) > 0 {
		qty := totalQuantity(order.Items)
		if qty < r.MinProductCount {
			return ReasonBelowMinItems
		}
		if r.MaxProductCount > 0 && qty > r.MaxProductCount {
			return ReasonAboveMaxItems
		}
	}

	for _, item := range order.Items {
		if slices.Contains(r.ExcludedProducts, item.ProductID) {
			return ReasonProductExcluded
		}
	}
	if r.hasAllowLists() && !slices.ContainsFunc(order.Items, r.matches) {
		return ReasonNoMatchingItem
	}

	return ""
}

func (r *Rules) hasAllowLists() bool {
	return len(r.ApplicableProducts) > 0 ||
		len(r.ApplicableCategories) > 0 ||
		len(r.ApplicableBrands) > 0
}

// matches reports whether the item satisfies every non-empty allow-list.
func (r *Rules) matches(item Item) bool {
	if len(r.ApplicableProducts) > 0 && !slices.Contains(r.ApplicableProducts, item.ProductID) {
		return false
	}
	if len(r.ApplicableCategories) > 0 && !slices.Contains(r.ApplicableCategories, item.CategoryID) {
		return false
	}
	if len(r.ApplicableBrands) > 0 && !slices.Contains(r.ApplicableBrands, item.BrandID) {
		return false
	}
	return true
}

// totalQuantity returns the sum of quantities across all items.
func totalQuantity(items []Item) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
