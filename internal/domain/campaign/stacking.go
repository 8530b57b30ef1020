package campaign

// StackingMode decides how an applied coupon interacts with campaigns.
type StackingMode string

const (
	// StackCampaignOnly drops the coupon when a campaign wins and keeps it
	// otherwise. It is the zero value.
	StackCampaignOnly StackingMode = ""
	// StackBoth applies the coupon and the winning campaign together. The
	// campaign discount is computed on the amount left after the coupon.
	StackBoth StackingMode = "stack"
	// StackCouponOnly disables campaign selection while a coupon is applied.
	StackCouponOnly StackingMode = "coupon_only"
)

// StackingPolicy is supplied by the caller; the selector never decides it.
type StackingPolicy struct {
	Mode StackingMode
}

// DefaultStacking returns the policy for a coupon: campaigns and coupons stack
// only when the coupon is explicitly marked stackable.
func DefaultStacking(couponStackable bool) StackingPolicy {
	if couponStackable {
		return StackingPolicy{Mode: StackBoth}
	}
	return StackingPolicy{Mode: StackCampaignOnly}
}

// String returns the mode name used in logs and API responses.
func (m StackingMode) String() string {
	if m == StackCampaignOnly {
		return "campaign_only"
	}
	return string(m)
}

// ParseStackingMode maps an API value to a mode. Unknown values fall back to
// campaign-only.
func ParseStackingMode(s string) StackingMode {
	switch StackingMode(s) {
	case StackBoth:
		return StackBoth
	case StackCouponOnly:
		return StackCouponOnly
	default:
		return StackCampaignOnly
	}
}
