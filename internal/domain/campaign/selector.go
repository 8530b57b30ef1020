package campaign

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Selection is the outcome of choosing a campaign for an order.
type Selection struct {
	// Winner is nil when no campaign applies.
	Winner *Campaign
	// Discount is the winner's discount. For free-shipping campaigns it is the
	// waived shipping cost.
	Discount decimal.Decimal
	// CouponDiscount is the part of the applied coupon that survives the
	// stacking policy.
	CouponDiscount decimal.Decimal
	// Evaluated holds one result per distinct candidate, in candidate order.
	Evaluated []EligibilityResult
}

type scored struct {
	campaign *Campaign
	discount decimal.Decimal
}

// SelectBest evaluates candidates against the order and picks exactly one
// winner by (priority desc, discount desc, id asc). Campaigns that are not
// auto-applied only compete when listed in order.CampaignIDs.
func SelectBest(candidates []Campaign, order OrderContext, now time.Time) Selection {
	coupon := decimal.Min(floorAtZero(order.AppliedCouponAmount), floorAtZero(order.OrderAmount))
	sel := Selection{
		Discount:       decimal.Zero,
		CouponDiscount: coupon,
		Evaluated:      make([]EligibilityResult, 0, len(candidates)),
	}

	seen := make(map[string]struct{}, len(candidates))
	unique := make([]*Campaign, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		unique = append(unique, c)
	}

	if order.Stacking.Mode == StackCouponOnly && coupon.IsPositive() {
		for _, c := range unique {
			sel.Evaluated = append(sel.Evaluated, EligibilityResult{CampaignID: c.ID, Reason: ReasonCouponOnly})
		}
		return sel
	}

	base := order.OrderAmount
	if order.Stacking.Mode == StackBoth {
		base = base.Sub(coupon)
	}

	var eligible []scored
	for _, c := range unique {
		if !c.IsAutoApply && !slices.Contains(order.CampaignIDs, c.ID) {
			sel.Evaluated = append(sel.Evaluated, EligibilityResult{CampaignID: c.ID, Reason: ReasonNotAutoApply})
			continue
		}
		res := Evaluate(c, order, now)
		sel.Evaluated = append(sel.Evaluated, res)
		if !res.Eligible {
			continue
		}
		eligible = append(eligible, scored{
			campaign: c,
			discount: Calculate(c, base, order.ShippingCost),
		})
	}
	if len(eligible) == 0 {
		return sel
	}

	slices.SortFunc(eligible, compareScored)

	winner := *eligible[0].campaign
	sel.Winner = &winner
	sel.Discount = eligible[0].discount
	if order.Stacking.Mode == StackCampaignOnly {
		sel.CouponDiscount = decimal.Zero
	}
	return sel
}

func compareScored(a, b scored) int {
	if a.campaign.Priority != b.campaign.Priority {
		if a.campaign.Priority > b.campaign.Priority {
			return -1
		}
		return 1
	}
	if c := b.discount.Cmp(a.discount); c != 0 {
		return c
	}
	return strings.Compare(a.campaign.ID, b.campaign.ID)
}

// Selector fetches candidates from a catalog and selects the best campaign.
type Selector struct {
	catalog Catalog
	now     func() time.Time
}

// NewSelector creates a Selector backed by the given catalog.
func NewSelector(catalog Catalog) *Selector {
	return &Selector{catalog: catalog, now: time.Now}
}

// Select gathers active campaigns, campaigns targeted at the user and
// explicitly referenced campaigns, then runs SelectBest over them.
func (s *Selector) Select(ctx context.Context, order OrderContext) (*Selection, error) {
	now := s.now()

	candidates, err := s.catalog.ListActive(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "list active campaigns")
	}

	if order.UserID != "" {
		targeted, err := s.catalog.ListForUser(ctx, order.UserID, now)
		if err != nil {
			return nil, errors.Wrap(err, "list user campaigns")
		}
		candidates = append(candidates, targeted...)
	}

	for _, id := range order.CampaignIDs {
		if slices.ContainsFunc(candidates, func(c Campaign) bool { return c.ID == id }) {
			continue
		}
		c, err := s.catalog.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrCampaignNotFound) {
				continue
			}
			return nil, errors.Wrapf(err, "get campaign %s", id)
		}
		candidates = append(candidates, *c)
	}

	sel := SelectBest(candidates, order, now)
	return &sel, nil
}
