package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
	"github.com/xenking/campaign-engine/internal/domain/product"
)

// Sentinel errors for checkout validation.
var (
	ErrEmptyItems    = errors.New("items required")
	ErrInvalidAmount = errors.New("amounts must not be negative")
	// ErrDiscountNotRecorded is returned by Confirm when the campaign usage could
	// not be committed. The order is not persisted.
	ErrDiscountNotRecorded = errors.New("campaign discount could not be recorded")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// CampaignSelector picks the campaign for an order context.
type CampaignSelector interface {
	Select(ctx context.Context, order campaign.OrderContext) (*campaign.Selection, error)
}

// UsageRecorder commits campaign usage for a finalized order.
type UsageRecorder interface {
	Commit(ctx context.Context, req campaign.CommitRequest) (*campaign.CommitResult, error)
}

// CheckoutRequest holds the input for quoting or confirming an order.
type CheckoutRequest struct {
	// OrderID is only used by Confirm. A new id is generated when empty.
	OrderID    string
	UserID     string
	UserGroups []string
	Items      []OrderItem
	// ShippingCost is quoted by the shipping collaborator.
	ShippingCost decimal.Decimal
	// CouponAmount is the discount of an already validated coupon.
	CouponAmount    decimal.Decimal
	CouponStackable bool
	// StackingMode overrides the policy derived from CouponStackable when set.
	StackingMode string
	CampaignIDs  []string
}

// Line is a priced order line.
type Line struct {
	Product   product.Product
	Quantity  int
	LineTotal decimal.Decimal
}

// Quote is the priced checkout.
type Quote struct {
	Lines            []Line
	Subtotal         decimal.Decimal
	Campaign         *campaign.Campaign
	CampaignDiscount decimal.Decimal
	CouponDiscount   decimal.Decimal
	ShippingCost     decimal.Decimal
	Total            decimal.Decimal
	Stacking         campaign.StackingMode
	Evaluated        []campaign.EligibilityResult
}

// Confirmation is the outcome of a confirmed checkout.
type Confirmation struct {
	// Order is the persisted order. On replay it is the stored record, not a
	// fresh pricing.
	Order *Order
	// Quote is the pricing that produced Order. It is nil on replay.
	Quote *Quote
	// Replayed is true when the order had already been confirmed.
	Replayed bool
}

// Service prices checkouts and finalizes orders.
type Service struct {
	products product.Repository
	selector CampaignSelector
	recorder UsageRecorder
	orders   Repository
	now      func() time.Time
	newID    func() string
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	selector CampaignSelector,
	recorder UsageRecorder,
	orders Repository,
) *Service {
	return &Service{
		products: products,
		selector: selector,
		recorder: recorder,
		orders:   orders,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Quote validates items, fetches products in a single batch, selects the
// campaign and prices the order. Nothing is persisted.
func (s *Service) Quote(ctx context.Context, req CheckoutRequest) (*Quote, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.ShippingCost.IsNegative() || req.CouponAmount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	q := &Quote{
		Lines:        make([]Line, 0, len(req.Items)),
		Subtotal:     decimal.Zero,
		ShippingCost: req.ShippingCost,
	}
	items := make([]campaign.Item, 0, len(req.Items))
	for _, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		lineTotal := p.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		q.Lines = append(q.Lines, Line{Product: p, Quantity: item.Quantity, LineTotal: lineTotal})
		q.Subtotal = q.Subtotal.Add(lineTotal)
		items = append(items, campaign.Item{
			ProductID:  p.ID,
			CategoryID: p.Category,
			BrandID:    p.Brand,
			Quantity:   item.Quantity,
		})
	}
	q.Subtotal = q.Subtotal.Round(2)

	stacking := campaign.DefaultStacking(req.CouponStackable)
	if req.StackingMode != "" {
		stacking = campaign.StackingPolicy{Mode: campaign.ParseStackingMode(req.StackingMode)}
	}
	q.Stacking = stacking.Mode

	sel, err := s.selector.Select(ctx, campaign.OrderContext{
		UserID:              req.UserID,
		UserGroups:          req.UserGroups,
		Items:               items,
		OrderAmount:         q.Subtotal,
		ShippingCost:        req.ShippingCost,
		AppliedCouponAmount: req.CouponAmount,
		CampaignIDs:         req.CampaignIDs,
		Stacking:            stacking,
	})
	if err != nil {
		return nil, errors.Wrap(err, "select campaign")
	}
	q.Campaign = sel.Winner
	q.CampaignDiscount = sel.Discount
	q.CouponDiscount = sel.CouponDiscount
	q.Evaluated = sel.Evaluated

	// Free-shipping discounts equal the waived shipping, so one formula covers
	// every discount type.
	total := q.Subtotal.Add(q.ShippingCost).Sub(q.CampaignDiscount).Sub(q.CouponDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	q.Total = total.Round(2)

	return q, nil
}

// Confirm prices the order, commits the campaign usage and persists the
// order. A confirmation for an OrderID that is already stored returns the
// stored order without pricing again, so the order stays bound to the
// campaign it was first confirmed with.
func (s *Service) Confirm(ctx context.Context, req CheckoutRequest) (*Confirmation, error) {
	if req.OrderID != "" {
		stored, err := s.orders.Get(ctx, req.OrderID)
		switch {
		case err == nil:
			return &Confirmation{Order: stored, Replayed: true}, nil
		case !errors.Is(err, ErrNotFound):
			return nil, errors.Wrap(err, "get order")
		}
	}

	q, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = s.newID()
	}

	items := make([]OrderItem, len(q.Lines))
	for i, l := range q.Lines {
		items[i] = OrderItem{ProductID: l.Product.ID, Quantity: l.Quantity, UnitPrice: l.Product.Price}
	}
	o := &Order{
		ID:               orderID,
		UserID:           req.UserID,
		Items:            items,
		Subtotal:         q.Subtotal,
		CampaignDiscount: q.CampaignDiscount,
		CouponDiscount:   q.CouponDiscount,
		ShippingCost:     q.ShippingCost,
		Total:            q.Total,
		CreatedAt:        s.now().UTC(),
	}

	if q.Campaign != nil {
		o.CampaignID = q.Campaign.ID
		if _, err := s.recorder.Commit(ctx, campaign.CommitRequest{
			CampaignID:     q.Campaign.ID,
			UserID:         req.UserID,
			OrderID:        orderID,
			OrderAmount:    q.Subtotal,
			ShippingCost:   q.ShippingCost,
			DiscountAmount: q.CampaignDiscount,
		}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDiscountNotRecorded, err)
		}
	}

	created, err := s.orders.Create(ctx, o)
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	if !created {
		// A concurrent confirmation stored the order first.
		stored, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return nil, errors.Wrap(err, "get order")
		}
		return &Confirmation{Order: stored, Replayed: true}, nil
	}

	return &Confirmation{Order: o, Quote: q}, nil
}
