package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/campaign-engine/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column. An existing order with the same id is left
// untouched.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) (bool, error) {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return false, errors.Wrap(err, "marshal order items")
	}

	tag, err := r.pool.Exec(ctx, `INSERT INTO orders (
			id, user_id, items, subtotal, campaign_id, campaign_discount,
			coupon_discount, shipping_cost, total, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, nullString(o.UserID), itemsJSON, o.Subtotal, nullString(o.CampaignID), o.CampaignDiscount,
		o.CouponDiscount, o.ShippingCost, o.Total, o.CreatedAt,
	)
	if err != nil {
		return false, errors.Wrapf(err, "create order %q", o.ID)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the stored order with its pricing breakdown.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var (
		o          order.Order
		userID     *string
		campaignID *string
		itemsJSON  []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, items, subtotal, campaign_id, campaign_discount,
			coupon_discount, shipping_cost, total, created_at
		FROM orders WHERE id = $1`, id).Scan(
		&o.ID, &userID, &itemsJSON, &o.Subtotal, &campaignID, &o.CampaignDiscount,
		&o.CouponDiscount, &o.ShippingCost, &o.Total, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, errors.Wrapf(err, "unmarshal items of order %q", id)
	}
	if userID != nil {
		o.UserID = *userID
	}
	if campaignID != nil {
		o.CampaignID = *campaignID
	}
	return &o, nil
}
