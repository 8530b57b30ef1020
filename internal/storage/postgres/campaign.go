package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
)

var (
	_ campaign.Catalog    = (*CampaignRepository)(nil)
	_ campaign.UsageStore = (*CampaignRepository)(nil)
)

const campaignColumns = `id, name, description, type, rules, discount_type, discount_value,
	max_discount_amount, is_active, is_auto_apply, priority, start_date, end_date,
	total_uses, total_discount, total_order_value, unique_users, version,
	created_by, created_at, updated_at`

// CampaignRepository implements campaign.Catalog and campaign.UsageStore
// backed by PostgreSQL.
type CampaignRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewCampaignRepository returns a CampaignRepository that uses the given pool.
// lockTimeout bounds how long a usage commit waits for the campaign row lock;
// zero leaves the server default.
func NewCampaignRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *CampaignRepository {
	return &CampaignRepository{pool: pool, lockTimeout: lockTimeout}
}

// ListActive returns valid campaigns that are not restricted to specific
// users.
func (r *CampaignRepository) ListActive(ctx context.Context, now time.Time) ([]campaign.Campaign, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE is_active AND start_date <= $1 AND end_date >= $1
		  AND (jsonb_typeof(rules -> 'applicableUsers') IS DISTINCT FROM 'array'
		       OR rules -> 'applicableUsers' = '[]'::jsonb)
		ORDER BY priority DESC, id`, now)
	if err != nil {
		return nil, errors.Wrap(err, "query active campaigns")
	}
	return collectCampaigns(rows)
}

// ListForUser returns valid campaigns whose applicable users include userID.
func (r *CampaignRepository) ListForUser(ctx context.Context, userID string, now time.Time) ([]campaign.Campaign, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE is_active AND start_date <= $1 AND end_date >= $1
		  AND rules -> 'applicableUsers' @> jsonb_build_array($2::text)
		ORDER BY priority DESC, id`, now, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query user campaigns")
	}
	return collectCampaigns(rows)
}

// Get returns a campaign by id regardless of its validity.
func (r *CampaignRepository) Get(ctx context.Context, id string) (*campaign.Campaign, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, campaign.ErrCampaignNotFound
		}
		return nil, errors.Wrapf(err, "get campaign %q", id)
	}
	return &c, nil
}

// Upsert inserts a campaign or updates its definition. Usage counters and
// version are owned by RecordUsage and never overwritten.
func (r *CampaignRepository) Upsert(ctx context.Context, c *campaign.Campaign) error {
	rules, err := json.Marshal(c.Rules)
	if err != nil {
		return errors.Wrap(err, "marshal rules")
	}

	_, err = r.pool.Exec(ctx, `INSERT INTO campaigns (
			id, name, description, type, rules, discount_type, discount_value,
			max_discount_amount, is_active, is_auto_apply, priority, start_date, end_date, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			type = EXCLUDED.type,
			rules = EXCLUDED.rules,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			max_discount_amount = EXCLUDED.max_discount_amount,
			is_active = EXCLUDED.is_active,
			is_auto_apply = EXCLUDED.is_auto_apply,
			priority = EXCLUDED.priority,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			updated_at = now()`,
		c.ID, c.Name, c.Description, string(c.Type), rules, string(c.Discount.Type), c.Discount.Value,
		c.Discount.MaxDiscountAmount, c.IsActive, c.IsAutoApply, c.Priority, c.StartDate, c.EndDate, c.CreatedBy,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert campaign %q", c.ID)
	}
	return nil
}

// RecordUsage appends the usage entry and bumps the campaign counters in one
// transaction. The campaign row is locked first, so concurrent commits for the
// same campaign are serialized and the unique-user check sees every prior
// entry.
func (r *CampaignRepository) RecordUsage(ctx context.Context, entry campaign.UsageEntry) (campaign.Stats, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return campaign.Stats{}, errors.Wrap(classify(err), "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if r.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)",
			strconv.FormatInt(r.lockTimeout.Milliseconds(), 10)+"ms"); err != nil {
			return campaign.Stats{}, errors.Wrap(err, "set lock timeout")
		}
	}

	var id string
	if err := tx.QueryRow(ctx, `SELECT id FROM campaigns WHERE id = $1 FOR UPDATE`,
		entry.CampaignID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return campaign.Stats{}, campaign.ErrCampaignNotFound
		}
		return campaign.Stats{}, errors.Wrap(classify(err), "lock campaign")
	}

	var priorUser bool
	if entry.UserID != "" {
		if err := tx.QueryRow(ctx, `SELECT EXISTS (
				SELECT 1 FROM campaign_usages WHERE campaign_id = $1 AND user_id = $2
			)`, entry.CampaignID, entry.UserID).Scan(&priorUser); err != nil {
			return campaign.Stats{}, errors.Wrap(classify(err), "check prior user")
		}
	}

	tag, err := tx.Exec(ctx, `INSERT INTO campaign_usages (
			id, campaign_id, user_id, order_id, order_amount, discount_amount, used_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (campaign_id, order_id) DO NOTHING`,
		entry.ID, entry.CampaignID, nullString(entry.UserID), entry.OrderID,
		entry.OrderAmount, entry.DiscountAmount, entry.UsedAt,
	)
	if err != nil {
		return campaign.Stats{}, errors.Wrap(classify(err), "insert usage")
	}
	if tag.RowsAffected() == 0 {
		return campaign.Stats{}, campaign.ErrDuplicateCommit
	}

	newUser := 0
	if entry.UserID != "" && !priorUser {
		newUser = 1
	}

	var stats campaign.Stats
	if err := tx.QueryRow(ctx, `UPDATE campaigns SET
			total_uses = total_uses + 1,
			total_discount = total_discount + $2,
			total_order_value = total_order_value + $3,
			unique_users = unique_users + $4,
			version = version + 1,
			updated_at = $5
		WHERE id = $1
		RETURNING total_uses, total_discount, total_order_value, unique_users`,
		entry.CampaignID, entry.DiscountAmount, entry.OrderAmount, newUser, entry.UsedAt,
	).Scan(&stats.TotalUses, &stats.TotalDiscount, &stats.TotalOrderValue, &stats.UniqueUsers); err != nil {
		return campaign.Stats{}, errors.Wrap(classify(err), "update stats")
	}

	if err := tx.Commit(ctx); err != nil {
		return campaign.Stats{}, errors.Wrap(classify(err), "commit")
	}
	return stats, nil
}

// Usage returns the campaign with its full usage history in commit order.
func (r *CampaignRepository) Usage(ctx context.Context, campaignID string) (*campaign.Campaign, error) {
	c, err := r.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, campaign_id, COALESCE(user_id, ''), order_id,
			order_amount, discount_amount, used_at
		FROM campaign_usages WHERE campaign_id = $1
		ORDER BY used_at, id`, campaignID)
	if err != nil {
		return nil, errors.Wrap(err, "query usage history")
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.UsageEntry, error) {
		var u campaign.UsageEntry
		err := row.Scan(&u.ID, &u.CampaignID, &u.UserID, &u.OrderID,
			&u.OrderAmount, &u.DiscountAmount, &u.UsedAt)
		return u, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan usage history")
	}
	c.UsageHistory = history
	return c, nil
}

func collectCampaigns(rows pgx.Rows) ([]campaign.Campaign, error) {
	campaigns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.Campaign, error) {
		return scanCampaign(row)
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan campaigns")
	}
	return campaigns, nil
}

func scanCampaign(row pgx.Row) (campaign.Campaign, error) {
	var (
		c            campaign.Campaign
		typ, discTyp string
		rules        []byte
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Description, &typ, &rules, &discTyp, &c.Discount.Value,
		&c.Discount.MaxDiscountAmount, &c.IsActive, &c.IsAutoApply, &c.Priority, &c.StartDate, &c.EndDate,
		&c.Stats.TotalUses, &c.Stats.TotalDiscount, &c.Stats.TotalOrderValue, &c.Stats.UniqueUsers, &c.Version,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return campaign.Campaign{}, err
	}
	if err := json.Unmarshal(rules, &c.Rules); err != nil {
		return campaign.Campaign{}, errors.Wrapf(err, "decode rules of campaign %q", c.ID)
	}
	c.Type = campaign.Type(typ)
	c.Discount.Type = campaign.DiscountType(discTyp)
	return c, nil
}
