//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
	"github.com/xenking/campaign-engine/internal/domain/order"
	"github.com/xenking/campaign-engine/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "campaign",
				"POSTGRES_PASSWORD": "campaign",
				"POSTGRES_DB":       "campaign",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = pg.Terminate(context.Background()) }()

	host, err := pg.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "host: %v\n", err)
		return 1
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mapped port: %v\n", err)
		return 1
	}

	dsn := fmt.Sprintf("postgres://campaign:campaign@%s:%s/campaign?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		return 1
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "migrations: %v\n", err)
		return 1
	}

	return m.Run()
}

func seedCampaign(t *testing.T, repo *CampaignRepository, id string, mutate func(c *campaign.Campaign)) {
	t.Helper()

	c := &campaign.Campaign{
		ID:          id,
		Name:        "Campaign " + id,
		Type:        campaign.TypeDiscount,
		IsActive:    true,
		IsAutoApply: true,
		Priority:    1,
		StartDate:   time.Now().Add(-time.Hour).UTC(),
		EndDate:     time.Now().Add(time.Hour).UTC(),
		Discount:    campaign.Discount{Type: campaign.DiscountPercentage, Value: decimal.NewFromInt(10)},
		CreatedBy:   "test",
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, repo.Upsert(context.Background(), c))
}

func TestCampaignRepository_Listings(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepository(testPool, time.Second)

	seedCampaign(t, repo, "list-open", func(c *campaign.Campaign) {
		c.Rules.MaxOrderAmount = decimal.NewNullDecimal(decimal.NewFromInt(500))
		c.Discount.MaxDiscountAmount = decimal.NewNullDecimal(decimal.NewFromInt(50))
	})
	seedCampaign(t, repo, "list-targeted", func(c *campaign.Campaign) {
		c.Rules.ApplicableUsers = []string{"list-user"}
	})
	seedCampaign(t, repo, "list-inactive", func(c *campaign.Campaign) { c.IsActive = false })

	active, err := repo.ListActive(ctx, time.Now())
	require.NoError(t, err)
	ids := campaignIDs(active)
	assert.Contains(t, ids, "list-open")
	assert.NotContains(t, ids, "list-targeted")
	assert.NotContains(t, ids, "list-inactive")

	forUser, err := repo.ListForUser(ctx, "list-user", time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"list-targeted"}, campaignIDs(forUser))

	got, err := repo.Get(ctx, "list-open")
	require.NoError(t, err)
	require.True(t, got.Rules.MaxOrderAmount.Valid)
	assert.True(t, decimal.NewFromInt(500).Equal(got.Rules.MaxOrderAmount.Decimal))
	require.True(t, got.Discount.MaxDiscountAmount.Valid)
	assert.Equal(t, campaign.DiscountPercentage, got.Discount.Type)

	_, err = repo.Get(ctx, "list-missing")
	require.ErrorIs(t, err, campaign.ErrCampaignNotFound)
}

func TestCampaignRepository_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepository(testPool, 2*time.Second)
	seedCampaign(t, repo, "usage", nil)

	recorder, err := campaign.NewRecorder(repo, campaign.DefaultRecorderConfig())
	require.NoError(t, err)

	const orders = 20
	var g errgroup.Group
	for i := range orders {
		for range 2 {
			g.Go(func() error {
				_, err := recorder.Commit(ctx, campaign.CommitRequest{
					CampaignID:     "usage",
					UserID:         fmt.Sprintf("user-%d", i%4),
					OrderID:        fmt.Sprintf("order-%d", i),
					OrderAmount:    decimal.NewFromInt(100),
					DiscountAmount: decimal.NewFromInt(10),
				})
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	c, err := repo.Usage(ctx, "usage")
	require.NoError(t, err)
	assert.Equal(t, int64(orders), c.Stats.TotalUses)
	assert.Len(t, c.UsageHistory, orders)
	assert.Equal(t, int64(4), c.Stats.UniqueUsers)
	assert.Equal(t, int64(orders), c.Version)
	assert.True(t, decimal.NewFromInt(10*orders).Equal(c.Stats.TotalDiscount))
	assert.True(t, decimal.NewFromInt(100*orders).Equal(c.Stats.TotalOrderValue))

	_, err = repo.RecordUsage(ctx, campaign.UsageEntry{
		ID:         "dup",
		CampaignID: "usage",
		OrderID:    "order-0",
		UsedAt:     time.Now(),
	})
	require.ErrorIs(t, err, campaign.ErrDuplicateCommit)

	_, err = repo.RecordUsage(ctx, campaign.UsageEntry{ID: "x", CampaignID: "nope", OrderID: "o", UsedAt: time.Now()})
	require.ErrorIs(t, err, campaign.ErrCampaignNotFound)
}

func TestProductAndOrderRepositories(t *testing.T) {
	ctx := context.Background()
	products := NewProductRepository(testPool)
	orders := NewOrderRepository(testPool)

	require.NoError(t, products.Upsert(ctx, product.Product{
		ID: "sku-1", Name: "Runner", Price: decimal.RequireFromString("59.90"), Category: "shoes", Brand: "acme",
	}))

	got, err := products.GetByIDs(ctx, []string{"sku-1", "sku-missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "acme", got[0].Brand)
	assert.True(t, decimal.RequireFromString("59.90").Equal(got[0].Price))

	o := &order.Order{
		ID:        "order-repo-1",
		Items:     []order.OrderItem{{ProductID: "sku-1", Quantity: 1}},
		Subtotal:  decimal.RequireFromString("59.90"),
		Total:     decimal.RequireFromString("59.90"),
		CreatedAt: time.Now().UTC(),
	}
	created, err := orders.Create(ctx, o)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = orders.Create(ctx, o)
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := orders.Get(ctx, "order-repo-1")
	require.NoError(t, err)
	assert.Empty(t, stored.UserID)
	assert.Empty(t, stored.CampaignID)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "sku-1", stored.Items[0].ProductID)
	assert.True(t, o.Total.Equal(stored.Total))

	_, err = orders.Get(ctx, "order-missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func campaignIDs(cs []campaign.Campaign) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}
