package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
	"github.com/xenking/campaign-engine/internal/domain/product"
	"github.com/xenking/campaign-engine/internal/storage/postgres"
)

type campaignJSON struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Type        campaign.Type     `json:"type"`
	Rules       campaign.Rules    `json:"rules"`
	Discount    campaign.Discount `json:"discount"`
	IsActive    bool              `json:"isActive"`
	IsAutoApply bool              `json:"isAutoApply"`
	Priority    int               `json:"priority"`
	StartDate   time.Time         `json:"startDate"`
	EndDate     time.Time         `json:"endDate"`
	CreatedBy   string            `json:"createdBy"`
}

func (c campaignJSON) validate() error {
	switch {
	case c.ID == "":
		return errors.New("id is required")
	case c.Priority < 1:
		return errors.Errorf("campaign %s: priority must be at least 1", c.ID)
	case !c.EndDate.After(c.StartDate):
		return errors.Errorf("campaign %s: endDate must be after startDate", c.ID)
	case c.Discount.Value.IsNegative():
		return errors.Errorf("campaign %s: discount value must not be negative", c.ID)
	case c.Discount.Type == campaign.DiscountPercentage && c.Discount.Value.GreaterThan(decimal.NewFromInt(100)):
		return errors.Errorf("campaign %s: percentage must not exceed 100", c.ID)
	}
	return nil
}

func (c campaignJSON) toDomain() *campaign.Campaign {
	return &campaign.Campaign{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Type:        c.Type,
		Rules:       c.Rules,
		Discount:    c.Discount,
		IsActive:    c.IsActive,
		IsAutoApply: c.IsAutoApply,
		Priority:    c.Priority,
		StartDate:   c.StartDate,
		EndDate:     c.EndDate,
		CreatedBy:   c.CreatedBy,
	}
}

func main() {
	var (
		databaseURL   string
		productsFile  string
		campaignsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&campaignsFile, "campaigns-file", "db/seed/campaigns.json", "path to campaigns JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, campaignsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, campaignsFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCampaigns(ctx, postgres.NewCampaignRepository(pool, 0), campaignsFile); err != nil {
		return errors.Wrap(err, "seed campaigns")
	}

	return nil
}

func seedProducts(ctx context.Context, repo product.Repository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []product.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedCampaigns(ctx context.Context, repo *postgres.CampaignRepository, campaignsFile string) error {
	slog.Info("reading campaigns file", slog.String("path", campaignsFile))

	data, err := os.ReadFile(campaignsFile)
	if err != nil {
		return errors.Wrap(err, "read campaigns file")
	}

	var campaigns []campaignJSON
	if err := json.Unmarshal(data, &campaigns); err != nil {
		return errors.Wrap(err, "parse campaigns JSON")
	}

	slog.Info("upserting campaigns", slog.Int("count", len(campaigns)))

	for _, c := range campaigns {
		if err := c.validate(); err != nil {
			return err
		}
		if err := repo.Upsert(ctx, c.toDomain()); err != nil {
			return errors.Wrapf(err, "upsert campaign %s", c.ID)
		}

		slog.Info("upserted campaign",
			slog.String("id", c.ID),
			slog.String("name", c.Name),
			slog.Int("priority", c.Priority),
		)
	}

	return nil
}
