package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/xenking/campaign-engine/internal/domain/campaign"

// RecorderConfig bounds the retry loop for transient store conflicts.
type RecorderConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRecorderConfig returns the retry bounds used when none are configured.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		MaxAttempts:     5,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// CommitRequest describes one finalized order redeeming a campaign.
type CommitRequest struct {
	CampaignID     string
	UserID         string
	OrderID        string
	OrderAmount    decimal.Decimal
	// ShippingCost bounds free-shipping discounts, which may exceed the
	// order amount.
	ShippingCost   decimal.Decimal
	DiscountAmount decimal.Decimal
}

func (r CommitRequest) validate() error {
	switch {
	case r.CampaignID == "":
		return errors.Wrap(ErrInvalidCommit, "campaign id is required")
	case r.OrderID == "":
		return errors.Wrap(ErrInvalidCommit, "order id is required")
	case r.OrderAmount.IsNegative():
		return errors.Wrap(ErrInvalidCommit, "order amount must not be negative")
	case r.ShippingCost.IsNegative():
		return errors.Wrap(ErrInvalidCommit, "shipping cost must not be negative")
	case r.DiscountAmount.IsNegative():
		return errors.Wrap(ErrInvalidCommit, "discount amount must not be negative")
	case r.DiscountAmount.GreaterThan(r.OrderAmount.Add(r.ShippingCost)):
		return errors.Wrap(ErrInvalidCommit, "discount amount exceeds order amount and shipping")
	}
	return nil
}

// CommitResult reports the outcome of a successful commit.
type CommitResult struct {
	Entry UsageEntry
	// Stats are the campaign stats right after the commit. They are zero for
	// duplicates.
	Stats Stats
	// Duplicate is true when the order had already been recorded and nothing
	// changed.
	Duplicate bool
	Attempts  int
}

// Recorder commits campaign usage exactly once per order.
type Recorder struct {
	store UsageStore
	cfg   RecorderConfig
	lg    *zap.Logger
	now   func() time.Time
	newID func() string

	tracer    trace.Tracer
	commits   metric.Int64Counter
	conflicts metric.Int64Counter
	attempts  metric.Int64Histogram
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*recorderOptions)

type recorderOptions struct {
	lg *zap.Logger
	mp metric.MeterProvider
	tp trace.TracerProvider
}

// WithLogger sets the logger used for retries and failures.
func WithLogger(lg *zap.Logger) RecorderOption {
	return func(o *recorderOptions) { o.lg = lg }
}

// WithMeterProvider sets the provider for commit metrics.
func WithMeterProvider(mp metric.MeterProvider) RecorderOption {
	return func(o *recorderOptions) { o.mp = mp }
}

// WithTracerProvider sets the provider for commit spans.
func WithTracerProvider(tp trace.TracerProvider) RecorderOption {
	return func(o *recorderOptions) { o.tp = tp }
}

// NewRecorder creates a Recorder on top of the given store.
func NewRecorder(store UsageStore, cfg RecorderConfig, opts ...RecorderOption) (*Recorder, error) {
	o := recorderOptions{
		lg: zap.NewNop(),
		mp: metricnoop.NewMeterProvider(),
		tp: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	def := DefaultRecorderConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}

	meter := o.mp.Meter(instrumentationName)
	commits, err := meter.Int64Counter("campaign.usage.commits",
		metric.WithDescription("Campaign usage commits by outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "create commits counter")
	}
	conflicts, err := meter.Int64Counter("campaign.usage.conflicts",
		metric.WithDescription("Transient conflicts hit while committing usage"))
	if err != nil {
		return nil, errors.Wrap(err, "create conflicts counter")
	}
	attempts, err := meter.Int64Histogram("campaign.usage.attempts",
		metric.WithDescription("Store attempts per usage commit"))
	if err != nil {
		return nil, errors.Wrap(err, "create attempts histogram")
	}

	return &Recorder{
		store:     store,
		cfg:       cfg,
		lg:        o.lg,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		tracer:    o.tp.Tracer(instrumentationName),
		commits:   commits,
		conflicts: conflicts,
		attempts:  attempts,
	}, nil
}

// Commit records the usage described by req. Transient conflicts are retried
// with bounded exponential backoff. A repeated order is a successful no-op.
// Any other failure, including exhausted retries, wraps ErrCommitFailed.
func (r *Recorder) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "campaign.usage.commit", trace.WithAttributes(
		attribute.String("campaign.id", req.CampaignID),
		attribute.String("order.id", req.OrderID),
	))
	defer span.End()

	entry := UsageEntry{
		ID:             r.newID(),
		CampaignID:     req.CampaignID,
		UserID:         req.UserID,
		OrderID:        req.OrderID,
		OrderAmount:    req.OrderAmount.Round(2),
		DiscountAmount: req.DiscountAmount.Round(2),
		UsedAt:         r.now().UTC(),
	}
	lg := r.lg.With(
		zap.String("campaign_id", req.CampaignID),
		zap.String("order_id", req.OrderID),
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	attempts := 0
	stats, err := backoff.Retry(ctx, func() (Stats, error) {
		attempts++
		stats, err := r.store.RecordUsage(ctx, entry)
		if err == nil {
			return stats, nil
		}
		if errors.Is(err, ErrConflict) {
			r.conflicts.Add(ctx, 1)
			return Stats{}, err
		}
		return Stats{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			lg.Warn("Retrying usage commit", zap.Error(err), zap.Duration("backoff", next))
		}),
	)
	r.attempts.Record(ctx, int64(attempts))
	span.SetAttributes(attribute.Int("attempts", attempts))

	switch {
	case err == nil:
		r.countOutcome(ctx, "applied")
		return &CommitResult{Entry: entry, Stats: stats, Attempts: attempts}, nil
	case errors.Is(err, ErrDuplicateCommit):
		r.countOutcome(ctx, "duplicate")
		lg.Debug("Usage already recorded")
		return &CommitResult{Entry: entry, Duplicate: true, Attempts: attempts}, nil
	default:
		r.countOutcome(ctx, "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		lg.Error("Usage commit failed", zap.Error(err), zap.Int("attempts", attempts))
		return nil, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
}

func (r *Recorder) countOutcome(ctx context.Context, outcome string) {
	r.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
