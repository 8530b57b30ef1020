// Package memory provides an in-process campaign store for tests and local
// runs without a database.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
)

var (
	_ campaign.Catalog    = (*Store)(nil)
	_ campaign.UsageStore = (*Store)(nil)
)

type record struct {
	mu       sync.Mutex
	campaign campaign.Campaign
	orders   map[string]struct{}
	users    map[string]struct{}
}

// Store keeps campaigns in memory. Usage commits for one campaign are
// serialized by a per-campaign mutex.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*record)}
}

// Put inserts or replaces a campaign. Existing usage history on c is kept and
// indexed for duplicate and unique-user tracking.
func (s *Store) Put(c campaign.Campaign) {
	rec := &record{
		campaign: c,
		orders:   make(map[string]struct{}, len(c.UsageHistory)),
		users:    make(map[string]struct{}),
	}
	rec.campaign.UsageHistory = slices.Clone(c.UsageHistory)
	for _, u := range c.UsageHistory {
		rec.orders[u.OrderID] = struct{}{}
		if u.UserID != "" {
			rec.users[u.UserID] = struct{}{}
		}
	}

	s.mu.Lock()
	s.records[c.ID] = rec
	s.mu.Unlock()
}

func (s *Store) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *Store) snapshot(keep func(c *campaign.Campaign) bool) []campaign.Campaign {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]campaign.Campaign, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		c := rec.campaign
		rec.mu.Unlock()
		if !keep(&c) {
			continue
		}
		c.UsageHistory = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func inWindow(c *campaign.Campaign, now time.Time) bool {
	return !now.Before(c.StartDate) && !now.After(c.EndDate)
}

// ListActive returns active campaigns whose window contains now and that are
// not restricted to specific users.
func (s *Store) ListActive(_ context.Context, now time.Time) ([]campaign.Campaign, error) {
	return s.snapshot(func(c *campaign.Campaign) bool {
		return c.IsActive && inWindow(c, now) && len(c.Rules.ApplicableUsers) == 0
	}), nil
}

// ListForUser returns active campaigns targeted at the user.
func (s *Store) ListForUser(_ context.Context, userID string, now time.Time) ([]campaign.Campaign, error) {
	return s.snapshot(func(c *campaign.Campaign) bool {
		return c.IsActive && inWindow(c, now) && slices.Contains(c.Rules.ApplicableUsers, userID)
	}), nil
}

// Get returns the campaign without its usage history.
func (s *Store) Get(_ context.Context, id string) (*campaign.Campaign, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, campaign.ErrCampaignNotFound
	}
	rec.mu.Lock()
	c := rec.campaign
	rec.mu.Unlock()
	c.UsageHistory = nil
	return &c, nil
}

// RecordUsage appends the entry and updates stats under the campaign lock.
func (s *Store) RecordUsage(ctx context.Context, entry campaign.UsageEntry) (campaign.Stats, error) {
	if err := ctx.Err(); err != nil {
		return campaign.Stats{}, err
	}
	rec, ok := s.lookup(entry.CampaignID)
	if !ok {
		return campaign.Stats{}, campaign.ErrCampaignNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if _, dup := rec.orders[entry.OrderID]; dup {
		return campaign.Stats{}, campaign.ErrDuplicateCommit
	}

	c := &rec.campaign
	c.UsageHistory = append(c.UsageHistory, entry)
	c.Stats.TotalUses++
	c.Stats.TotalDiscount = c.Stats.TotalDiscount.Add(entry.DiscountAmount)
	c.Stats.TotalOrderValue = c.Stats.TotalOrderValue.Add(entry.OrderAmount)
	if entry.UserID != "" {
		if _, seen := rec.users[entry.UserID]; !seen {
			rec.users[entry.UserID] = struct{}{}
			c.Stats.UniqueUsers++
		}
	}
	c.Version++
	c.UpdatedAt = entry.UsedAt
	rec.orders[entry.OrderID] = struct{}{}

	return c.Stats, nil
}

// Usage returns the campaign with a copy of its usage history.
func (s *Store) Usage(_ context.Context, campaignID string) (*campaign.Campaign, error) {
	rec, ok := s.lookup(campaignID)
	if !ok {
		return nil, campaign.ErrCampaignNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	c := rec.campaign
	c.UsageHistory = slices.Clone(rec.campaign.UsageHistory)
	return &c, nil
}
