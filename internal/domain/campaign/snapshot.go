package campaign

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// SnapshotCatalog caches the active campaign listing of another catalog for
// a fixed TTL. Evaluation re-checks validity on every call, so serving a
// slightly stale snapshot is safe. Concurrent refreshes are collapsed into one
// upstream call.
type SnapshotCatalog struct {
	upstream Catalog
	ttl      time.Duration
	now      func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	snapshot  []Campaign
	fetchedAt time.Time
	loaded    bool
}

var _ Catalog = (*SnapshotCatalog)(nil)

// NewSnapshotCatalog wraps upstream. A non-positive ttl disables caching.
func NewSnapshotCatalog(upstream Catalog, ttl time.Duration) *SnapshotCatalog {
	return &SnapshotCatalog{upstream: upstream, ttl: ttl, now: time.Now}
}

// ListActive returns the cached snapshot while it is fresh, otherwise it
// refreshes it from the upstream catalog. The snapshot is always fetched with
// the refresh time, not the caller's.
func (s *SnapshotCatalog) ListActive(ctx context.Context, now time.Time) ([]Campaign, error) {
	if s.ttl <= 0 {
		return s.upstream.ListActive(ctx, now)
	}

	if campaigns, ok := s.fresh(); ok {
		return campaigns, nil
	}

	v, err, _ := s.group.Do("active", func() (any, error) {
		if campaigns, ok := s.fresh(); ok {
			return campaigns, nil
		}
		fetchedAt := s.now()
		// Waiters share this refresh, so it must not end with the caller that
		// started it.
		campaigns, err := s.upstream.ListActive(context.WithoutCancel(ctx), fetchedAt)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.snapshot = campaigns
		s.fetchedAt = fetchedAt
		s.loaded = true
		s.mu.Unlock()
		return campaigns, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneCampaigns(v.([]Campaign)), nil
}

// ListForUser is not cached.
func (s *SnapshotCatalog) ListForUser(ctx context.Context, userID string, now time.Time) ([]Campaign, error) {
	return s.upstream.ListForUser(ctx, userID, now)
}

// Get is not cached.
func (s *SnapshotCatalog) Get(ctx context.Context, id string) (*Campaign, error) {
	return s.upstream.Get(ctx, id)
}

// Invalidate drops the cached snapshot.
func (s *SnapshotCatalog) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.snapshot = nil
	s.mu.Unlock()
}

func (s *SnapshotCatalog) fresh() ([]Campaign, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded || s.now().Sub(s.fetchedAt) >= s.ttl {
		return nil, false
	}
	return cloneCampaigns(s.snapshot), true
}

// cloneCampaigns copies the slice so callers appending to it never share a
// backing array with the snapshot.
func cloneCampaigns(in []Campaign) []Campaign {
	out := make([]Campaign, len(in))
	copy(out, in)
	return out
}
