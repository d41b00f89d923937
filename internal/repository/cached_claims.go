package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/observability/metrics"
	"github.com/aryan0dhankhar/fleetdesk/pkg/cache"
)

// CachedClaimsStore is a read-through L1 cache in front of a ClaimsStore.
// Only positive lookups are cached, so a freshly provisioned identity is
// never hidden behind a cached miss. Writes through this store refresh the entry.
type CachedClaimsStore struct {
	inner  domain.ClaimsStore
	cache  *cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

var _ domain.ClaimsStore = (*CachedClaimsStore)(nil)

func NewCachedClaimsStore(inner domain.ClaimsStore, c *cache.Cache, ttl time.Duration, logger *slog.Logger) *CachedClaimsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClaimsStore{inner: inner, cache: c, ttl: ttl, logger: logger}
}

func claimsKey(identityID string) string { return "claims:" + identityID }

func (s *CachedClaimsStore) Get(ctx context.Context, identityID string) (domain.Claims, error) {
	if data, ok := s.cache.Get(claimsKey(identityID)); ok {
		var c domain.Claims
		if err := json.Unmarshal(data, &c); err == nil {
			metrics.ObserveClaimsCache(true)
			return c, nil
		}
		s.cache.Delete(claimsKey(identityID))
	}
	metrics.ObserveClaimsCache(false)

	c, err := s.inner.Get(ctx, identityID)
	if err != nil {
		return domain.Claims{}, err
	}
	s.store(identityID, c)
	return c, nil
}

func (s *CachedClaimsStore) Assign(ctx context.Context, a domain.Assignment) (domain.Claims, bool, error) {
	s.cache.Delete(claimsKey(a.IdentityID))
	c, created, err := s.inner.Assign(ctx, a)
	if err != nil {
		return domain.Claims{}, false, err
	}
	s.store(a.IdentityID, c)
	return c, created, nil
}

func (s *CachedClaimsStore) Put(ctx context.Context, identityID string, c domain.Claims) error {
	s.cache.Delete(claimsKey(identityID))
	if err := s.inner.Put(ctx, identityID, c); err != nil {
		return err
	}
	s.store(identityID, c)
	return nil
}

func (s *CachedClaimsStore) store(identityID string, c domain.Claims) {
	data, err := json.Marshal(c)
	if err != nil {
		s.logger.Warn("failed to encode claims for cache", slog.String("error", err.Error()))
		return
	}
	s.cache.Set(claimsKey(identityID), data, s.ttl)
}
