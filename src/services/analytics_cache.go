package services

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/tradeingest/src/logger"
	"github.com/username/tradeingest/src/models"
)

const (
	ckUnifiedTrades = "view_unified_trades_user_%d"

	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

// AnalyticsCache holds the per-user aggregate views downstream analytics
// read. Ingestion only ever invalidates it.
type AnalyticsCache struct {
	c *cache.Cache
}

func NewAnalyticsCache(expiration time.Duration) *AnalyticsCache {
	if expiration <= 0 {
		expiration = DefaultCacheExpiration
	}
	return &AnalyticsCache{c: cache.New(expiration, CacheCleanupInterval)}
}

func (a *AnalyticsCache) UnifiedTrades(userID int64) ([]models.CanonicalTrade, bool) {
	v, found := a.c.Get(fmt.Sprintf(ckUnifiedTrades, userID))
	if !found {
		return nil, false
	}
	return v.([]models.CanonicalTrade), true
}

func (a *AnalyticsCache) SetUnifiedTrades(userID int64, trades []models.CanonicalTrade) {
	a.c.SetDefault(fmt.Sprintf(ckUnifiedTrades, userID), trades)
}

// InvalidateUser clears every cached view of userID so the next read
// rebuilds from the store.
func (a *AnalyticsCache) InvalidateUser(userID int64) {
	a.c.Delete(fmt.Sprintf(ckUnifiedTrades, userID))
	logger.L.Debug("Invalidated analytics views for user", "userID", userID)
}
