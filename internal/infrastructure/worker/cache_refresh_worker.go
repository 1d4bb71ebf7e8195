package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Refresher reloads a cache from its backing store
type Refresher interface {
	Refresh(ctx context.Context) error
}

// CacheRefreshWorker periodically reconciles the invoice id cache with the database
type CacheRefreshWorker struct {
	ticker
}

// NewCacheRefreshWorker creates a new cache refresh worker
func NewCacheRefreshWorker(interval time.Duration, cache Refresher, logger *zap.Logger) *CacheRefreshWorker {
	return &CacheRefreshWorker{
		ticker: ticker{
			name:     "CacheRefreshWorker",
			interval: interval,
			job:      cache.Refresh,
			logger:   logger,
		},
	}
}
