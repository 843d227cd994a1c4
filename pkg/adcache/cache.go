// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adcache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admesh/mediation/pkg/adapter"
)

// Ad is a won fill cached for later presentation. ReceivedAt is a
// monotonic reading; the expiry deadline is ReceivedAt+TTL on the same
// clock and is never derived from wall time. TTL == 0 means the ad
// never expires through this mechanism.
type Ad struct {
	ID          string
	PlacementID string
	Network     string
	AdType      adapter.AdType
	ECPM        decimal.Decimal
	Creative    adapter.Creative
	ReceivedAt  time.Duration
	TTL         time.Duration
}

// Cache stores at most one won ad per placement. It is the single
// writer of its entries; expired entries are evicted lazily on read.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Ad
	clock   Clock
	log     *zap.Logger
}

// New creates a cache on the given monotonic clock.
func New(clock Clock, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[string]*Ad),
		clock:   clock,
		log:     logger,
	}
}

// Put stores the winning ad for its placement, overwriting any prior
// entry. Last writer wins.
func (c *Cache) Put(ad *Ad) {
	c.mu.Lock()
	c.entries[ad.PlacementID] = ad
	c.mu.Unlock()

	c.log.Debug("ad cached",
		zap.String("placement", ad.PlacementID),
		zap.String("network", ad.Network),
		zap.Duration("ttl", ad.TTL))
}

// Get returns the cached ad for placementID if present and not expired.
// An expired entry is treated as absent and evicted.
func (c *Cache) Get(placementID string) (*Ad, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ad, ok := c.entries[placementID]
	if !ok {
		return nil, false
	}
	if c.expired(ad) {
		delete(c.entries, placementID)
		c.log.Debug("expired ad evicted", zap.String("placement", placementID))
		return nil, false
	}
	return ad, true
}

// Take returns and removes the cached ad, for one-shot presentations.
func (c *Cache) Take(placementID string) (*Ad, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ad, ok := c.entries[placementID]
	if !ok {
		return nil, false
	}
	delete(c.entries, placementID)
	if c.expired(ad) {
		return nil, false
	}
	return ad, true
}

// Remove drops any entry for placementID.
func (c *Cache) Remove(placementID string) {
	c.mu.Lock()
	delete(c.entries, placementID)
	c.mu.Unlock()
}

// IsExpired reports whether ad is past its monotonic deadline.
func (c *Cache) IsExpired(ad *Ad) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired(ad)
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(ad *Ad) bool {
	if ad.TTL == 0 {
		return false
	}
	return c.clock.Monotonic() > ad.ReceivedAt+ad.TTL
}
