// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package frequency enforces per-placement impression caps over a
// rolling window on the monotonic clock.
package frequency

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/admesh/mediation/pkg/adcache"
)

var ErrCapExceeded = errors.New("frequency cap exceeded")

type counter struct {
	count uint32
	epoch int64
}

// Capper tracks impression counts per placement. Counts reset when the
// window epoch rolls over.
type Capper struct {
	mu       sync.Mutex
	counters map[string]*counter
	clock    adcache.Clock
	window   time.Duration
	log      *zap.Logger
}

// NewCapper creates a capper with the given rolling window. A zero
// window defaults to one hour.
func NewCapper(clock adcache.Clock, window time.Duration, logger *zap.Logger) *Capper {
	if window <= 0 {
		window = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capper{
		counters: make(map[string]*counter),
		clock:    clock,
		window:   window,
		log:      logger,
	}
}

// CheckAndIncrement consumes one impression for placementID if the cap
// allows it. A cap of zero means uncapped.
func (c *Capper) CheckAndIncrement(placementID string, cap uint32) error {
	if cap == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	epoch := int64(c.clock.Monotonic() / c.window)
	ctr, ok := c.counters[placementID]
	if !ok || ctr.epoch != epoch {
		ctr = &counter{epoch: epoch}
		c.counters[placementID] = ctr
	}

	if ctr.count >= cap {
		c.log.Debug("frequency cap hit",
			zap.String("placement", placementID),
			zap.Uint32("cap", cap))
		return ErrCapExceeded
	}
	ctr.count++
	return nil
}

// Count returns the impressions consumed in the current window.
func (c *Capper) Count(placementID string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctr, ok := c.counters[placementID]
	if !ok || ctr.epoch != int64(c.clock.Monotonic()/c.window) {
		return 0
	}
	return ctr.count
}
