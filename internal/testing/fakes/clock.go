// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fakes

import (
	"sync"
	"time"
)

// Clock is a manually advanced monotonic clock for expiry tests.
type Clock struct {
	mu      sync.Mutex
	elapsed time.Duration
}

// Monotonic returns the fake monotonic reading.
func (c *Clock) Monotonic() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Advance moves the monotonic reading forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.elapsed += d
	c.mu.Unlock()
}
