// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adcache

import "time"

// Clock is a monotonic time source. Readings are durations since an
// arbitrary fixed origin and are immune to wall-clock adjustments.
type Clock interface {
	Monotonic() time.Duration
}

type systemClock struct {
	origin time.Time
}

// SystemClock returns a Clock backed by the runtime's monotonic reading.
// time.Since on a time.Time that carries a monotonic component never
// observes NTP corrections or user clock changes.
func SystemClock() Clock {
	return &systemClock{origin: time.Now()}
}

func (c *systemClock) Monotonic() time.Duration {
	return time.Since(c.origin)
}
