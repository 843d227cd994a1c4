// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rtb

import (
	"context"
	"math/rand"
	"net/http"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 100 * time.Millisecond
)

// transient reports whether an HTTP status is worth retrying. A 4xx is
// a final answer from the server; 5xx and 429 are not.
func transient(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// backoff returns the sleep before attempt n (0-based), exponential
// with up to 50% jitter.
func backoff(base time.Duration, n int) time.Duration {
	d := base << n
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

// doWithRetry runs fn up to attempts times, backing off between tries.
// fn reports whether its failure is retryable.
func doWithRetry(ctx context.Context, attempts int, base time.Duration, fn func() (retryable bool, err error)) error {
	var err error
	for i := 0; i < attempts; i++ {
		var retryable bool
		retryable, err = fn()
		if err == nil || !retryable {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff(base, i)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
