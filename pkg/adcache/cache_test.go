// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adcache_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/admesh/mediation/internal/testing/fakes"
	"github.com/admesh/mediation/pkg/adcache"
	"github.com/admesh/mediation/pkg/adapter"
)

func newAd(placement string, received, ttl time.Duration) *adcache.Ad {
	return &adcache.Ad{
		ID:          "ad-1",
		PlacementID: placement,
		Network:     "testnet",
		AdType:      adapter.AdTypeInterstitial,
		ECPM:        decimal.NewFromFloat(1.25),
		Creative:    adapter.Creative{ID: "cr-1", HTML: "<div/>"},
		ReceivedAt:  received,
		TTL:         ttl,
	}
}

func TestCache_ExpiryUsesMonotonicClock(t *testing.T) {
	clock := &fakes.Clock{}
	cache := adcache.New(clock, nil)

	ad := newAd("home_inter", clock.Monotonic(), 5*time.Minute)
	cache.Put(ad)

	require.False(t, cache.IsExpired(ad), "fresh ad must not be expired")

	// Wall time keeps moving while the monotonic source stands still;
	// expiry must track only the monotonic source.
	time.Sleep(10 * time.Millisecond)
	got, ok := cache.Get("home_inter")
	require.True(t, ok)
	require.Equal(t, ad.ID, got.ID)

	clock.Advance(5*time.Minute + time.Nanosecond)
	require.True(t, cache.IsExpired(ad))

	_, ok = cache.Get("home_inter")
	require.False(t, ok, "expired entry must read as absent")
	require.Equal(t, 0, cache.Len(), "expired entry must be evicted on read")
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	clock := &fakes.Clock{}
	cache := adcache.New(clock, nil)

	ad := newAd("banner_top", clock.Monotonic(), 0)
	cache.Put(ad)

	clock.Advance(1000 * time.Hour)
	require.False(t, cache.IsExpired(ad))
	_, ok := cache.Get("banner_top")
	require.True(t, ok)
}

func TestCache_PutOverwrites(t *testing.T) {
	clock := &fakes.Clock{}
	cache := adcache.New(clock, nil)

	first := newAd("p1", 0, time.Hour)
	second := newAd("p1", 0, time.Hour)
	second.ID = "ad-2"

	cache.Put(first)
	cache.Put(second)

	got, ok := cache.Get("p1")
	require.True(t, ok)
	require.Equal(t, "ad-2", got.ID, "at most one cached ad per placement, last writer wins")
	require.Equal(t, 1, cache.Len())
}

func TestCache_TakeRemoves(t *testing.T) {
	clock := &fakes.Clock{}
	cache := adcache.New(clock, nil)

	cache.Put(newAd("p1", 0, time.Hour))

	_, ok := cache.Take("p1")
	require.True(t, ok)
	_, ok = cache.Get("p1")
	require.False(t, ok)
}

func TestSystemClock_Advances(t *testing.T) {
	clock := adcache.SystemClock()
	a := clock.Monotonic()
	time.Sleep(5 * time.Millisecond)
	b := clock.Monotonic()
	require.Greater(t, b, a)
}
