// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fakes provides scripted test doubles for the mediation engine.
package fakes

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/admesh/mediation/pkg/adapter"
)

// Adapter is a scripted network adapter for tests. Behavior is driven by
// the exported fields; counters record how often each call ran.
type Adapter struct {
	AdapterName    string
	AdapterVersion string
	Supported      []adapter.AdType

	// InitErr, when set, fails Initialize. Cleared by tests to model a
	// successful retry.
	InitErr   error
	InitDelay time.Duration

	// LoadFunc, when set, fully controls LoadAd. Otherwise LoadBid and
	// LoadErr are returned after LoadDelay.
	LoadFunc  func(ctx context.Context, req adapter.Request) (*adapter.Bid, error)
	LoadBid   *adapter.Bid
	LoadErr   error
	LoadDelay time.Duration

	InitCalls    atomic.Int32
	LoadCalls    atomic.Int32
	DestroyCalls atomic.Int32

	mu         sync.Mutex
	lastConfig adapter.Config
}

func (f *Adapter) Name() string    { return f.AdapterName }
func (f *Adapter) Version() string { return f.AdapterVersion }

func (f *Adapter) Initialize(ctx context.Context, cfg adapter.Config) error {
	f.InitCalls.Add(1)
	if f.InitDelay > 0 {
		select {
		case <-time.After(f.InitDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.lastConfig = cfg
	err := f.InitErr
	f.mu.Unlock()
	return err
}

// LastConfig returns the config passed to the most recent Initialize.
func (f *Adapter) LastConfig() adapter.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastConfig
}

func (f *Adapter) LoadAd(ctx context.Context, req adapter.Request) (*adapter.Bid, error) {
	f.LoadCalls.Add(1)
	if f.LoadFunc != nil {
		return f.LoadFunc(ctx, req)
	}
	if f.LoadDelay > 0 {
		select {
		case <-time.After(f.LoadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	bid, err := f.LoadBid, f.LoadErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if bid == nil {
		return nil, nil
	}
	cp := *bid
	return &cp, nil
}

func (f *Adapter) SupportsAdType(t adapter.AdType) bool {
	for _, s := range f.Supported {
		if s == t {
			return true
		}
	}
	return false
}

func (f *Adapter) Destroy() error {
	f.DestroyCalls.Add(1)
	return nil
}

// SetInitErr swaps the scripted initialization error.
func (f *Adapter) SetInitErr(err error) {
	f.mu.Lock()
	f.InitErr = err
	f.mu.Unlock()
}

// FillBid builds a bid for name at the given eCPM, valid for all tests.
func FillBid(name string, ecpm float64) *adapter.Bid {
	return &adapter.Bid{
		AdapterName: name,
		ECPM:        decimal.NewFromFloat(ecpm),
		Currency:    "USD",
		Creative: adapter.Creative{
			ID:   name + "-creative",
			HTML: "<div>ad</div>",
		},
		TTL: time.Hour,
	}
}
