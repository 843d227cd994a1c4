// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AdType identifies the placement format an adapter can fill.
type AdType string

const (
	AdTypeBanner       AdType = "banner"
	AdTypeInterstitial AdType = "interstitial"
	AdTypeRewarded     AdType = "rewarded"
	AdTypeNative       AdType = "native"
)

// Valid reports whether t is one of the known ad types.
func (t AdType) Valid() bool {
	switch t {
	case AdTypeBanner, AdTypeInterstitial, AdTypeRewarded, AdTypeNative:
		return true
	}
	return false
}

// Config carries the per-network initialization parameters from the
// config document's adapters section. Keys are network-specific.
type Config map[string]string

// Descriptor describes a pluggable network binding.
type Descriptor struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	MinSDKVersion string   `json:"min_sdk_version"`
	AdTypes       []AdType `json:"ad_types"`
}

// Request is one load attempt handed to an adapter.
type Request struct {
	RequestID   string
	PlacementID string
	AdType      AdType
	FloorPrice  decimal.Decimal
	Width       int
	Height      int
	TestMode    bool
	Consent     map[string]any
	Extras      map[string]string
}

// Creative is the renderable payload of a fill.
type Creative struct {
	ID         string            `json:"id"`
	HTML       string            `json:"html,omitempty"`
	VASTTagURL string            `json:"vastTagUrl,omitempty"`
	Tracking   map[string]string `json:"tracking,omitempty"`
	Width      int               `json:"w,omitempty"`
	Height     int               `json:"h,omitempty"`
}

// Bid is a network's successful response to a load request.
// ReceivedAt is a monotonic reading stamped by the orchestrator,
// not a wall-clock time.
type Bid struct {
	AdapterName string
	ECPM        decimal.Decimal
	Currency    string
	Creative    Creative
	TTL         time.Duration
	ReceivedAt  time.Duration
}

// Adapter is the capability interface every network binding implements.
// Initialize and LoadAd cross to the vendor network and must honor the
// provided context.
type Adapter interface {
	Name() string
	Version() string
	Initialize(ctx context.Context, cfg Config) error
	LoadAd(ctx context.Context, req Request) (*Bid, error)
	SupportsAdType(t AdType) bool
	Destroy() error
}
