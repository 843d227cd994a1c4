// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config models the remotely served mediation configuration
// document and fetches it over HTTP.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/admesh/mediation/pkg/adapter"
)

var (
	ErrUnknownPlacement = errors.New("unknown placement")
	ErrStaleDocument    = errors.New("config document older than current")
)

// Placement describes one ad slot.
type Placement struct {
	AdType          adapter.AdType    `json:"adType"`
	EnabledNetworks []string          `json:"enabledNetworks"`
	TimeoutMs       int               `json:"timeoutMs"`
	MaxWaitMs       int               `json:"maxWaitMs"`
	FloorPrice      decimal.Decimal   `json:"floorPrice"`
	RefreshInterval int               `json:"refreshInterval"`
	FrequencyCap    uint32            `json:"frequencyCap,omitempty"`
	Targeting       map[string]string `json:"targeting,omitempty"`
}

// AdapterTimeout returns the per-adapter budget.
func (p Placement) AdapterTimeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// GlobalTimeout returns the whole-request budget.
func (p Placement) GlobalTimeout() time.Duration {
	return time.Duration(p.MaxWaitMs) * time.Millisecond
}

// Refresh returns the banner refresh period, zero when disabled.
func (p Placement) Refresh() time.Duration {
	return time.Duration(p.RefreshInterval) * time.Second
}

// Features are the server-controlled switches.
type Features struct {
	TelemetryEnabled            bool `json:"telemetryEnabled"`
	CrashReportingEnabled       bool `json:"crashReportingEnabled"`
	DebugLoggingEnabled         bool `json:"debugLoggingEnabled"`
	ExperimentalFeaturesEnabled bool `json:"experimentalFeaturesEnabled"`
	KillSwitch                  bool `json:"killSwitch"`
}

// Document is one versioned configuration snapshot. Signature is
// carried verbatim for the caller to verify out of band.
type Document struct {
	ConfigID   string                    `json:"configId"`
	Version    int64                     `json:"version"`
	Placements map[string]Placement      `json:"placements"`
	Adapters   map[string]adapter.Config `json:"adapters"`
	Features   Features                  `json:"features"`
	Signature  string                    `json:"signature,omitempty"`
	Timestamp  int64                     `json:"timestamp"`
}

// Placement returns the named placement.
func (d *Document) Placement(id string) (Placement, error) {
	p, ok := d.Placements[id]
	if !ok {
		return Placement{}, fmt.Errorf("%w: %s", ErrUnknownPlacement, id)
	}
	return p, nil
}

// Validate checks the structural invariants a usable document must hold.
func (d *Document) Validate() error {
	if d.ConfigID == "" {
		return errors.New("config document missing configId")
	}
	for id, p := range d.Placements {
		if !p.AdType.Valid() {
			return fmt.Errorf("placement %s: invalid ad type %q", id, p.AdType)
		}
		if p.TimeoutMs < 0 || p.MaxWaitMs < 0 {
			return fmt.Errorf("placement %s: negative timeout", id)
		}
		if p.FloorPrice.IsNegative() {
			return fmt.Errorf("placement %s: negative floor price", id)
		}
	}
	return nil
}
