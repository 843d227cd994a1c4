// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rtb holds the server-to-server ad network adapters: one for
// the mediation wire protocol and one for OpenRTB 2.x demand.
package rtb

import (
	"github.com/shopspring/decimal"

	"github.com/admesh/mediation/pkg/adapter"
)

// SDKMeta identifies the requesting SDK build.
type SDKMeta struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// WireMeta carries request provenance.
type WireMeta struct {
	SDK         SDKMeta `json:"sdk"`
	PublisherID string  `json:"publisherId,omitempty"`
	AppID       string  `json:"appId,omitempty"`
}

// WirePlacement is the inner request block.
type WirePlacement struct {
	Placement string            `json:"placement"`
	AdType    string            `json:"adType"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
	TestMode  bool              `json:"testMode,omitempty"`
	Extras    map[string]string `json:"extras,omitempty"`
}

// WireRequest is the POST body of an ad request.
type WireRequest struct {
	Request WirePlacement  `json:"request"`
	Consent map[string]any `json:"consent,omitempty"`
	Meta    WireMeta       `json:"meta"`
}

// WireCreative is the creative block of a fill. Null on no-fill.
type WireCreative struct {
	ID         string            `json:"id"`
	HTML       string            `json:"html,omitempty"`
	VASTTagURL string            `json:"vastTagUrl,omitempty"`
	Tracking   map[string]string `json:"tracking,omitempty"`
}

// WireResponse is the ad server's answer.
type WireResponse struct {
	RequestID  string           `json:"requestId"`
	Fill       bool             `json:"fill"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Currency   string           `json:"currency,omitempty"`
	Creative   *WireCreative    `json:"creative"`
	TTLSeconds int              `json:"ttlSeconds,omitempty"`
}

func buildWireRequest(req adapter.Request, meta WireMeta) WireRequest {
	return WireRequest{
		Request: WirePlacement{
			Placement: req.PlacementID,
			AdType:    string(req.AdType),
			Width:     req.Width,
			Height:    req.Height,
			TestMode:  req.TestMode,
			Extras:    req.Extras,
		},
		Consent: req.Consent,
		Meta:    meta,
	}
}
