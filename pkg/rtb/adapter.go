// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rtb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/admesh/mediation/pkg/adapter"
	"github.com/admesh/mediation/pkg/auction"
)

// S2SOptions configures a server-side adapter speaking the mediation
// wire protocol.
type S2SOptions struct {
	Name        string
	Endpoint    string
	AdTypes     []adapter.AdType
	Meta        WireMeta
	HTTPClient  *http.Client
	Logger      *zap.Logger
	MaxAttempts int
}

// S2SAdapter loads ads from an HTTP ad server instead of an on-device
// vendor binding. Transient upstream failures are retried with backoff
// inside the caller's per-adapter deadline.
type S2SAdapter struct {
	opts  S2SOptions
	http  *http.Client
	log   *zap.Logger
	ready atomic.Bool
	types map[adapter.AdType]bool
}

// NewS2SAdapter creates the adapter. It is inert until Initialize.
func NewS2SAdapter(opts S2SOptions) *S2SAdapter {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	types := make(map[adapter.AdType]bool, len(opts.AdTypes))
	for _, t := range opts.AdTypes {
		types[t] = true
	}
	return &S2SAdapter{
		opts:  opts,
		http:  opts.HTTPClient,
		log:   opts.Logger.With(zap.String("adapter", opts.Name)),
		types: types,
	}
}

func (a *S2SAdapter) Name() string    { return a.opts.Name }
func (a *S2SAdapter) Version() string { return a.opts.Meta.SDK.Version }

// Initialize validates the endpoint. cfg may override it per config
// document.
func (a *S2SAdapter) Initialize(ctx context.Context, cfg adapter.Config) error {
	if ep, ok := cfg["endpoint"]; ok && ep != "" {
		a.opts.Endpoint = ep
	}
	if a.opts.Endpoint == "" {
		return errors.New("s2s adapter: no endpoint configured")
	}
	a.ready.Store(true)
	return nil
}

func (a *S2SAdapter) SupportsAdType(t adapter.AdType) bool { return a.types[t] }

func (a *S2SAdapter) Destroy() error {
	a.ready.Store(false)
	return nil
}

// LoadAd issues one wire-protocol ad request.
func (a *S2SAdapter) LoadAd(ctx context.Context, req adapter.Request) (*adapter.Bid, error) {
	if !a.ready.Load() {
		return nil, adapter.ErrNotInitialized
	}

	body, err := json.Marshal(buildWireRequest(req, a.opts.Meta))
	if err != nil {
		return nil, fmt.Errorf("encode ad request: %w", err)
	}

	var wire WireResponse
	err = doWithRetry(ctx, a.opts.MaxAttempts, defaultRetryBase, func() (bool, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.Endpoint, bytes.NewReader(body))
		if err != nil {
			return false, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := a.http.Do(httpReq)
		if err != nil {
			return true, fmt.Errorf("%w: %v", auction.ErrNetworkUnreachable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return transient(resp.StatusCode),
				fmt.Errorf("%w: ad server status %d", auction.ErrLoadFailed, resp.StatusCode)
		}
		return false, json.NewDecoder(resp.Body).Decode(&wire)
	})
	if err != nil {
		return nil, err
	}

	if !wire.Fill || wire.Creative == nil {
		return nil, auction.ErrNoFill
	}

	bid := &adapter.Bid{
		AdapterName: a.opts.Name,
		Currency:    wire.Currency,
		Creative: adapter.Creative{
			ID:         wire.Creative.ID,
			HTML:       wire.Creative.HTML,
			VASTTagURL: wire.Creative.VASTTagURL,
			Tracking:   wire.Creative.Tracking,
			Width:      req.Width,
			Height:     req.Height,
		},
		TTL: time.Duration(wire.TTLSeconds) * time.Second,
	}
	if wire.Price != nil {
		bid.ECPM = *wire.Price
	}
	if bid.Currency == "" {
		bid.Currency = "USD"
	}

	a.log.Debug("s2s fill",
		zap.String("placement", req.PlacementID),
		zap.String("request_id", wire.RequestID),
		zap.String("ecpm", bid.ECPM.String()))
	return bid, nil
}
