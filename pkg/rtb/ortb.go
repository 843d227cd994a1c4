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

	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/admesh/mediation/pkg/adapter"
	"github.com/admesh/mediation/pkg/auction"
	"github.com/admesh/mediation/pkg/vast"
)

// ORTBOptions configures an OpenRTB 2.x demand adapter.
type ORTBOptions struct {
	Name        string
	Endpoint    string
	AdTypes     []adapter.AdType
	AppID       string
	AppName     string
	PublisherID string
	HTTPClient  *http.Client
	Logger      *zap.Logger
	MaxAttempts int
}

// ORTBAdapter bridges a placement load to an OpenRTB 2.x bidder.
type ORTBAdapter struct {
	opts  ORTBOptions
	http  *http.Client
	log   *zap.Logger
	ready atomic.Bool
	types map[adapter.AdType]bool
}

// NewORTBAdapter creates the adapter.
func NewORTBAdapter(opts ORTBOptions) *ORTBAdapter {
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
	return &ORTBAdapter{
		opts:  opts,
		http:  opts.HTTPClient,
		log:   opts.Logger.With(zap.String("adapter", opts.Name)),
		types: types,
	}
}

func (a *ORTBAdapter) Name() string    { return a.opts.Name }
func (a *ORTBAdapter) Version() string { return "2.6" }

func (a *ORTBAdapter) Initialize(ctx context.Context, cfg adapter.Config) error {
	if ep, ok := cfg["endpoint"]; ok && ep != "" {
		a.opts.Endpoint = ep
	}
	if pub, ok := cfg["publisher_id"]; ok && pub != "" {
		a.opts.PublisherID = pub
	}
	if a.opts.Endpoint == "" {
		return errors.New("ortb adapter: no endpoint configured")
	}
	a.ready.Store(true)
	return nil
}

func (a *ORTBAdapter) SupportsAdType(t adapter.AdType) bool { return a.types[t] }

func (a *ORTBAdapter) Destroy() error {
	a.ready.Store(false)
	return nil
}

// LoadAd maps the request onto an OpenRTB bid request and the first
// seat bid back onto an adapter bid.
func (a *ORTBAdapter) LoadAd(ctx context.Context, req adapter.Request) (*adapter.Bid, error) {
	if !a.ready.Load() {
		return nil, adapter.ErrNotInitialized
	}

	ortbReq := a.buildBidRequest(ctx, req)
	body, err := json.Marshal(ortbReq)
	if err != nil {
		return nil, fmt.Errorf("encode bid request: %w", err)
	}

	var ortbResp openrtb2.BidResponse
	var noBid bool
	err = doWithRetry(ctx, a.opts.MaxAttempts, defaultRetryBase, func() (bool, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.Endpoint, bytes.NewReader(body))
		if err != nil {
			return false, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Openrtb-Version", "2.6")

		resp, err := a.http.Do(httpReq)
		if err != nil {
			return true, fmt.Errorf("%w: %v", auction.ErrNetworkUnreachable, err)
		}
		defer resp.Body.Close()

		// 204 is the protocol's no-bid answer.
		if resp.StatusCode == http.StatusNoContent {
			noBid = true
			return false, nil
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return transient(resp.StatusCode),
				fmt.Errorf("%w: bidder status %d", auction.ErrLoadFailed, resp.StatusCode)
		}
		return false, json.NewDecoder(resp.Body).Decode(&ortbResp)
	})
	if err != nil {
		return nil, err
	}
	if noBid {
		return nil, auction.ErrNoFill
	}

	return a.bidFromResponse(req, &ortbResp)
}

func (a *ORTBAdapter) buildBidRequest(ctx context.Context, req adapter.Request) *openrtb2.BidRequest {
	imp := openrtb2.Imp{
		ID:          "1",
		TagID:       req.PlacementID,
		BidFloor:    req.FloorPrice.InexactFloat64(),
		BidFloorCur: "USD",
	}

	switch req.AdType {
	case adapter.AdTypeBanner, adapter.AdTypeNative:
		w, h := int64(req.Width), int64(req.Height)
		imp.Banner = &openrtb2.Banner{W: &w, H: &h}
	case adapter.AdTypeInterstitial:
		w, h := int64(req.Width), int64(req.Height)
		imp.Banner = &openrtb2.Banner{W: &w, H: &h}
		imp.Instl = 1
	case adapter.AdTypeRewarded:
		imp.Video = &openrtb2.Video{
			MIMEs: []string{"video/mp4"},
			W:     ptrInt64(int64(req.Width)),
			H:     ptrInt64(int64(req.Height)),
		}
		imp.Rwdd = 1
	}

	ortbReq := &openrtb2.BidRequest{
		ID:  req.RequestID,
		Imp: []openrtb2.Imp{imp},
		App: &openrtb2.App{
			ID:   a.opts.AppID,
			Name: a.opts.AppName,
			Publisher: &openrtb2.Publisher{
				ID: a.opts.PublisherID,
			},
		},
		Cur: []string{"USD"},
	}
	if req.TestMode {
		ortbReq.Test = 1
	}
	if deadline, ok := ctx.Deadline(); ok {
		ortbReq.TMax = int64(time.Until(deadline) / time.Millisecond)
	}

	applyConsent(ortbReq, req.Consent)
	return ortbReq
}

// applyConsent maps the privacy signal map onto the regs and user
// objects. Absent keys leave the corresponding fields unset.
func applyConsent(req *openrtb2.BidRequest, consent map[string]any) {
	if len(consent) == 0 {
		return
	}
	regs := &openrtb2.Regs{}
	var regsSet bool

	if v, ok := consent["gdpr"].(int); ok {
		g := int8(v)
		regs.GDPR = &g
		regsSet = true
	}
	if v, ok := consent["us_privacy"].(string); ok && v != "" {
		regs.USPrivacy = v
		regsSet = true
	}
	if v, ok := consent["coppa"].(bool); ok && v {
		regs.COPPA = 1
		regsSet = true
	}
	if regsSet {
		req.Regs = regs
	}
	if v, ok := consent["gdpr_consent"].(string); ok && v != "" {
		req.User = &openrtb2.User{Consent: v}
	}
}

func (a *ORTBAdapter) bidFromResponse(req adapter.Request, resp *openrtb2.BidResponse) (*adapter.Bid, error) {
	if len(resp.SeatBid) == 0 || len(resp.SeatBid[0].Bid) == 0 {
		return nil, auction.ErrNoFill
	}
	ortbBid := resp.SeatBid[0].Bid[0]
	if ortbBid.AdM == "" {
		return nil, auction.ErrNoFill
	}

	creative := adapter.Creative{
		ID:     ortbBid.ID,
		Width:  req.Width,
		Height: req.Height,
	}
	creative.HTML = ortbBid.AdM
	// Video creatives arrive as inline VAST; reject unplayable ones
	// here instead of handing them to a player.
	if vast.IsDocument(ortbBid.AdM) {
		doc, err := vast.Parse([]byte(ortbBid.AdM))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", auction.ErrLoadFailed, err)
		}
		if err := doc.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", auction.ErrLoadFailed, err)
		}
	}

	cur := resp.Cur
	if cur == "" {
		cur = "USD"
	}
	bid := &adapter.Bid{
		AdapterName: a.opts.Name,
		ECPM:        decimal.NewFromFloat(ortbBid.Price),
		Currency:    cur,
		Creative:    creative,
		TTL:         time.Duration(ortbBid.Exp) * time.Second,
	}

	a.log.Debug("ortb bid",
		zap.String("placement", req.PlacementID),
		zap.String("ecpm", bid.ECPM.String()),
		zap.String("currency", cur))
	return bid, nil
}

func ptrInt64(v int64) *int64 { return &v }
