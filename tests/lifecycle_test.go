// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tests

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admesh/mediation/internal/testing/fakes"
	"github.com/admesh/mediation/pkg/adapter"
	"github.com/admesh/mediation/pkg/auction"
	"github.com/admesh/mediation/pkg/consent"
	"github.com/admesh/mediation/pkg/mediation"
	"github.com/admesh/mediation/pkg/rtb"
	"github.com/admesh/mediation/pkg/telemetry"
)

// collector records every telemetry event POSTed to it.
type collector struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (c *collector) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var batch []telemetry.Event
		if err := json.NewDecoder(gz).Decode(&batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.events = append(c.events, batch...)
		c.mu.Unlock()
	}
}

func (c *collector) byType(t string) []telemetry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []telemetry.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// TestFullLifecycle walks the whole flow: remote config, adapter
// initialization, a waterfall with a declining first network, caching,
// presentation, and the telemetry that falls out of it.
func TestFullLifecycle(t *testing.T) {
	// Wire-protocol ad server backing the second network.
	adServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wire rtb.WireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.Equal(t, "inter_main", wire.Request.Placement)
		assert.EqualValues(t, 1, wire.Consent["gdpr"], "consent reaches the network")

		_, _ = w.Write([]byte(`{
			"requestId": "srv-1",
			"fill": true,
			"price": "3.20",
			"currency": "USD",
			"creative": {"id": "cr-42", "html": "<div>interstitial</div>"},
			"ttlSeconds": 3600
		}`))
	}))
	defer adServer.Close()

	configServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"configId": "cfg-it-1",
			"version": 1,
			"placements": {
				"inter_main": {
					"adType": "interstitial",
					"enabledNetworks": ["flaky", "acme"],
					"timeoutMs": 2000,
					"maxWaitMs": 8000,
					"floorPrice": "1.00"
				}
			},
			"adapters": {
				"flaky": {"app_key": "fk"},
				"acme": {"endpoint": "` + adServer.URL + `"}
			},
			"features": {"telemetryEnabled": true, "killSwitch": false},
			"timestamp": 1756500000
		}`))
	}))
	defer configServer.Close()

	sink := &collector{}
	telemetryServer := httptest.NewServer(sink.handler())
	defer telemetryServer.Close()

	engine := mediation.New(mediation.Options{
		ConfigEndpoint:    configServer.URL,
		TelemetryEndpoint: telemetryServer.URL,
		AppID:             "app-it",
	})

	// First network in priority order always declines.
	flaky := &fakes.Adapter{
		AdapterName: "flaky",
		Supported:   []adapter.AdType{adapter.AdTypeInterstitial},
		LoadErr:     auction.ErrNoFill,
	}
	require.NoError(t, engine.RegisterAdapter(adapter.Descriptor{
		Name:    "flaky",
		Version: "1.0.0",
		AdTypes: []adapter.AdType{adapter.AdTypeInterstitial},
	}, flaky))

	acme := rtb.NewS2SAdapter(rtb.S2SOptions{
		Name:    "acme",
		AdTypes: []adapter.AdType{adapter.AdTypeInterstitial},
		Meta:    rtb.WireMeta{SDK: rtb.SDKMeta{Name: "admesh-go", Version: "1.4.0"}},
	})
	require.NoError(t, engine.RegisterAdapter(adapter.Descriptor{
		Name:    "acme",
		Version: "1.4.0",
		AdTypes: []adapter.AdType{adapter.AdTypeInterstitial},
	}, acme))

	applies := true
	engine.SetConsent(consent.State{
		GDPRApplies: &applies,
		TCFString:   "CPcqBIAPcqBIAAGABCENDL.CKoAA",
	})

	events, cancelSub := engine.Telemetry().Subscribe(32)
	defer cancelSub()

	ctx := context.Background()
	require.NoError(t, engine.Start(ctx))
	defer engine.Close(ctx)

	// The S2S adapter picks its endpoint up from the config document.
	result, err := engine.LoadAd(ctx, mediation.LoadRequest{PlacementID: "inter_main"})
	require.NoError(t, err)
	assert.Equal(t, auction.StateFilled, result.State)
	assert.Equal(t, "acme", result.Winner)
	assert.Equal(t, "3.2", result.ECPM.String())
	require.Len(t, result.Attempts, 2, "the declining network is recorded too")
	assert.Equal(t, auction.OutcomeNoFill, result.Attempts[0].Outcome)
	assert.Equal(t, auction.OutcomeFill, result.Attempts[1].Outcome)
	assert.Equal(t, int32(1), flaky.LoadCalls.Load())

	ad, err := engine.Show(ctx, "inter_main", nil)
	require.NoError(t, err)
	assert.Equal(t, "cr-42", ad.Creative.ID)

	// The ad was consumed by the show.
	_, err = engine.Show(ctx, "inter_main", nil)
	assert.ErrorIs(t, err, auction.ErrNoFill)

	// Subscribers saw the auction result live.
	sawAuction := false
	deadline := time.After(2 * time.Second)
	for !sawAuction {
		select {
		case ev := <-events:
			if ev.Type == telemetry.EventAuctionResult {
				sawAuction = true
			}
		case <-deadline:
			t.Fatal("no auction_result event on the subscription")
		}
	}

	// The collector gets everything once flushed.
	engine.Telemetry().Flush(ctx)
	require.Eventually(t, func() bool {
		return len(sink.byType(telemetry.EventAuctionResult)) >= 1 &&
			len(sink.byType(telemetry.EventImpression)) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	results := sink.byType(telemetry.EventAdapterResult)
	require.NotEmpty(t, results)
	outcomes := map[string]bool{}
	for _, ev := range results {
		outcomes[ev.Payload["adapter"]+":"+ev.Payload["outcome"]] = true
	}
	assert.True(t, outcomes["flaky:no_fill"])
	assert.True(t, outcomes["acme:fill"])
}

// TestLifecycleKillSwitchRollout verifies a config refresh can turn the
// engine off without restarting it.
func TestLifecycleKillSwitchRollout(t *testing.T) {
	var killed sync.Map
	configServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kill := "false"
		version := "1"
		if _, ok := killed.Load("on"); ok {
			kill = "true"
			version = "2"
		}
		_, _ = w.Write([]byte(`{
			"configId": "cfg-ks",
			"version": ` + version + `,
			"placements": {"banner_home": {
				"adType": "banner",
				"enabledNetworks": ["acme"],
				"timeoutMs": 1000,
				"maxWaitMs": 3000,
				"floorPrice": "0"
			}},
			"features": {"killSwitch": ` + kill + `},
			"timestamp": 1756500000
		}`))
	}))
	defer configServer.Close()

	engine := mediation.New(mediation.Options{ConfigEndpoint: configServer.URL})
	acme := &fakes.Adapter{
		AdapterName: "acme",
		Supported:   []adapter.AdType{adapter.AdTypeBanner},
	}
	acme.LoadBid = fakes.FillBid("acme", 0.9)
	require.NoError(t, engine.RegisterAdapter(adapter.Descriptor{
		Name:    "acme",
		Version: "1.0.0",
		AdTypes: []adapter.AdType{adapter.AdTypeBanner},
	}, acme))

	ctx := context.Background()
	require.NoError(t, engine.Start(ctx))
	defer engine.Close(ctx)

	_, err := engine.LoadAd(ctx, mediation.LoadRequest{PlacementID: "banner_home"})
	require.NoError(t, err)

	killed.Store("on", true)
	require.NoError(t, engine.RefreshConfig(ctx))

	_, err = engine.LoadAd(ctx, mediation.LoadRequest{PlacementID: "banner_home"})
	assert.ErrorIs(t, err, mediation.ErrDisabled)
}
