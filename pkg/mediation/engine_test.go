// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mediation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admesh/mediation/internal/testing/fakes"
	"github.com/admesh/mediation/pkg/adapter"
	"github.com/admesh/mediation/pkg/auction"
)

func configServer(t *testing.T, killSwitch bool) *httptest.Server {
	t.Helper()
	doc := `{
		"configId": "cfg-1",
		"version": 1,
		"placements": {
			"banner_home": {
				"adType": "banner",
				"enabledNetworks": ["acme"],
				"timeoutMs": 2000,
				"maxWaitMs": 5000,
				"floorPrice": "0.10"
			}
		},
		"adapters": {"acme": {"app_key": "k-1"}},
		"features": {"telemetryEnabled": true, "killSwitch": ` + boolStr(killSwitch) + `},
		"timestamp": 1756500000
	}`
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(doc))
	}))
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func bannerDescriptor(name string) adapter.Descriptor {
	return adapter.Descriptor{
		Name:    name,
		Version: "1.0.0",
		AdTypes: []adapter.AdType{adapter.AdTypeBanner},
	}
}

func TestEngineLifecycle(t *testing.T) {
	srv := configServer(t, false)
	defer srv.Close()

	e := New(Options{ConfigEndpoint: srv.URL, AppID: "app-1"})
	fa := &fakes.Adapter{AdapterName: "acme", Supported: []adapter.AdType{adapter.AdTypeBanner}}
	fa.LoadBid = fakes.FillBid("acme", 1.5)
	require.NoError(t, e.RegisterAdapter(bannerDescriptor("acme"), fa))

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	defer func() { require.NoError(t, e.Close(ctx)) }()

	require.NotNil(t, e.Config())
	assert.Equal(t, "k-1", fa.LastConfig()["app_key"], "adapter config flows from the document")

	res, err := e.LoadAd(ctx, LoadRequest{PlacementID: "banner_home"})
	require.NoError(t, err)
	assert.Equal(t, auction.StateFilled, res.State)
	assert.Equal(t, "acme", res.Winner)

	ad, err := e.Show(ctx, "banner_home", nil)
	require.NoError(t, err)
	assert.Equal(t, "acme", ad.Network)
}

func TestEngineKillSwitch(t *testing.T) {
	srv := configServer(t, true)
	defer srv.Close()

	e := New(Options{ConfigEndpoint: srv.URL})
	fa := &fakes.Adapter{AdapterName: "acme", Supported: []adapter.AdType{adapter.AdTypeBanner}}
	require.NoError(t, e.RegisterAdapter(bannerDescriptor("acme"), fa))

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	defer e.Close(ctx)

	_, err := e.LoadAd(ctx, LoadRequest{PlacementID: "banner_home"})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = e.Show(ctx, "banner_home", nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestEngineUnknownPlacement(t *testing.T) {
	srv := configServer(t, false)
	defer srv.Close()

	e := New(Options{ConfigEndpoint: srv.URL})
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	defer e.Close(ctx)

	_, err := e.LoadAd(ctx, LoadRequest{PlacementID: "nope"})
	assert.ErrorIs(t, err, auction.ErrInvalidPlacement)
}

func TestEngineWithoutConfigEndpoint(t *testing.T) {
	e := New(Options{})
	fa := &fakes.Adapter{AdapterName: "acme", Supported: []adapter.AdType{adapter.AdTypeBanner}}
	fa.LoadBid = fakes.FillBid("acme", 2.0)
	require.NoError(t, e.RegisterAdapter(bannerDescriptor("acme"), fa))

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	defer e.Close(ctx)

	res, err := e.LoadAd(ctx, LoadRequest{PlacementID: "anything", AdType: adapter.AdTypeBanner})
	require.NoError(t, err)
	assert.Equal(t, auction.StateFilled, res.State)
}

func TestEngineReport(t *testing.T) {
	e := New(Options{})
	good := &fakes.Adapter{AdapterName: "good", Supported: []adapter.AdType{adapter.AdTypeBanner}}
	bad := &fakes.Adapter{AdapterName: "bad", Supported: []adapter.AdType{adapter.AdTypeBanner}}
	bad.SetInitErr(assert.AnError)
	require.NoError(t, e.RegisterAdapter(bannerDescriptor("good"), good))
	require.NoError(t, e.RegisterAdapter(bannerDescriptor("bad"), bad))

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	defer e.Close(ctx)

	report := e.Report()
	statuses := map[string]adapter.Status{}
	for _, entry := range report {
		statuses[entry.Name] = entry.Status
	}
	assert.Equal(t, adapter.StatusInitialized, statuses["good"])
	assert.Equal(t, adapter.StatusFailed, statuses["bad"])
}
