// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mediation assembles the registry, consent coordinator,
// auction orchestrator, ad cache, telemetry pipeline, and presentation
// controller into one engine with an explicit lifecycle. There is no
// process-wide singleton; callers own the Engine they construct.
package mediation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/admesh/mediation/pkg/adapter"
	"github.com/admesh/mediation/pkg/adcache"
	"github.com/admesh/mediation/pkg/auction"
	"github.com/admesh/mediation/pkg/config"
	"github.com/admesh/mediation/pkg/consent"
	"github.com/admesh/mediation/pkg/frequency"
	"github.com/admesh/mediation/pkg/metrics"
	"github.com/admesh/mediation/pkg/presentation"
	"github.com/admesh/mediation/pkg/telemetry"
)

// ErrDisabled is returned while the config document's kill switch is on.
var ErrDisabled = errors.New("mediation disabled by kill switch")

// Options configures an Engine. All fields are optional; zero values
// give an engine with local defaults and no remote config.
type Options struct {
	ConfigEndpoint    string
	TelemetryEndpoint string
	AppID             string
	PublisherID       string
	TestMode          bool

	// Concurrency > 1 switches placements to bounded concurrent
	// bidding instead of the sequential waterfall.
	Concurrency int

	Clock   adcache.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Engine is the top-level mediation facade.
type Engine struct {
	opts Options
	log  *zap.Logger

	clock        adcache.Clock
	registry     *adapter.Registry
	consent      *consent.Coordinator
	cache        *adcache.Cache
	telemetry    *telemetry.Pipeline
	orchestrator *auction.Orchestrator
	frequency    *frequency.Capper
	presenter    *presentation.Controller
	configClient *config.Client
	metrics      *metrics.Metrics
}

// New constructs an engine. Adapters are registered afterwards and
// initialized by Start.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = adcache.SystemClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	log := opts.Logger

	e := &Engine{
		opts:     opts,
		log:      log,
		clock:    opts.Clock,
		registry: adapter.NewRegistry(log.Named("registry")),
		consent:  consent.NewCoordinator(log.Named("consent")),
		cache:    adcache.New(opts.Clock, log.Named("adcache")),
		metrics:  opts.Metrics,
	}
	e.telemetry = telemetry.NewPipeline(telemetry.Options{
		Endpoint: opts.TelemetryEndpoint,
		Logger:   log.Named("telemetry"),
		Metrics:  opts.Metrics,
	})
	e.orchestrator = auction.NewOrchestrator(auction.Options{
		Registry:  e.registry,
		Consent:   e.consent,
		Cache:     e.cache,
		Telemetry: e.telemetry,
		Clock:     opts.Clock,
		Metrics:   opts.Metrics,
		Logger:    log.Named("auction"),
	})
	e.frequency = frequency.NewCapper(opts.Clock, time.Hour, log.Named("frequency"))
	e.presenter = presentation.NewController(presentation.Options{
		Cache:     e.cache,
		Telemetry: e.telemetry,
		Frequency: e.frequency,
		Metrics:   opts.Metrics,
		Logger:    log.Named("presentation"),
		TestMode:  opts.TestMode,
	})
	if opts.ConfigEndpoint != "" {
		e.configClient = config.NewClient(config.ClientOptions{
			Endpoint: opts.ConfigEndpoint,
			AppID:    opts.AppID,
			Logger:   log.Named("config"),
		})
	}
	return e
}

// RegisterAdapter adds a network binding. Duplicate names are rejected.
func (e *Engine) RegisterAdapter(desc adapter.Descriptor, a adapter.Adapter) error {
	return e.registry.Register(desc, a)
}

// SetConsent replaces the current privacy state.
func (e *Engine) SetConsent(s consent.State) { e.consent.SetState(s) }

// Registry exposes the adapter registry for status queries.
func (e *Engine) Registry() *adapter.Registry { return e.registry }

// Telemetry exposes the event pipeline, mainly for Subscribe.
func (e *Engine) Telemetry() *telemetry.Pipeline { return e.telemetry }

// Metrics exposes the collector set for exposition.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Config returns the last applied config document, nil before the
// first successful fetch.
func (e *Engine) Config() *config.Document {
	if e.configClient == nil {
		return nil
	}
	return e.configClient.Current()
}

// Start fetches configuration when an endpoint is set, initializes all
// registered adapters, and starts the telemetry flush loop. Adapter
// init failures are recorded per adapter, not returned; consult
// Report.
func (e *Engine) Start(ctx context.Context) error {
	var cfgs map[string]adapter.Config
	if e.configClient != nil {
		doc, err := e.configClient.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("initial config fetch: %w", err)
		}
		cfgs = doc.Adapters
	}

	e.telemetry.Start()
	e.registry.InitializeAll(ctx, cfgs)

	for _, entry := range e.registry.InitializationReport() {
		e.telemetry.Record(telemetry.Event{
			Type:    telemetry.EventAdapterInit,
			Payload: map[string]string{"adapter": entry.Name, "status": string(entry.Status)},
		})
	}
	e.log.Info("mediation engine started",
		zap.Strings("adapters", e.registry.ListAvailable()),
		zap.Bool("test_mode", e.opts.TestMode))
	return nil
}

// RefreshConfig re-fetches the config document.
func (e *Engine) RefreshConfig(ctx context.Context) error {
	if e.configClient == nil {
		return errors.New("no config endpoint configured")
	}
	_, err := e.configClient.Fetch(ctx)
	return err
}

// LoadRequest are the caller-facing load parameters; placement
// configuration fills in the rest.
type LoadRequest struct {
	PlacementID string
	AdType      adapter.AdType
	Width       int
	Height      int
	Extras      map[string]string
}

// LoadAd runs an auction for the placement and caches the winner.
func (e *Engine) LoadAd(ctx context.Context, req LoadRequest) (*auction.Result, error) {
	doc := e.Config()
	if doc != nil && doc.Features.KillSwitch {
		return nil, ErrDisabled
	}

	areq := auction.Request{
		PlacementID: req.PlacementID,
		AdType:      req.AdType,
		Width:       req.Width,
		Height:      req.Height,
		TestMode:    e.opts.TestMode,
		Concurrency: e.opts.Concurrency,
		Extras:      req.Extras,
	}

	if doc != nil {
		if p, err := doc.Placement(req.PlacementID); err == nil {
			if req.AdType == "" {
				areq.AdType = p.AdType
			}
			areq.FloorPrice = p.FloorPrice
			areq.Networks = p.EnabledNetworks
			areq.AdapterTimeout = p.AdapterTimeout()
			areq.GlobalTimeout = p.GlobalTimeout()
		} else {
			return nil, fmt.Errorf("%w: %s", auction.ErrInvalidPlacement, req.PlacementID)
		}
	}

	return e.orchestrator.Load(ctx, areq)
}

// Show presents the cached ad for the placement.
func (e *Engine) Show(ctx context.Context, placementID string, present func(context.Context, *adcache.Ad) error) (*adcache.Ad, error) {
	if doc := e.Config(); doc != nil && doc.Features.KillSwitch {
		return nil, ErrDisabled
	}
	var freqCap uint32
	if doc := e.Config(); doc != nil {
		if p, err := doc.Placement(placementID); err == nil {
			freqCap = p.FrequencyCap
		}
	}
	return e.presenter.Show(ctx, presentation.ShowRequest{
		PlacementID:  placementID,
		FrequencyCap: freqCap,
		Present:      present,
	})
}

// Attach binds a banner container to a placement. The refresh interval
// comes from placement config when available.
func (e *Engine) Attach(container presentation.Container, placementID string) error {
	var refresh time.Duration
	if doc := e.Config(); doc != nil {
		if p, err := doc.Placement(placementID); err == nil {
			refresh = p.Refresh()
		}
	}
	return e.presenter.Attach(container, placementID, refresh)
}

// Detach unbinds a container and clears its content.
func (e *Engine) Detach(container presentation.Container) { e.presenter.Detach(container) }

// Report returns per-adapter initialization status.
func (e *Engine) Report() []adapter.ReportEntry { return e.registry.InitializationReport() }

// Close flushes telemetry and destroys initialized adapters.
func (e *Engine) Close(ctx context.Context) error {
	e.telemetry.Close(ctx)
	return e.registry.Close()
}
