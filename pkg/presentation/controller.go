// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package presentation governs the attach/detach/show lifecycle per
// placement and enforces one active presenter per placement.
package presentation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/admesh/mediation/pkg/adcache"
	"github.com/admesh/mediation/pkg/auction"
	"github.com/admesh/mediation/pkg/frequency"
	"github.com/admesh/mediation/pkg/metrics"
	"github.com/admesh/mediation/pkg/telemetry"
)

var ErrPresenterBusy = errors.New("presenter busy")

// Container is the platform surface an ad renders into. Concrete
// bindings live outside this module.
type Container interface {
	RenderCreative(c adcache.Ad)
	RenderPlaceholder(placementID string)
	Clear()
}

type attachment struct {
	placementID string
	stop        chan struct{}
}

// Options wires a Controller.
type Options struct {
	Cache     *adcache.Cache
	Telemetry *telemetry.Pipeline
	Frequency *frequency.Capper
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	// TestMode renders a visible placeholder when no ad is cached.
	TestMode bool
}

// Controller owns presentation state. Safe for concurrent use.
type Controller struct {
	opts Options
	log  *zap.Logger

	mu          sync.Mutex
	active      map[string]bool
	attachments map[Container]*attachment
}

// NewController creates a controller.
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{
		opts:        opts,
		log:         opts.Logger,
		active:      make(map[string]bool),
		attachments: make(map[Container]*attachment),
	}
}

// Attach renders the cached ad for placementID into the container. In
// test mode a visible placeholder is rendered when nothing is cached;
// in production an empty container reports NoFill. A positive
// refreshInterval re-renders from cache until Detach.
func (c *Controller) Attach(container Container, placementID string, refreshInterval time.Duration) error {
	c.mu.Lock()
	if prev, ok := c.attachments[container]; ok {
		close(prev.stop)
	}
	att := &attachment{placementID: placementID, stop: make(chan struct{})}
	c.attachments[container] = att
	c.mu.Unlock()

	err := c.render(container, placementID)

	if refreshInterval > 0 {
		go c.refreshLoop(container, att, refreshInterval)
	}
	return err
}

// Detach clears all rendered content and cancels any refresh timer.
func (c *Controller) Detach(container Container) {
	c.mu.Lock()
	if att, ok := c.attachments[container]; ok {
		close(att.stop)
		delete(c.attachments, container)
	}
	c.mu.Unlock()
	container.Clear()
}

// ShowRequest is one full-screen presentation attempt.
type ShowRequest struct {
	PlacementID  string
	FrequencyCap uint32
	// Present renders the ad; nil means the presentation is considered
	// complete as soon as the ad is claimed.
	Present func(ctx context.Context, ad *adcache.Ad) error
}

// Show presents the cached ad for the placement. It is exclusive per
// placement: a duplicate call while one is in flight reports
// PresenterBusy rather than silently no-op'ing. The placement lock is
// held only for the duration of the show operation.
func (c *Controller) Show(ctx context.Context, req ShowRequest) (*adcache.Ad, error) {
	c.mu.Lock()
	if c.active[req.PlacementID] {
		c.mu.Unlock()
		c.rejectBusy(req.PlacementID)
		return nil, fmt.Errorf("%w: %s", ErrPresenterBusy, req.PlacementID)
	}
	c.active[req.PlacementID] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.active, req.PlacementID)
		c.mu.Unlock()
	}()

	if c.opts.Frequency != nil {
		if err := c.opts.Frequency.CheckAndIncrement(req.PlacementID, req.FrequencyCap); err != nil {
			c.showOutcome(req.PlacementID, "frequency_capped")
			return nil, err
		}
	}

	ad, ok := c.opts.Cache.Take(req.PlacementID)
	if !ok {
		c.showOutcome(req.PlacementID, "no_fill")
		return nil, fmt.Errorf("%w: %s", auction.ErrNoFill, req.PlacementID)
	}

	if req.Present != nil {
		if err := req.Present(ctx, ad); err != nil {
			c.showOutcome(req.PlacementID, "error")
			return nil, fmt.Errorf("%w: %v", auction.ErrLoadFailed, err)
		}
	}

	c.showOutcome(req.PlacementID, "shown")
	if c.opts.Telemetry != nil {
		c.opts.Telemetry.Record(telemetry.Event{
			Type:        telemetry.EventImpression,
			PlacementID: req.PlacementID,
			Payload: map[string]string{
				"ad_id":   ad.ID,
				"network": ad.Network,
				"ecpm":    ad.ECPM.String(),
			},
		})
	}
	return ad, nil
}

func (c *Controller) render(container Container, placementID string) error {
	if ad, ok := c.opts.Cache.Get(placementID); ok {
		container.RenderCreative(*ad)
		if c.opts.Metrics != nil {
			c.opts.Metrics.CacheHits.Inc()
		}
		if c.opts.Telemetry != nil {
			c.opts.Telemetry.Record(telemetry.Event{
				Type:        telemetry.EventImpression,
				PlacementID: placementID,
				Payload:     map[string]string{"ad_id": ad.ID, "network": ad.Network},
			})
		}
		return nil
	}

	if c.opts.Metrics != nil {
		c.opts.Metrics.CacheMisses.Inc()
	}
	if c.opts.TestMode {
		container.RenderPlaceholder(placementID)
		if c.opts.Telemetry != nil {
			c.opts.Telemetry.Record(telemetry.Event{
				Type:        telemetry.EventNoFillRender,
				PlacementID: placementID,
				Payload:     map[string]string{"mode": "placeholder"},
			})
		}
		return nil
	}

	if c.opts.Telemetry != nil {
		c.opts.Telemetry.Record(telemetry.Event{
			Type:        telemetry.EventNoFillRender,
			PlacementID: placementID,
			Payload:     map[string]string{"mode": "empty"},
		})
	}
	return fmt.Errorf("%w: %s", auction.ErrNoFill, placementID)
}

func (c *Controller) refreshLoop(container Container, att *attachment, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			current, ok := c.attachments[container]
			c.mu.Unlock()
			if !ok || current != att {
				return
			}
			_ = c.render(container, att.placementID)
		case <-att.stop:
			return
		}
	}
}

func (c *Controller) rejectBusy(placementID string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.ShowsRejected.Inc()
	}
	if c.opts.Telemetry != nil {
		c.opts.Telemetry.Record(telemetry.Event{
			Type:        telemetry.EventShowRejected,
			PlacementID: placementID,
			Payload:     map[string]string{"reason": "presenter_busy"},
		})
	}
	c.log.Debug("show rejected, presenter busy", zap.String("placement", placementID))
}

func (c *Controller) showOutcome(placementID, outcome string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.ShowsTotal.WithLabelValues(outcome).Inc()
	}
	c.log.Debug("show finished",
		zap.String("placement", placementID),
		zap.String("outcome", outcome))
}
