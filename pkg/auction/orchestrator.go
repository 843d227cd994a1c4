// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package auction runs the mediation waterfall across registered
// adapters within a time budget. Adapter failures are converted to
// typed outcomes before they leave this package; the global deadline
// guarantees every request terminates.
package auction

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/admesh/mediation/pkg/adapter"
	"github.com/admesh/mediation/pkg/adcache"
	"github.com/admesh/mediation/pkg/consent"
	"github.com/admesh/mediation/pkg/metrics"
	"github.com/admesh/mediation/pkg/telemetry"
)

var (
	ErrInvalidPlacement   = errors.New("invalid placement")
	ErrUnsupportedAdType  = errors.New("unsupported ad type")
	ErrNoFill             = errors.New("no fill")
	ErrTimeout            = errors.New("auction timed out")
	ErrLoadFailed         = errors.New("load failed")
	ErrNetworkUnreachable = errors.New("network unreachable")
)

const (
	defaultAdapterTimeout = 5 * time.Second
	defaultGlobalTimeout  = 15 * time.Second

	// Session exclusion: an adapter that fails this many consecutive
	// loads sits out until the cooldown passes.
	breakerThreshold = 3
	breakerCooldown  = time.Minute
)

// breaker tracks consecutive load failures per adapter on the
// monotonic clock.
type breaker struct {
	failures  int
	openUntil time.Duration
}

// Orchestrator coordinates adapters for one placement request at a
// time budget. It is safe for concurrent use.
type Orchestrator struct {
	registry *adapter.Registry
	consent  *consent.Coordinator
	cache    *adcache.Cache
	sink     *telemetry.Pipeline
	clock    adcache.Clock
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu       sync.Mutex
	breakers map[string]*breaker
}

// Options wires an Orchestrator. Registry, Cache, and Clock are
// required; the rest may be nil.
type Options struct {
	Registry  *adapter.Registry
	Consent   *consent.Coordinator
	Cache     *adcache.Cache
	Telemetry *telemetry.Pipeline
	Clock     adcache.Clock
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = adcache.SystemClock()
	}
	return &Orchestrator{
		registry: opts.Registry,
		consent:  opts.Consent,
		cache:    opts.Cache,
		sink:     opts.Telemetry,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		breakers: make(map[string]*breaker),
	}
}

// Load runs the request to a terminal state. The returned error is nil
// only for a fill; otherwise it is one of the package sentinels. The
// result always carries the per-adapter attempts.
func (o *Orchestrator) Load(ctx context.Context, req Request) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.AdapterTimeout <= 0 {
		req.AdapterTimeout = defaultAdapterTimeout
	}
	if req.GlobalTimeout <= 0 {
		req.GlobalTimeout = defaultGlobalTimeout
	}

	result := &Result{
		RequestID:   req.RequestID,
		PlacementID: req.PlacementID,
		State:       StatePending,
	}

	if req.PlacementID == "" {
		result.State = StateError
		return result, ErrInvalidPlacement
	}
	if !req.AdType.Valid() {
		result.State = StateError
		return result, fmt.Errorf("%w: %q", ErrUnsupportedAdType, req.AdType)
	}

	start := o.clock.Monotonic()
	result.State = StateDispatching

	candidates := o.candidates(req)
	if len(candidates) == 0 {
		return o.finalize(result, nil, start, req, false)
	}

	ctx, cancel := context.WithTimeout(ctx, req.GlobalTimeout)
	defer cancel()

	var winner *adapter.Bid
	if req.Concurrency <= 1 {
		winner = o.runWaterfall(ctx, req, candidates, result)
	} else {
		winner = o.runConcurrent(ctx, req, candidates, result)
	}

	return o.finalize(result, winner, start, req, ctx.Err() != nil)
}

// candidates builds the ordered list of registered, initialized
// adapters that support the ad type and are not sitting out a failure
// cooldown.
func (o *Orchestrator) candidates(req Request) []string {
	names := req.Networks
	if len(names) == 0 {
		names = o.registry.ListAvailable()
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		a, err := o.registry.Get(name)
		if err != nil {
			continue
		}
		if !a.SupportsAdType(req.AdType) {
			continue
		}
		if !o.allowed(name) {
			o.log.Debug("adapter excluded by failure cooldown",
				zap.String("adapter", name))
			continue
		}
		out = append(out, name)
	}
	return out
}

// runWaterfall tries candidates sequentially in priority order. The
// first fill at or above the floor wins.
func (o *Orchestrator) runWaterfall(ctx context.Context, req Request, candidates []string, result *Result) *adapter.Bid {
	for _, name := range candidates {
		if ctx.Err() != nil {
			return nil
		}
		att, bid := o.attempt(ctx, req, name)
		result.Attempts = append(result.Attempts, att)
		if bid != nil {
			return bid
		}
	}
	return nil
}

type indexedAttempt struct {
	idx     int
	attempt Attempt
	bid     *adapter.Bid
}

// runConcurrent evaluates candidates with bounded parallelism. A fill
// finalizes only once every earlier-priority candidate has resolved,
// which keeps winner selection deterministic; equal outcomes therefore
// always resolve to the earlier position.
func (o *Orchestrator) runConcurrent(ctx context.Context, req Request, candidates []string, result *Result) *adapter.Bid {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, req.Concurrency)
	resCh := make(chan indexedAttempt, len(candidates))

	for i, name := range candidates {
		go func(idx int, name string) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-cctx.Done():
				return
			}
			att, bid := o.attempt(cctx, req, name)
			resCh <- indexedAttempt{idx: idx, attempt: att, bid: bid}
		}(i, name)
	}

	type slot struct {
		done    bool
		attempt Attempt
		bid     *adapter.Bid
	}
	slots := make([]slot, len(candidates))
	resolved := 0

	for resolved < len(candidates) {
		select {
		case r := <-resCh:
			slots[r.idx] = slot{done: true, attempt: r.attempt, bid: r.bid}
			resolved++

			// Finalize as soon as a fill has no unresolved candidate
			// ahead of it in priority order.
			for i := range slots {
				if !slots[i].done {
					break
				}
				if slots[i].bid != nil {
					cancel()
					for j := 0; j <= i; j++ {
						result.Attempts = append(result.Attempts, slots[j].attempt)
					}
					return slots[i].bid
				}
			}
		case <-ctx.Done():
			// Global deadline: pending attempts are cancelled and the
			// request finalizes as timed out.
			for i := range slots {
				if slots[i].done {
					result.Attempts = append(result.Attempts, slots[i].attempt)
				}
			}
			return nil
		}
	}

	for i := range slots {
		result.Attempts = append(result.Attempts, slots[i].attempt)
	}
	return nil
}

// attempt issues one bounded load against a single adapter and maps
// every failure to a typed outcome.
func (o *Orchestrator) attempt(ctx context.Context, req Request, name string) (Attempt, *adapter.Bid) {
	att := Attempt{Adapter: name}

	a, err := o.registry.Get(name)
	if err != nil {
		att.Outcome = OutcomeError
		att.Reason = err.Error()
		o.recordAttempt(req, att)
		return att, nil
	}

	var signals map[string]any
	if o.consent != nil {
		signals = o.consent.Signals()
	}

	actx, cancel := context.WithTimeout(ctx, req.AdapterTimeout)
	defer cancel()

	start := o.clock.Monotonic()
	bid, err := a.LoadAd(actx, adapter.Request{
		RequestID:   req.RequestID,
		PlacementID: req.PlacementID,
		AdType:      req.AdType,
		FloorPrice:  req.FloorPrice,
		Width:       req.Width,
		Height:      req.Height,
		TestMode:    req.TestMode,
		Consent:     signals,
		Extras:      req.Extras,
	})
	att.Latency = o.clock.Monotonic() - start

	switch {
	case err != nil:
		att.Outcome = classify(err)
		att.Reason = err.Error()
		o.onFailure(name)
		o.recordAttempt(req, att)
		return att, nil
	case bid == nil:
		att.Outcome = OutcomeNoFill
		o.onSuccess(name)
		o.recordAttempt(req, att)
		return att, nil
	case bid.ECPM.LessThan(req.FloorPrice):
		att.Outcome = OutcomeBelowFloor
		att.ECPM = bid.ECPM
		o.onSuccess(name)
		o.recordAttempt(req, att)
		return att, nil
	}

	bid.ReceivedAt = o.clock.Monotonic()
	att.Outcome = OutcomeFill
	att.ECPM = bid.ECPM
	o.onSuccess(name)
	o.recordAttempt(req, att)
	return att, bid
}

// finalize settles the terminal state, caches the winner, and emits
// the overall telemetry event. Partial results are discarded, never
// cached, when the deadline has already fired.
func (o *Orchestrator) finalize(result *Result, winner *adapter.Bid, start time.Duration, req Request, deadlineHit bool) (*Result, error) {
	result.Duration = o.clock.Monotonic() - start

	if deadlineHit {
		// A bid that raced the deadline is a partial result; discard it.
		winner = nil
	}

	var err error
	switch {
	case winner != nil:
		result.State = StateFilled
		result.Winner = winner.AdapterName
		result.ECPM = winner.ECPM

		ttl := winner.TTL
		if req.TTL > 0 {
			ttl = req.TTL
		}
		if o.cache != nil {
			o.cache.Put(&adcache.Ad{
				ID:          uuid.NewString(),
				PlacementID: req.PlacementID,
				Network:     winner.AdapterName,
				AdType:      req.AdType,
				ECPM:        winner.ECPM,
				Creative:    winner.Creative,
				ReceivedAt:  winner.ReceivedAt,
				TTL:         ttl,
			})
		}
	case deadlineHit:
		result.State = StateTimedOut
		err = ErrTimeout
	default:
		result.State = StateNoFill
		err = ErrNoFill
	}

	if o.metrics != nil {
		o.metrics.AuctionsTotal.WithLabelValues(string(result.State)).Inc()
		o.metrics.AuctionDuration.Observe(result.Duration.Seconds())
	}
	if o.sink != nil {
		o.sink.Record(telemetry.Event{
			Type:        telemetry.EventAuctionResult,
			PlacementID: result.PlacementID,
			Payload: map[string]string{
				"request_id":  result.RequestID,
				"state":       string(result.State),
				"winner":      result.Winner,
				"ecpm":        result.ECPM.String(),
				"attempts":    strconv.Itoa(len(result.Attempts)),
				"duration_ms": strconv.FormatInt(result.Duration.Milliseconds(), 10),
			},
		})
	}

	o.log.Info("auction completed",
		zap.String("request_id", result.RequestID),
		zap.String("placement", result.PlacementID),
		zap.String("state", string(result.State)),
		zap.String("winner", result.Winner),
		zap.Duration("duration", result.Duration))

	return result, err
}

func (o *Orchestrator) recordAttempt(req Request, att Attempt) {
	if o.metrics != nil {
		o.metrics.AdapterAttempts.WithLabelValues(att.Adapter, att.Outcome).Inc()
	}
	if o.sink != nil {
		o.sink.Record(telemetry.Event{
			Type:        telemetry.EventAdapterResult,
			PlacementID: req.PlacementID,
			Payload: map[string]string{
				"request_id": req.RequestID,
				"adapter":    att.Adapter,
				"outcome":    att.Outcome,
				"ecpm":       att.ECPM.String(),
				"latency_ms": strconv.FormatInt(att.Latency.Milliseconds(), 10),
				"reason":     att.Reason,
			},
		})
	}
	o.log.Debug("adapter attempt",
		zap.String("adapter", att.Adapter),
		zap.String("outcome", att.Outcome),
		zap.Duration("latency", att.Latency))
}

// classify maps a load error to a normalized outcome.
func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OutcomeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return OutcomeTimeout
		}
		return OutcomeNetworkError
	}
	if errors.Is(err, ErrNetworkUnreachable) {
		return OutcomeNetworkError
	}
	if errors.Is(err, ErrNoFill) {
		return OutcomeNoFill
	}
	return OutcomeError
}

func (o *Orchestrator) allowed(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.breakers[name]
	if !ok {
		return true
	}
	if b.failures < breakerThreshold {
		return true
	}
	if o.clock.Monotonic() >= b.openUntil {
		b.failures = 0
		return true
	}
	return false
}

func (o *Orchestrator) onFailure(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.breakers[name]
	if !ok {
		b = &breaker{}
		o.breakers[name] = b
	}
	b.failures++
	if b.failures >= breakerThreshold {
		b.openUntil = o.clock.Monotonic() + breakerCooldown
	}
}

func (o *Orchestrator) onSuccess(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if b, ok := o.breakers[name]; ok {
		b.failures = 0
	}
}
