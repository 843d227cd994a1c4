// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package telemetry buffers, batches, compresses, and reliably flushes
// events about the mediation flow. It is a write-only sink for every
// other component; telemetry loss is tolerated and must never block
// the caller's ad flow.
package telemetry

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/admesh/mediation/pkg/metrics"
)

// Event types emitted across the engine.
const (
	EventAdapterInit   = "adapter_init"
	EventAdapterResult = "adapter_result"
	EventAuctionResult = "auction_result"
	EventImpression    = "impression"
	EventShowRejected  = "show_rejected"
	EventNoFillRender  = "no_fill_render"
)

// Event is one recorded occurrence. Payload values are redacted before
// the event is retained in memory.
type Event struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	PlacementID string            `json:"placement_id,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// batch is one flush unit.
type batch struct {
	events    []Event
	createdAt time.Time
	attempts  int
}

// Options configures a Pipeline.
type Options struct {
	Endpoint      string
	BatchSize     int           // default 10
	FlushInterval time.Duration // default 30s
	MaxAttempts   int           // default 3 send attempts per batch
	HTTPClient    *http.Client
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Pipeline owns the pending-event buffer and the batch queue. Record
// never blocks on the transport; flushing happens on a background
// goroutine.
type Pipeline struct {
	opts Options

	mu      sync.Mutex
	buf     []Event
	pending []*batch

	sendMu sync.Mutex

	subMu sync.Mutex
	subs  map[int]chan Event
	subID int

	dropped atomic.Uint64

	flushCh chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started bool
	stopped bool
	log     *zap.Logger
}

// NewPipeline creates a pipeline. Start must be called before events
// flow to the endpoint.
func NewPipeline(opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{
		opts:    opts,
		subs:    make(map[int]chan Event),
		flushCh: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     opts.Logger,
	}
}

// Start launches the flush loop.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()
	go p.run()
}

// Record appends a PII-redacted event to the pending buffer. Reaching
// the batch threshold seals the buffer into a batch and signals the
// flush loop; the caller never waits on the transport.
func (p *Pipeline) Record(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Payload = redactPayload(ev.Payload)

	p.publish(ev)

	p.mu.Lock()
	p.buf = append(p.buf, ev)
	sealed := false
	if len(p.buf) >= p.opts.BatchSize {
		p.sealLocked()
		sealed = true
	}
	p.mu.Unlock()

	if sealed {
		p.signalFlush()
	}
}

// Flush seals any buffered events and delivers all pending batches.
func (p *Pipeline) Flush(ctx context.Context) {
	p.mu.Lock()
	p.sealLocked()
	p.mu.Unlock()
	p.deliver(ctx)
}

// DroppedEvents returns the count of events lost after exhausting
// flush attempts.
func (p *Pipeline) DroppedEvents() uint64 { return p.dropped.Load() }

// Subscribe registers a sanitized event feed, for the debugger stream.
// Slow subscribers lose events rather than slow the pipeline. The
// returned func cancels the subscription.
func (p *Pipeline) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	p.subMu.Lock()
	id := p.subID
	p.subID++
	p.subs[id] = ch
	p.subMu.Unlock()

	return ch, func() {
		p.subMu.Lock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
		p.subMu.Unlock()
	}
}

// Close flushes what it can and stops the loop. Safe to call more
// than once.
func (p *Pipeline) Close(ctx context.Context) {
	p.mu.Lock()
	started := p.started
	stop := started && !p.stopped
	if stop {
		p.stopped = true
	}
	p.mu.Unlock()

	if stop {
		close(p.stop)
	}
	if started {
		<-p.done
	}
	p.Flush(ctx)
}

func (p *Pipeline) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			p.sealLocked()
			p.mu.Unlock()
			p.deliver(context.Background())
		case <-p.flushCh:
			p.deliver(context.Background())
		case <-p.stop:
			return
		}
	}
}

// sealLocked moves buffered events into a new pending batch. Caller
// holds p.mu.
func (p *Pipeline) sealLocked() {
	if len(p.buf) == 0 {
		return
	}
	p.pending = append(p.pending, &batch{
		events:    p.buf,
		createdAt: time.Now().UTC(),
	})
	p.buf = nil
}

func (p *Pipeline) signalFlush() {
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

// deliver sends pending batches in order. A batch that fails is
// retained for the next flush trigger until its attempts are
// exhausted, then dropped.
func (p *Pipeline) deliver(ctx context.Context) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.mu.Unlock()
			return
		}
		b := p.pending[0]
		p.mu.Unlock()

		err := p.send(ctx, b.events)
		if err == nil {
			if p.opts.Metrics != nil {
				p.opts.Metrics.TelemetryBatchesSent.Inc()
			}
			p.mu.Lock()
			p.pending = p.pending[1:]
			p.mu.Unlock()
			continue
		}

		if p.opts.Metrics != nil {
			p.opts.Metrics.TelemetryBatchesFailed.Inc()
		}
		b.attempts++
		if b.attempts >= p.opts.MaxAttempts {
			p.dropped.Add(uint64(len(b.events)))
			if p.opts.Metrics != nil {
				p.opts.Metrics.TelemetryEventsDropped.Add(float64(len(b.events)))
			}
			p.log.Warn("telemetry batch dropped",
				zap.Int("events", len(b.events)),
				zap.Int("attempts", b.attempts),
				zap.Error(err))
			p.mu.Lock()
			p.pending = p.pending[1:]
			p.mu.Unlock()
			continue
		}

		p.log.Debug("telemetry flush failed, batch retained",
			zap.Int("attempts", b.attempts),
			zap.Error(err))
		return
	}
}

func (p *Pipeline) send(ctx context.Context, events []Event) error {
	// No endpoint means a local-only pipeline; subscribers still see
	// every event.
	if p.opts.Endpoint == "" {
		return nil
	}
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(body); err != nil {
		return fmt.Errorf("compress batch: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.Endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := p.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry send: %s", resp.Status)
	}
	return nil
}

func (p *Pipeline) publish(ev Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full, drop.
		}
	}
}
