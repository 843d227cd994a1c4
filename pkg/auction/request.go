// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package auction

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/admesh/mediation/pkg/adapter"
)

// State is the per-request lifecycle:
// Pending -> Dispatching -> Filled | NoFill | TimedOut | Error.
type State string

const (
	StatePending     State = "pending"
	StateDispatching State = "dispatching"
	StateFilled      State = "filled"
	StateNoFill      State = "no_fill"
	StateTimedOut    State = "timed_out"
	StateError       State = "error"
)

// Per-adapter attempt outcomes, normalized for telemetry.
const (
	OutcomeFill         = "fill"
	OutcomeNoFill       = "no_fill"
	OutcomeBelowFloor   = "below_floor"
	OutcomeTimeout      = "timeout"
	OutcomeNetworkError = "network_error"
	OutcomeError        = "error"
)

// Request is one load attempt handed to the orchestrator.
type Request struct {
	RequestID   string
	PlacementID string
	AdType      adapter.AdType
	FloorPrice  decimal.Decimal

	// Networks is the candidate list in priority order. Empty means
	// every registered adapter in registration order.
	Networks []string

	// Concurrency caps parallel adapter attempts. Values <= 1 run the
	// classic sequential waterfall.
	Concurrency int

	AdapterTimeout time.Duration // per-adapter bound, default 5s
	GlobalTimeout  time.Duration // whole-request bound, default 15s

	// TTL overrides the winning bid's TTL when set.
	TTL time.Duration

	Width    int
	Height   int
	TestMode bool
	Extras   map[string]string
}

// Attempt records one adapter's outcome within a request.
type Attempt struct {
	Adapter string          `json:"adapter"`
	Outcome string          `json:"outcome"`
	ECPM    decimal.Decimal `json:"ecpm,omitempty"`
	Latency time.Duration   `json:"latency"`
	Reason  string          `json:"reason,omitempty"`
}

// Result is the final outcome of a request.
type Result struct {
	RequestID   string        `json:"request_id"`
	PlacementID string        `json:"placement_id"`
	State       State         `json:"state"`
	Winner      string        `json:"winner,omitempty"`
	ECPM        decimal.Decimal `json:"ecpm,omitempty"`
	Attempts    []Attempt     `json:"attempts"`
	Duration    time.Duration `json:"duration"`
}
