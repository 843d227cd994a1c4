// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package consent normalizes raw privacy inputs into the outbound
// signal map passed to networks and the auction server.
package consent

import (
	"sync"

	"go.uber.org/zap"
)

// Outbound map keys. A key is present only when the corresponding
// input is non-nil and non-empty.
const (
	KeyGDPR        = "gdpr"
	KeyGDPRConsent = "gdpr_consent"
	KeyUSPrivacy   = "us_privacy"
	KeyCOPPA       = "coppa"
)

// State holds raw consent inputs. Nil pointers and empty strings mean
// the signal was never provided.
type State struct {
	GDPRApplies *bool
	TCFString   string
	USPrivacy   string
	COPPA       *bool
}

// Coordinator owns the current consent state and builds signal maps.
type Coordinator struct {
	mu    sync.RWMutex
	state State
	log   *zap.Logger
}

// NewCoordinator creates a coordinator with no signals set.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{log: logger}
}

// SetState replaces the raw consent inputs.
func (c *Coordinator) SetState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.Debug("consent state updated",
		zap.Bool("gdpr_set", s.GDPRApplies != nil),
		zap.Bool("tcf_set", s.TCFString != ""),
		zap.Bool("us_privacy_set", s.USPrivacy != ""),
		zap.Bool("coppa_set", s.COPPA != nil))
}

// State returns a copy of the raw inputs.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Signals builds the outbound map from the current state.
func (c *Coordinator) Signals() map[string]any {
	return BuildSignals(c.State())
}

// BuildSignals produces a map containing only fields with a present,
// non-empty value. GDPR-applies is encoded as 1/0 for wire
// compatibility; TCF and US privacy strings pass through verbatim;
// COPPA passes through as a boolean. Absent inputs are omitted, never
// emitted as null.
func BuildSignals(raw State) map[string]any {
	out := make(map[string]any)
	if raw.GDPRApplies != nil {
		gdpr := 0
		if *raw.GDPRApplies {
			gdpr = 1
		}
		out[KeyGDPR] = gdpr
	}
	if raw.TCFString != "" {
		out[KeyGDPRConsent] = raw.TCFString
	}
	if raw.USPrivacy != "" {
		out[KeyUSPrivacy] = raw.USPrivacy
	}
	if raw.COPPA != nil {
		out[KeyCOPPA] = *raw.COPPA
	}
	return out
}
