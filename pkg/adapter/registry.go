// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrDuplicateAdapter = errors.New("duplicate adapter")
	ErrNotFound         = errors.New("adapter not found")
	ErrNotInitialized   = errors.New("adapter not initialized")
)

// Status is the lifecycle state of one registration. Transitions are
// monotone forward except failed -> initializing on retry.
type Status string

const (
	StatusDiscovered   Status = "discovered"
	StatusInitializing Status = "initializing"
	StatusInitialized  Status = "initialized"
	StatusFailed       Status = "failed"
)

// ReportEntry is one adapter's row in the initialization report.
type ReportEntry struct {
	Name        string `json:"name"`
	Registered  bool   `json:"registered"`
	Initialized bool   `json:"initialized"`
	Status      Status `json:"status"`
	Version     string `json:"version"`
	Error       string `json:"error,omitempty"`
}

type registration struct {
	adapter    Adapter
	descriptor Descriptor
	status     Status
	initAt     time.Time
	lastErr    error

	// initMu serializes vendor initialization for this name so the
	// underlying network init runs at most once under concurrent calls.
	initMu sync.Mutex
}

// Registry owns adapter instances and their registration state.
// It is the single writer of registration entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
	order   []string
	log     *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*registration),
		log:     logger,
	}
}

// Register adds a descriptor and its live instance. The descriptor name
// must be unique within the registry.
func (r *Registry) Register(desc Descriptor, a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[desc.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAdapter, desc.Name)
	}

	r.entries[desc.Name] = &registration{
		adapter:    a,
		descriptor: desc,
		status:     StatusDiscovered,
	}
	r.order = append(r.order, desc.Name)

	r.log.Debug("adapter registered",
		zap.String("adapter", desc.Name),
		zap.String("version", desc.Version))
	return nil
}

// Initialize transitions an adapter to initialized, invoking the vendor
// network at most once. A second call after success returns immediately;
// a call after failure retries.
func (r *Registry) Initialize(ctx context.Context, name string, cfg Config) error {
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	reg.initMu.Lock()
	defer reg.initMu.Unlock()

	r.mu.RLock()
	status := reg.status
	r.mu.RUnlock()
	if status == StatusInitialized {
		return nil
	}

	r.setStatus(reg, StatusInitializing, nil)

	if err := reg.adapter.Initialize(ctx, cfg); err != nil {
		r.setStatus(reg, StatusFailed, err)
		r.log.Warn("adapter initialization failed",
			zap.String("adapter", name),
			zap.Error(err))
		return fmt.Errorf("initialize %s: %w", name, err)
	}

	r.mu.Lock()
	reg.status = StatusInitialized
	reg.lastErr = nil
	reg.initAt = time.Now()
	r.mu.Unlock()

	r.log.Info("adapter initialized", zap.String("adapter", name))
	return nil
}

// InitializeAll initializes every registered adapter with its config.
// A failure is recorded per adapter and does not abort siblings.
func (r *Registry) InitializeAll(ctx context.Context, cfgs map[string]Config) {
	for _, name := range r.ListAvailable() {
		if err := r.Initialize(ctx, name, cfgs[name]); err != nil {
			// Recorded on the registration; retryable on the next call.
			continue
		}
	}
}

// Get returns the live instance for name, requiring initialized state.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if reg.status != StatusInitialized {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, name)
	}
	return reg.adapter, nil
}

// Status returns the lifecycle state for name.
func (r *Registry) Status(name string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return reg.status, nil
}

// Descriptor returns the registered descriptor for name.
func (r *Registry) Descriptor(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return reg.descriptor, nil
}

// ListAvailable returns all registered names in registration order.
func (r *Registry) ListAvailable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// InitializationReport returns per-adapter diagnostics in registration order.
func (r *Registry) InitializationReport() []ReportEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report := make([]ReportEntry, 0, len(r.order))
	for _, name := range r.order {
		reg := r.entries[name]
		entry := ReportEntry{
			Name:        name,
			Registered:  true,
			Initialized: reg.status == StatusInitialized,
			Status:      reg.status,
			Version:     reg.descriptor.Version,
		}
		if reg.lastErr != nil {
			entry.Error = reg.lastErr.Error()
		}
		report = append(report, entry)
	}
	return report
}

// Close destroys all initialized adapters. Registrations are only
// cleared at process teardown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, name := range r.order {
		reg := r.entries[name]
		if reg.status != StatusInitialized {
			continue
		}
		if err := reg.adapter.Destroy(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("destroy %s: %w", name, err)
		}
	}
	r.entries = make(map[string]*registration)
	r.order = nil
	return firstErr
}

func (r *Registry) setStatus(reg *registration, s Status, err error) {
	r.mu.Lock()
	reg.status = s
	reg.lastErr = err
	r.mu.Unlock()
}
