// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ClientOptions configures a config Client.
type ClientOptions struct {
	Endpoint   string
	AppID      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client fetches configuration documents and retains the last good one.
// A fetched document with a lower version than the current one is
// rejected so a lagging config server cannot roll the app backwards.
type Client struct {
	opts ClientOptions
	http *http.Client
	log  *zap.Logger

	mu      sync.RWMutex
	current *Document
	etag    string
}

// NewClient creates a config client.
func NewClient(opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{opts: opts, http: opts.HTTPClient, log: opts.Logger}
}

// Current returns the last good document, nil before the first fetch.
func (c *Client) Current() *Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Fetch retrieves the latest document. An unchanged document (304) or
// an older version keeps the current one and returns it.
func (c *Client) Fetch(ctx context.Context) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build config request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.AppID != "" {
		req.Header.Set("X-App-Id", c.opts.AppID)
	}
	c.mu.RLock()
	if c.etag != "" {
		req.Header.Set("If-None-Match", c.etag)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return c.Current(), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch config: unexpected status %d", resp.StatusCode)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && doc.Version < c.current.Version {
		c.log.Warn("rejecting stale config document",
			zap.Int64("current", c.current.Version),
			zap.Int64("fetched", doc.Version))
		return nil, fmt.Errorf("%w: version %d < %d",
			ErrStaleDocument, doc.Version, c.current.Version)
	}
	c.current = &doc
	c.etag = resp.Header.Get("ETag")
	c.log.Info("config document applied",
		zap.String("config_id", doc.ConfigID),
		zap.Int64("version", doc.Version),
		zap.Int("placements", len(doc.Placements)))
	return &doc, nil
}
