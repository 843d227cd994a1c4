package mediationsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Client talks to a mediationd instance.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the daemon at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// AdRequest asks the daemon to run an auction for a placement.
type AdRequest struct {
	Placement string            `json:"placement"`
	AdType    string            `json:"adType,omitempty"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
	Extras    map[string]string `json:"extras,omitempty"`
}

// AdResult mirrors the daemon's auction result.
type AdResult struct {
	RequestID   string          `json:"request_id"`
	PlacementID string          `json:"placement_id"`
	State       string          `json:"state"`
	Winner      string          `json:"winner,omitempty"`
	ECPM        decimal.Decimal `json:"ecpm,omitempty"`
	Duration    time.Duration   `json:"duration"`
}

// ShowResult is the daemon's answer to a show request.
type ShowResult struct {
	Shown   bool   `json:"shown"`
	AdID    string `json:"adId"`
	Network string `json:"network"`
}

// AdapterStatus is one entry of the initialization report.
type AdapterStatus struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// LoadAd runs an auction and returns the terminal result.
func (c *Client) LoadAd(ctx context.Context, req AdRequest) (*AdResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/ad", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.auth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return &AdResult{PlacementID: req.Placement, State: "no_fill"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var result AdResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Show presents the cached ad for a placement.
func (c *Client) Show(ctx context.Context, placement string) (*ShowResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/show/"+placement, nil)
	if err != nil {
		return nil, err
	}
	c.auth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var result ShowResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Report fetches the per-adapter initialization report.
func (c *Client) Report(ctx context.Context) ([]AdapterStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/report", nil)
	if err != nil {
		return nil, err
	}
	c.auth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var report []AdapterStatus
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return report, nil
}

// RefreshConfig asks the daemon to re-fetch its config document.
func (c *Client) RefreshConfig(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/config/refresh", nil)
	if err != nil {
		return err
	}
	c.auth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// DebugEvent is one telemetry event from the debug stream.
type DebugEvent struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	PlacementID string            `json:"placement_id,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// DebugStream connects to the daemon's telemetry websocket. The
// returned channel closes when the connection drops or ctx ends.
func (c *Client) DebugStream(ctx context.Context) (<-chan DebugEvent, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/debug/stream"

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}

	events := make(chan DebugEvent, 64)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev DebugEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return events, nil
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("mediationd: %s (%s)", body.Error, resp.Status)
	}
	return fmt.Errorf("mediationd: request failed: %s", resp.Status)
}
