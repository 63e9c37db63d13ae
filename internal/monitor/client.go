// Package monitor renders a terminal dashboard over the API server's
// stats endpoint.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	api "github.com/fyrsmithlabs/forged/internal/http"
)

// StatsClient fetches aggregate run stats from a forged API server.
type StatsClient struct {
	baseURL string
	client  *http.Client
}

// NewStatsClient creates a client for the given base URL, e.g.
// "http://localhost:8712".
func NewStatsClient(baseURL string) *StatsClient {
	return &StatsClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// FetchStats calls GET /api/v1/stats.
func (c *StatsClient) FetchStats(ctx context.Context) (*api.StatsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stats", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats endpoint returned %d", resp.StatusCode)
	}

	var stats api.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	return &stats, nil
}
