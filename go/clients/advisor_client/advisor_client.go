// Package advisor_client calls the external decision advisor that suggests
// moves for computer stand-ins.
package advisor_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mcdev12/marketlab/go/clients"
	"github.com/mcdev12/marketlab/go/internal/models"
)

type suggestResponse struct {
	Value     *float64 `json:"value"`
	Rationale string   `json:"rationale,omitempty"`
}

type AdvisorClient struct {
	*clients.BaseClient
}

// NewAdvisorClient creates a client for the advisor at baseURL. apiKey may
// be empty.
func NewAdvisorClient(baseURL, apiKey string, timeout time.Duration) *AdvisorClient {
	client := &AdvisorClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	if apiKey != "" {
		client.SetHeader(APIKeyHeader, apiKey)
	}
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return client
}

// SuggestDecision asks the advisor for a decision value. Bounds checking is
// left to the caller.
func (c *AdvisorClient) SuggestDecision(ctx context.Context, req models.SuggestRequest) (float64, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshal suggest request: %w", err)
	}

	data, err := c.Post(ctx, SuggestEndpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("advisor suggest: %w", err)
	}

	var resp suggestResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("decode advisor response: %w", err)
	}
	if resp.Value == nil {
		return 0, fmt.Errorf("advisor response has no value")
	}
	if math.IsNaN(*resp.Value) || math.IsInf(*resp.Value, 0) {
		return 0, fmt.Errorf("advisor returned a non-finite value")
	}
	return *resp.Value, nil
}
