// Package upstream talks to the statistical compute service that performs
// the heavy analysis work (descriptives, crosstabs, model training).
package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/statforge/statstream/internal/apiclient"
	"github.com/statforge/statstream/internal/store"
)

// Client is a typed wrapper over the compute service HTTP API.
type Client struct {
	api *apiclient.Client
}

// New creates a compute client for the given base URL.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{api: &apiclient.Client{
		BaseURL: baseURL,
		Token:   token,
		Timeout: timeout,
	}}
}

// AnalysisResult is the generic JSON result returned by compute endpoints.
type AnalysisResult map[string]interface{}

// Descriptive runs summary statistics for the selected variables.
func (c *Client) Descriptive(ctx context.Context, payload map[string]interface{}) (AnalysisResult, error) {
	var out AnalysisResult
	if err := c.api.PostJSON(ctx, "/api/analyze/descriptive", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Frequency runs frequency tables for the selected variables.
func (c *Client) Frequency(ctx context.Context, payload map[string]interface{}) (AnalysisResult, error) {
	var out AnalysisResult
	if err := c.api.PostJSON(ctx, "/api/analyze/frequency", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clean runs the data cleaning pipeline over an uploaded dataset.
func (c *Client) Clean(ctx context.Context, payload map[string]interface{}) (AnalysisResult, error) {
	var out AnalysisResult
	if err := c.api.PostJSON(ctx, "/api/analyze/clean", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Crosstab runs a cross tabulation with optional chi-square statistics.
func (c *Client) Crosstab(ctx context.Context, payload map[string]interface{}) (AnalysisResult, error) {
	var out AnalysisResult
	if err := c.api.PostJSON(ctx, "/crosstab/", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TrainModel starts a model training run on the compute service.
func (c *Client) TrainModel(ctx context.Context, payload map[string]interface{}) (AnalysisResult, error) {
	var out AnalysisResult
	if err := c.api.PostJSON(ctx, "/api/ml/train", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListModels returns the trained models known to the compute service.
func (c *Client) ListModels(ctx context.Context) ([]map[string]interface{}, error) {
	var out struct {
		Models []map[string]interface{} `json:"models"`
	}
	if err := c.api.GetJSON(ctx, "/api/ml/models", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Run executes a compute-backed job by type. It satisfies the job runner
// contract used by the job manager.
func (c *Client) Run(ctx context.Context, job *store.Job) (map[string]interface{}, error) {
	payload := job.Payload
	switch job.Type {
	case "descriptive":
		return c.Descriptive(ctx, payload)
	case "frequency":
		return c.Frequency(ctx, payload)
	case "data_clean":
		return c.Clean(ctx, payload)
	case "crosstab":
		return c.Crosstab(ctx, payload)
	case "ml_train":
		return c.TrainModel(ctx, payload)
	}
	return nil, fmt.Errorf("compute service does not handle job type %q", job.Type)
}
