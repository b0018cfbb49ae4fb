// Package cohere implements rerank.Scorer against a Cohere-compatible
// rerank endpoint (Cohere, Jina, or any service speaking the same shape).
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://api.cohere.com"
	defaultModel   = "rerank-v3.5"
)

// Client implements rerank.Scorer over HTTP.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// New creates a Cohere-compatible rerank provider.
func New(apiKey, model, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Name() string { return "cohere/" + c.model }

func (c *Client) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	body := map[string]any{
		"model":     c.model,
		"query":     query,
		"documents": texts,
		"top_n":     len(texts),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/rerank", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cohere: %s: %s", resp.Status, respBody)
	}

	var result struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}

	scores := make([]float64, len(texts))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, fmt.Errorf("cohere: result index %d out of range", r.Index)
		}
		scores[r.Index] = r.RelevanceScore
	}
	return scores, nil
}
