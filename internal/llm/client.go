// Package llm talks to a local text-generation service that speaks the
// Ollama HTTP API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	BaseURL     string
	Model       string
	Temperature float64
	ContextSize int
	HTTP        *http.Client
}

func NewClient(baseURL, model string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Health reports whether the service answers within timeout.
func (c *Client) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", c.BaseURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probing %s: status %d", c.BaseURL, resp.StatusCode)
	}
	return nil
}

type options struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type generateRequest struct {
	Model     string   `json:"model"`
	Prompt    string   `json:"prompt,omitempty"`
	Stream    bool     `json:"stream"`
	Format    string   `json:"format,omitempty"`
	Options   *options `json:"options,omitempty"`
	KeepAlive *int     `json:"keep_alive,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Generate sends prompt and returns the model's complete response text,
// asking the service for JSON output.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.post(ctx, generateRequest{
		Model:   c.Model,
		Prompt:  prompt,
		Format:  "json",
		Options: &options{Temperature: c.Temperature, NumCtx: c.ContextSize},
	})
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Unload asks the service to evict the model from memory.
func (c *Client) Unload(ctx context.Context) error {
	zero := 0
	_, err := c.post(ctx, generateRequest{Model: c.Model, KeepAlive: &zero})
	return err
}

func (c *Client) post(ctx context.Context, body generateRequest) (*generateResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	var out generateResponse
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &out) == nil && out.Error != "" {
			return nil, fmt.Errorf("service returned %d: %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("service error: %s", out.Error)
	}
	return &out, nil
}
