package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"studentquery/internal/models"

	"golang.org/x/time/rate"
)

// ChatRequest describes a single non-streaming chat completion
type ChatRequest struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Client is an OpenAI-compatible chat completion client. Provider and model
// configuration can be swapped at runtime when providers.json changes.
type Client struct {
	mu               sync.RWMutex
	provider         models.Provider
	analyzerModel    string
	synthesizerModel string

	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client from the loaded provider config
func NewClient(cfg *models.ProvidersConfig) *Client {
	return &Client{
		provider:         cfg.Provider,
		analyzerModel:    cfg.AnalyzerModel,
		synthesizerModel: cfg.SynthesizerModel,
		httpClient: &http.Client{
			Timeout: 600 * time.Second, // generous timeout for slow models
		},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// UpdateConfig swaps the provider and models. Called from the config
// watcher when providers.json changes on disk.
func (c *Client) UpdateConfig(cfg *models.ProvidersConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = cfg.Provider
	c.analyzerModel = cfg.AnalyzerModel
	c.synthesizerModel = cfg.SynthesizerModel
	log.Printf("🔄 [LLM] Provider config updated: %s (analyzer=%s, synthesizer=%s)",
		cfg.Provider.Name, cfg.AnalyzerModel, cfg.SynthesizerModel)
}

// AnalyzerModel returns the model used for intent analysis
func (c *Client) AnalyzerModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.analyzerModel
}

// SynthesizerModel returns the model used for answer synthesis
func (c *Client) SynthesizerModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synthesizerModel
}

// Complete executes a chat completion and returns the assistant content
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	c.mu.RLock()
	provider := c.provider
	c.mu.RUnlock()

	messages := []map[string]string{
		{"role": "user", "content": req.User},
	}
	if req.System != "" {
		messages = append([]map[string]string{{"role": "system", "content": req.System}}, messages...)
	}

	requestBody := map[string]interface{}{
		"model":       req.Model,
		"messages":    messages,
		"temperature": req.Temperature,
		"stream":      false,
	}
	if req.MaxTokens > 0 {
		requestBody["max_tokens"] = req.MaxTokens
	}
	if req.JSONMode {
		requestBody["response_format"] = map[string]interface{}{
			"type": "json_object",
		}
	}

	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(provider.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("LLM request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("LLM request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse LLM response: %w", err)
	}

	content := ""
	if choices, ok := result["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			if message, ok := choice["message"].(map[string]interface{}); ok {
				if c, ok := message["content"].(string); ok {
					content = c
				}
			}
		}
	}
	if content == "" {
		return "", fmt.Errorf("LLM response contained no content")
	}

	var inputTokens, outputTokens int
	if usage, ok := result["usage"].(map[string]interface{}); ok {
		if pt, ok := usage["prompt_tokens"].(float64); ok {
			inputTokens = int(pt)
		}
		if ct, ok := usage["completion_tokens"].(float64); ok {
			outputTokens = int(ct)
		}
	}
	log.Printf("✅ [LLM] %s completed, response_len=%d, tokens=%d/%d",
		req.Model, len(content), inputTokens, outputTokens)

	return content, nil
}
