package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ── OpenAI-compatible completion client ─────────────────────

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// OpenAIClient speaks the OpenAI chat-completions wire format, which most
// hosted and local model servers expose.
type OpenAIClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewOpenAIClient creates a client against an OpenAI-compatible endpoint,
// e.g. https://api.openai.com/v1.
func NewOpenAIClient(endpoint, apiKey string) *OpenAIClient {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

// Complete sends a single-turn chat completion and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	body, _ := json.Marshal(chatRequest{
		Model:    modelID,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})

	url := c.endpoint + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: response had no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
