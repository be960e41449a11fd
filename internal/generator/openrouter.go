package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultOpenRouterModel = "google/gemini-2.0-flash-001"
	generationTemperature  = 0.2
)

// OpenRouterConfig はOpenRouterクライアントの設定。
type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Referer string
	Title   string
}

// OpenRouterClient はOpenAI互換のchat completions APIで生成を行う。
// 再試行は行わない。呼び出し元がIsRetryableで判定する。
type OpenRouterClient struct {
	cfg        OpenRouterConfig
	httpClient *http.Client
}

// NewOpenRouterClient はOpenRouterClientを生成する。
func NewOpenRouterClient(cfg OpenRouterConfig, httpClient *http.Client) *OpenRouterClient {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultOpenRouterURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultOpenRouterModel
	}
	if cfg.Title == "" {
		cfg.Title = "ContentForge"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenRouterClient{cfg: cfg, httpClient: httpClient}
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate はモデルを1回呼び出してArtifactsを返す。
func (c *OpenRouterClient) Generate(ctx context.Context, in Input) (Artifacts, error) {
	if c.cfg.APIKey == "" {
		return Artifacts{}, fmt.Errorf("%w: OPENROUTER_API_KEY", ErrNotConfigured)
	}
	prompt, err := BuildUserPrompt(in)
	if err != nil {
		return Artifacts{}, fmt.Errorf("generator: build prompt: %w", err)
	}

	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    generationTemperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Artifacts{}, fmt.Errorf("generator: encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return Artifacts{}, fmt.Errorf("generator: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	req.Header.Set("X-Title", c.cfg.Title)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Artifacts{}, fmt.Errorf("generator: http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Artifacts{}, fmt.Errorf("generator: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Artifacts{}, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return Artifacts{}, fmt.Errorf("%w: decode response: %v", ErrIncompleteOutput, err)
	}
	if len(completion.Choices) == 0 {
		return Artifacts{}, fmt.Errorf("%w: empty choices", ErrIncompleteOutput)
	}
	return DecodeArtifacts(completion.Choices[0].Message.Content)
}
