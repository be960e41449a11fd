// Package transcript は動画URLから文字起こしを取得するクライアントを提供する。
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// defaultEndpoint はDeepgramの事前録音音声向けAPIのエンドポイント。
const defaultEndpoint = "https://api.deepgram.com/v1/listen"

// DeepgramClient はDeepgramのREST APIで文字起こしを行う。
type DeepgramClient struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewDeepgramClient はDeepgramClientを生成する。
func NewDeepgramClient(apiKey string, httpClient *http.Client, logger *slog.Logger) *DeepgramClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &DeepgramClient{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
		logger:     logger,
		endpoint:   defaultEndpoint,
	}
}

// WithEndpoint はエンドポイントを差し替えたクライアントを返す。
func (c *DeepgramClient) WithEndpoint(endpoint string) *DeepgramClient {
	cp := *c
	cp.endpoint = endpoint
	return &cp
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe はsourceURLの音声を文字起こしする。
// 文字起こしが空の場合は空文字を返す（エラーではない）。
func (c *DeepgramClient) Transcribe(ctx context.Context, sourceURL string) (string, error) {
	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("model", "nova-3")
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	reqURL.RawQuery = q.Encode()

	body, err := json.Marshal(map[string]string{"url": sourceURL})
	if err != nil {
		return "", fmt.Errorf("リクエストボディの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Deepgram APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Deepgram APIがステータス %d を返しました: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed listenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	var text string
	if len(parsed.Results.Channels) > 0 && len(parsed.Results.Channels[0].Alternatives) > 0 {
		text = strings.TrimSpace(parsed.Results.Channels[0].Alternatives[0].Transcript)
	}
	c.logger.Info("文字起こしを取得しました",
		slog.String("source_url", sourceURL),
		slog.Int("length", len(text)),
	)
	return text, nil
}

// Nop はAPIキー未設定時に使用する文字起こし実装。常に空文字を返す。
type Nop struct{}

// Transcribe は常に空文字を返す。
func (Nop) Transcribe(ctx context.Context, sourceURL string) (string, error) {
	return "", nil
}
