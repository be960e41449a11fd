// Package mailer は承認依頼・公開完了の通知メールを送信する。
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultEndpoint = "https://api.resend.com/emails"
	// DefaultFrom は送信元アドレスの既定値。
	DefaultFrom = "ContentForge <onboarding@resend.dev>"
)

// ErrNotConfigured はメール送信が設定されていないことを表す。
var ErrNotConfigured = errors.New("mailer: not configured")

// Message は送信する1通のメール。
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender はメールを送信する。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var (
	_ Sender = (*ResendClient)(nil)
	_ Sender = Nop{}
)

// ResendClient はResendのHTTP APIでメールを送信する。
type ResendClient struct {
	apiKey     string
	from       string
	httpClient *http.Client
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewResendClient はResendClientを生成する。
func NewResendClient(apiKey, from string, httpClient *http.Client) *ResendClient {
	if strings.TrimSpace(from) == "" {
		from = DefaultFrom
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ResendClient{
		apiKey:     strings.TrimSpace(apiKey),
		from:       from,
		httpClient: httpClient,
		endpoint:   defaultEndpoint,
	}
}

// WithEndpoint はエンドポイントを差し替えたクライアントを返す。
func (c *ResendClient) WithEndpoint(endpoint string) *ResendClient {
	cp := *c
	cp.endpoint = endpoint
	return &cp
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send はメールを1通送信する。
func (c *ResendClient) Send(ctx context.Context, msg Message) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(sendRequest{
		From:    c.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("メール本文のエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Resend APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("Resend APIがステータス %d を返しました: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// Nop はAPIキー未設定時に使用するメーラー。常にErrNotConfiguredを返す。
type Nop struct{}

// Send は何も送信せずErrNotConfiguredを返す。
func (Nop) Send(ctx context.Context, msg Message) error {
	return ErrNotConfigured
}
