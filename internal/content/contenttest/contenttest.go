// Package contenttest は遷移エンジンを利用するパッケージのテスト用ヘルパーを提供する。
package contenttest

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/contentforge/internal/content"
	"github.com/hitoshi/contentforge/internal/model"
	"github.com/hitoshi/contentforge/internal/repository"
)

// Clock は手動で進める時計。
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock は2026-05-01 09:00 UTCから始まる時計を生成する。
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

// Now は現在時刻を返す。
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance は時計をdだけ進める。
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SyncBuffer は並行書き込み可能なログバッファ。
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Env はメモリストア上に構築した遷移エンジン一式。
type Env struct {
	Engine *content.Engine
	Store  *repository.MemoryStore
	Clock  *Clock
	Logs   *SyncBuffer
	Logger *slog.Logger
}

// NewEnv はテスト用のEnvを生成する。
func NewEnv(t testing.TB) *Env {
	t.Helper()
	logs := &SyncBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	store := repository.NewMemoryStore()
	clock := NewClock()
	notifier := content.NewStatusNotifier(store, logger, nil)
	engine := content.NewEngine(store, store, notifier, nil, logger, content.WithClock(clock.Now))
	return &Env{Engine: engine, Store: store, Clock: clock, Logs: logs, Logger: logger}
}

// Create はqueued状態のレコードを作成してIDを返す。
func (e *Env) Create(t testing.TB) string {
	t.Helper()
	req, err := e.Engine.Create(context.Background(), "https://www.youtube.com/watch?v=abc", "user@example.com")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return req.RequestID
}

// AdvanceTo はレコードを正常系の経路に沿ってtargetまで進める。
// generatedへの遷移では生成物とexpiresAtを設定する。
func (e *Env) AdvanceTo(t testing.TB, id string, target model.Status) *model.ContentRequest {
	t.Helper()
	path := []model.Status{
		model.StatusTranscribing,
		model.StatusGenerating,
		model.StatusGenerated,
		model.StatusPendingApproval,
		model.StatusApproved,
		model.StatusPublishing,
		model.StatusPublished,
	}
	ctx := context.Background()
	for _, next := range path {
		req, err := e.Engine.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if req.Status == target {
			return req
		}
		if !content.CanTransition(req.Status, next) {
			continue
		}
		var mutate content.Mutator
		switch next {
		case model.StatusGenerated:
			mutate = func(r *model.ContentRequest) error {
				r.BlogPost, r.ShortPost, r.ProfessionalPost = "blog", "short", "pro"
				exp := e.Engine.Now().Add(model.ApprovalTTL)
				r.ExpiresAt = &exp
				return nil
			}
		case model.StatusPublishing:
			mutate = func(r *model.ContentRequest) error {
				r.Handles = &model.Handles{DevTo: "demo", X: "demo", LinkedIn: "demo"}
				return nil
			}
		}
		if _, err := e.Engine.ApplyTransition(ctx, id, []model.Status{req.Status}, next, mutate); err != nil {
			t.Fatalf("advance %s -> %s failed: %v", req.Status, next, err)
		}
	}
	req, err := e.Engine.Get(ctx, id)
	if err != nil || req.Status != target {
		t.Fatalf("could not reach %s", target)
	}
	return req
}

// MustGet はレコードを取得する。
func (e *Env) MustGet(t testing.TB, id string) *model.ContentRequest {
	t.Helper()
	req, err := e.Engine.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return req
}
