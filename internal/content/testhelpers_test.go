package content

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/contentforge/internal/model"
	"github.com/hitoshi/contentforge/internal/repository"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// fakeClock はテスト用の手動で進める時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStatusWriter は常に失敗するStatusWriter。
type failingStatusWriter struct{}

func (failingStatusWriter) Put(ctx context.Context, event model.StatusEvent) error {
	return errors.New("stream unavailable")
}

type testEnv struct {
	engine *Engine
	store  *repository.MemoryStore
	clock  *fakeClock
	logs   *bytes.Buffer
}

func newTestEnv(t *testing.T, writer StatusWriter) *testEnv {
	t.Helper()
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	store := repository.NewMemoryStore()
	clock := newFakeClock()
	if writer == nil {
		writer = store
	}
	notifier := NewStatusNotifier(writer, logger, nil)
	engine := NewEngine(store, store, notifier, nil, logger, WithClock(clock.Now))
	return &testEnv{engine: engine, store: store, clock: clock, logs: &buf}
}

// advanceTo はレコードを遷移表に沿ってtargetまで進める。
func (env *testEnv) advanceTo(t *testing.T, id string, target model.Status) {
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
		req, err := env.engine.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if req.Status == target {
			return
		}
		if !CanTransition(req.Status, next) {
			continue
		}
		var mutate Mutator
		if next == model.StatusGenerated {
			mutate = func(r *model.ContentRequest) error {
				r.BlogPost, r.ShortPost, r.ProfessionalPost = "blog", "short", "pro"
				exp := env.engine.Now().Add(model.ApprovalTTL)
				r.ExpiresAt = &exp
				return nil
			}
		}
		if _, err := env.engine.ApplyTransition(ctx, id, []model.Status{req.Status}, next, mutate); err != nil {
			t.Fatalf("advance %s -> %s failed: %v", req.Status, next, err)
		}
	}
	req, err := env.engine.Get(ctx, id)
	if err != nil || req.Status != target {
		t.Fatalf("could not reach %s", target)
	}
}
