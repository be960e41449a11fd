package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/contentforge/internal/model"
	"github.com/hitoshi/contentforge/internal/repository"
)

// mockPurger はDeleteOlderThanの呼び出しを記録するモック。
type mockPurger struct {
	called bool
	cutoff time.Time
	n      int64
	err    error
}

func (m *mockPurger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.called = true
	m.cutoff = cutoff
	return m.n, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_DefaultRetention(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{}, 0, newTestLogger(&buf))

	if job.Retention != 7*24*time.Hour {
		t.Errorf("Retention = %v, want 168h", job.Retention)
	}
}

func TestCleanupJob_Run_PassesCutoff(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPurger{n: 3}
	job := NewCleanupJob(mock, 48*time.Hour, newTestLogger(&buf))
	fixed := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if !mock.called {
		t.Fatal("DeleteOlderThan が呼び出されなかった")
	}
	want := time.Date(2026, 5, 8, 0, 0, 0, 0, time.UTC)
	if !mock.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", mock.cutoff, want)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{n: 42}, 0, newTestLogger(&buf))

	_ = job.Run(context.Background())

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["deleted_count"] == float64(42) {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsStoreError(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{err: errors.New("db down")}, 0, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("Run() がエラーを返さなかった")
	}
	if !strings.Contains(err.Error(), "db down") {
		t.Errorf("エラーに原因が含まれていない: %v", err)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("エラーログが出力されていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_MemoryStore(t *testing.T) {
	var buf bytes.Buffer
	store := repository.NewMemoryStore()
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_ = store.Put(ctx, model.StatusEvent{RequestID: "old", Stage: "published", TS: now.Add(-8 * 24 * time.Hour)})
	_ = store.Put(ctx, model.StatusEvent{RequestID: "new", Stage: "queued", TS: now.Add(-time.Hour)})

	job := NewCleanupJob(store, 0, newTestLogger(&buf))
	job.now = func() time.Time { return now }
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if ev, _ := store.Latest(ctx, "old"); ev != nil {
		t.Error("保持期間を超えたステータスが削除されていない")
	}
	if ev, _ := store.Latest(ctx, "new"); ev == nil {
		t.Error("保持期間内のステータスが削除された")
	}

	// 冪等: 2回目も成功する
	if err := job.Run(ctx); err != nil {
		t.Fatalf("2回目の Run() がエラーを返した: %v", err)
	}
}

func TestCleanupJob_Start_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPurger{}
	job := NewCleanupJob(mock, 0, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start が終了しなかった")
	}
	if !mock.called {
		t.Error("起動時の Run が実行されなかった")
	}
}
