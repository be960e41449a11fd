package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/contentforge/internal/model"
)

// MemoryStore はプロセス内メモリを使用したストア。
// ContentRepository、IndexRepository、StatusRepositoryをすべて実装する。
// レコードはJSONで保持し、呼び出し元とポインタを共有しない。
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string][]byte
	index    map[string]int64
	seq      int64
	statuses map[string]model.StatusEvent
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string][]byte),
		index:    make(map[string]int64),
		statuses: make(map[string]model.StatusEvent),
	}
}

var (
	_ ContentRepository = (*MemoryStore)(nil)
	_ IndexRepository   = (*MemoryStore)(nil)
	_ StatusRepository  = (*MemoryStore)(nil)
)

// FindByID は指定IDのレコードを取得する。見つからない場合はnilを返す。
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*model.ContentRequest, error) {
	s.mu.Lock()
	raw, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeRecord(raw)
}

// Create は新規レコードを書き込む。既に存在する場合はErrDuplicateRequestを返す。
func (s *MemoryStore) Create(ctx context.Context, req *model.ContentRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("コンテンツリクエストのエンコードに失敗しました: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[req.RequestID]; exists {
		return ErrDuplicateRequest
	}
	s.records[req.RequestID] = raw
	return nil
}

// CompareAndSwap は保存済みstatusがexpectedと一致する場合に限りレコードを置き換える。
func (s *MemoryStore) CompareAndSwap(ctx context.Context, req *model.ContentRequest, expected model.Status) (bool, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("コンテンツリクエストのエンコードに失敗しました: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[req.RequestID]
	if !ok {
		return false, nil
	}
	stored, err := decodeRecord(current)
	if err != nil {
		return false, err
	}
	if stored.Status != expected {
		return false, nil
	}
	s.records[req.RequestID] = raw
	return true, nil
}

// Add はIDを追加する。既に存在する場合は何もしない。
func (s *MemoryStore) Add(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[id]; exists {
		return nil
	}
	s.seq++
	s.index[id] = s.seq
	return nil
}

// List は登録順に全IDを返す。
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.index[ids[i]] < s.index[ids[j]]
	})
	return ids, nil
}

// Remove は指定IDを取り除く。
func (s *MemoryStore) Remove(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.index, id)
	}
	return nil
}

// Put は最新ステータスを書き込む。
func (s *MemoryStore) Put(ctx context.Context, event model.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[event.RequestID] = event
	return nil
}

// Latest は最新ステータスを返す。見つからない場合はnilを返す。
func (s *MemoryStore) Latest(ctx context.Context, requestID string) (*model.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.statuses[requestID]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

// DeleteOlderThan はcutoffより古いステータスを削除する。
func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ev := range s.statuses {
		if ev.TS.Before(cutoff) {
			delete(s.statuses, id)
			n++
		}
	}
	return n, nil
}

// PingContext はヘルスチェック用。メモリストアは常に利用可能。
func (s *MemoryStore) PingContext(ctx context.Context) error {
	return nil
}

func decodeRecord(raw []byte) (*model.ContentRequest, error) {
	var req model.ContentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("コンテンツリクエストのデコードに失敗しました: %w", err)
	}
	return &req, nil
}
