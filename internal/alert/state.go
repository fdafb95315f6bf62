package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"owl-thermo/internal/models"
	"owl-thermo/internal/store"
)

// StateStore 报警状态持久化（引擎持有内存副本，变更时写穿）
type StateStore interface {
	Load(ctx context.Context) (map[string]models.AlertState, error)
	Save(ctx context.Context, deviceID string, st models.AlertState) error
	Delete(ctx context.Context, deviceID string) error
}

// MemoryStateStore 进程内状态，重启后丢失
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]models.AlertState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]models.AlertState)}
}

func (m *MemoryStateStore) Load(context.Context) (map[string]models.AlertState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.AlertState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStateStore) Save(_ context.Context, deviceID string, st models.AlertState) error {
	m.mu.Lock()
	m.states[deviceID] = st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStateStore) Delete(_ context.Context, deviceID string) error {
	m.mu.Lock()
	delete(m.states, deviceID)
	m.mu.Unlock()
	return nil
}

// KVStateStore 状态以 JSON 存在 KV（Redis）中，进行中的计时在重启后保留
type KVStateStore struct {
	kv     store.KV
	prefix string
}

func NewKVStateStore(kv store.KV, prefix string) *KVStateStore {
	return &KVStateStore{kv: kv, prefix: prefix}
}

func (s *KVStateStore) Load(ctx context.Context) (map[string]models.AlertState, error) {
	keys, err := s.kv.ScanKeys(ctx, s.prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan alert states: %v", models.ErrStorage, err)
	}
	out := make(map[string]models.AlertState, len(keys))
	for _, k := range keys {
		raw, err := s.kv.Get(ctx, k)
		if err != nil {
			if errors.Is(err, store.ErrMiss) {
				continue
			}
			return nil, fmt.Errorf("%w: failed to get alert state: %v", models.ErrStorage, err)
		}
		var st models.AlertState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			// 损坏的状态视为不存在
			continue
		}
		out[strings.TrimPrefix(k, s.prefix)] = st
	}
	return out, nil
}

func (s *KVStateStore) Save(ctx context.Context, deviceID string, st models.AlertState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal alert state: %w", err)
	}
	if err := s.kv.Set(ctx, s.prefix+deviceID, string(data), 0); err != nil {
		return fmt.Errorf("%w: failed to save alert state: %v", models.ErrStorage, err)
	}
	return nil
}

func (s *KVStateStore) Delete(ctx context.Context, deviceID string) error {
	if err := s.kv.Delete(ctx, s.prefix+deviceID); err != nil {
		return fmt.Errorf("%w: failed to delete alert state: %v", models.ErrStorage, err)
	}
	return nil
}
