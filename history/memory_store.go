package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// MemoryStore 是 Store 的内存实现。
// 适合开发和测试。数据在重新启动时丢失。
type MemoryStore struct {
	channels map[string][]types.ConversationTurn // channelID -> turns, oldest first
	mu       sync.RWMutex
	closed   bool
	config   StoreConfig
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory history store
func NewMemoryStore(config StoreConfig) *MemoryStore {
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultStoreConfig().MaxTurns
	}
	return &MemoryStore{
		channels: make(map[string][]types.ConversationTurn),
		config:   config,
	}
}

// AppendTurn 追加一条对话记录
func (s *MemoryStore) AppendTurn(ctx context.Context, turn types.ConversationTurn) error {
	if err := validateTurn(turn); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	turns := append(s.channels[turn.ChannelID], turn)
	if len(turns) > s.config.MaxTurns {
		turns = turns[len(turns)-s.config.MaxTurns:]
	}
	s.channels[turn.ChannelID] = turns
	return nil
}

// RecentTurns 返回频道最近的记录,从旧到新
func (s *MemoryStore) RecentTurns(ctx context.Context, channelID string, limit int) ([]types.ConversationTurn, error) {
	if channelID == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > s.config.MaxTurns {
		limit = s.config.MaxTurns
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	turns := s.channels[channelID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	// 复制切片,防止调用方与后续追加互相干扰
	out := make([]types.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

// LastActivity 返回频道最新一条记录的时间戳
func (s *MemoryStore) LastActivity(ctx context.Context, channelID string) (time.Time, error) {
	if channelID == "" {
		return time.Time{}, ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return time.Time{}, ErrStoreClosed
	}

	turns := s.channels[channelID]
	if len(turns) == 0 {
		return time.Time{}, ErrNotFound
	}
	return turns[len(turns)-1].Timestamp, nil
}

// Ping 检查存储是否健康
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
