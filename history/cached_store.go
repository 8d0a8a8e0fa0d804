package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/cache"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// CachedStore 在任意后端之上加一层读穿缓存。
// 整个频道窗口作为一个键缓存;追加即失效,读请求在本地截断。
// 缓存故障永远降级为直读后端,不影响正确性。
type CachedStore struct {
	inner  Store
	cache  *cache.Manager
	logger *zap.Logger
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps a Store with a read-through cache
func NewCachedStore(inner Store, cacheManager *cache.Manager, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		inner:  inner,
		cache:  cacheManager,
		logger: logger.With(zap.String("component", "history.cached")),
	}
}

func turnsKey(channelID string) string {
	return "turns:" + channelID
}

// AppendTurn writes through and invalidates the channel window
func (s *CachedStore) AppendTurn(ctx context.Context, turn types.ConversationTurn) error {
	if err := s.inner.AppendTurn(ctx, turn); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, turnsKey(turn.ChannelID)); err != nil {
		s.logger.Warn("failed to invalidate channel cache",
			zap.String("channel_id", turn.ChannelID),
			zap.Error(err))
	}
	return nil
}

// RecentTurns serves from cache when possible, falling back to the backend.
// The full default window is cached once; per-call limits slice locally.
func (s *CachedStore) RecentTurns(ctx context.Context, channelID string, limit int) ([]types.ConversationTurn, error) {
	if channelID == "" {
		return nil, ErrInvalidInput
	}

	var window []types.ConversationTurn
	err := s.cache.GetJSON(ctx, turnsKey(channelID), &window)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			s.logger.Warn("cache read failed, falling back to backend",
				zap.String("channel_id", channelID),
				zap.Error(err))
		}
		window, err = s.inner.RecentTurns(ctx, channelID, 0)
		if err != nil {
			return nil, err
		}
		if cacheErr := s.cache.SetJSON(ctx, turnsKey(channelID), window, 0); cacheErr != nil {
			s.logger.Warn("failed to populate channel cache",
				zap.String("channel_id", channelID),
				zap.Error(cacheErr))
		}
	}

	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window, nil
}

// LastActivity answers from the cached window when present
func (s *CachedStore) LastActivity(ctx context.Context, channelID string) (time.Time, error) {
	if channelID == "" {
		return time.Time{}, ErrInvalidInput
	}

	var window []types.ConversationTurn
	if err := s.cache.GetJSON(ctx, turnsKey(channelID), &window); err == nil && len(window) > 0 {
		return window[len(window)-1].Timestamp, nil
	}
	return s.inner.LastActivity(ctx, channelID)
}

// Ping checks the backend; the cache is best-effort and never gates health
func (s *CachedStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

// Close closes the backend. The cache manager is shared and closed by its owner.
func (s *CachedStore) Close() error {
	return s.inner.Close()
}
