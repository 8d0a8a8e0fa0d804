package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// RedisStore is a Redis-based implementation of Store.
// Suitable for distributed production deployments.
// Each channel's turns live in one Redis LIST, trimmed to MaxTurns on write.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	config    StoreConfig
	logger    *zap.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-based history store
func NewRedisStore(config StoreConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultStoreConfig().MaxTurns
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		PoolSize:     config.Redis.PoolSize,
		MinIdleConns: config.Redis.MinIdleConns,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "pgbot:history:"
	}

	store := &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		config:    config,
		logger:    logger.With(zap.String("component", "history.redis")),
	}

	return store, nil
}

// channelKey returns the Redis key for a channel's turn list
func (s *RedisStore) channelKey(channelID string) string {
	return s.keyPrefix + "channel:" + channelID
}

// AppendTurn persists a single turn at the tail of its channel list
func (s *RedisStore) AppendTurn(ctx context.Context, turn types.ConversationTurn) error {
	if err := validateTurn(turn); err != nil {
		return err
	}

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	// 追加与截断放进同一条流水线,保证单次往返
	key := s.channelKey(turn.ChannelID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.config.MaxTurns), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	s.logger.Debug("turn appended",
		zap.String("channel_id", turn.ChannelID),
		zap.String("speaker_id", turn.SpeakerID))
	return nil
}

// RecentTurns returns up to limit most recent turns, oldest first
func (s *RedisStore) RecentTurns(ctx context.Context, channelID string, limit int) ([]types.ConversationTurn, error) {
	if channelID == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > s.config.MaxTurns {
		limit = s.config.MaxTurns
	}

	raw, err := s.client.LRange(ctx, s.channelKey(channelID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	turns := make([]types.ConversationTurn, 0, len(raw))
	for _, item := range raw {
		var turn types.ConversationTurn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			// 跳过坏记录而不是让整个频道不可读
			s.logger.Warn("skipping corrupt turn record",
				zap.String("channel_id", channelID),
				zap.Error(err))
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// LastActivity returns the timestamp of the newest turn in the channel
func (s *RedisStore) LastActivity(ctx context.Context, channelID string) (time.Time, error) {
	if channelID == "" {
		return time.Time{}, ErrInvalidInput
	}

	raw, err := s.client.LRange(ctx, s.channelKey(channelID), -1, -1).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last turn: %w", err)
	}
	if len(raw) == 0 {
		return time.Time{}, ErrNotFound
	}

	var turn types.ConversationTurn
	if err := json.Unmarshal([]byte(raw[0]), &turn); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal last turn: %w", err)
	}
	return turn.Timestamp, nil
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the store
func (s *RedisStore) Close() error {
	return s.client.Close()
}
