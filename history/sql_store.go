package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// TurnRecord 对话记录的数据库行
type TurnRecord struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	ChannelID string    `gorm:"size:64;not null;index:idx_channel_ts,priority:1" json:"channel_id"` // 频道
	SpeakerID string    `gorm:"size:64;not null" json:"speaker_id"`                                 // 发言者
	Role      string    `gorm:"size:16;not null" json:"role"`                                       // human / persona
	Text      string    `gorm:"type:text" json:"text"`
	Timestamp time.Time `gorm:"not null;index:idx_channel_ts,priority:2" json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

func (TurnRecord) TableName() string {
	return "conversation_turns"
}

func toRecord(turn types.ConversationTurn) TurnRecord {
	return TurnRecord{
		ID:        turn.ID,
		ChannelID: turn.ChannelID,
		SpeakerID: turn.SpeakerID,
		Role:      string(turn.Role),
		Text:      turn.Text,
		Timestamp: turn.Timestamp.UTC(),
	}
}

func (r TurnRecord) toTurn() types.ConversationTurn {
	return types.ConversationTurn{
		ID:        r.ID,
		ChannelID: r.ChannelID,
		SpeakerID: r.SpeakerID,
		Role:      types.Role(r.Role),
		Text:      r.Text,
		Timestamp: r.Timestamp.UTC(),
	}
}

// SQLStore is a relational implementation of Store backed by GORM.
// Works with any dialector the migration tooling supports
// (Postgres, MySQL, SQLite).
type SQLStore struct {
	db     *gorm.DB
	config StoreConfig
	logger *zap.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a new SQL-backed history store.
// The *gorm.DB handle is injected; its lifecycle belongs to the caller.
func NewSQLStore(config StoreConfig, logger *zap.Logger) (*SQLStore, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("sql history store requires a database handle: %w", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultStoreConfig().MaxTurns
	}

	if config.AutoMigrate {
		if err := config.DB.AutoMigrate(&TurnRecord{}); err != nil {
			return nil, fmt.Errorf("failed to migrate conversation_turns: %w", err)
		}
	}

	return &SQLStore{
		db:     config.DB,
		config: config,
		logger: logger.With(zap.String("component", "history.sql")),
	}, nil
}

// AppendTurn persists a single turn and evicts overflow beyond MaxTurns
func (s *SQLStore) AppendTurn(ctx context.Context, turn types.ConversationTurn) error {
	if err := validateTurn(turn); err != nil {
		return err
	}

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	record := toRecord(turn)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if err := s.trimChannel(ctx, turn.ChannelID); err != nil {
		s.logger.Warn("failed to trim channel history",
			zap.String("channel_id", turn.ChannelID),
			zap.Error(err))
	}
	return nil
}

// trimChannel deletes the oldest rows once the channel exceeds MaxTurns
func (s *SQLStore) trimChannel(ctx context.Context, channelID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&TurnRecord{}).
		Where("channel_id = ?", channelID).
		Count(&count).Error; err != nil {
		return err
	}
	overflow := count - int64(s.config.MaxTurns)
	if overflow <= 0 {
		return nil
	}

	var stale []string
	if err := s.db.WithContext(ctx).Model(&TurnRecord{}).
		Where("channel_id = ?", channelID).
		Order("timestamp asc").Order("id asc").
		Limit(int(overflow)).
		Pluck("id", &stale).Error; err != nil {
		return err
	}

	return s.db.WithContext(ctx).
		Where("id IN ?", stale).
		Delete(&TurnRecord{}).Error
}

// RecentTurns returns up to limit most recent turns, oldest first
func (s *SQLStore) RecentTurns(ctx context.Context, channelID string, limit int) ([]types.ConversationTurn, error) {
	if channelID == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > s.config.MaxTurns {
		limit = s.config.MaxTurns
	}

	// 倒序取最近 limit 行，再反转为从旧到新
	var records []TurnRecord
	if err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("timestamp desc").Order("id desc").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}

	turns := make([]types.ConversationTurn, len(records))
	for i, record := range records {
		turns[len(records)-1-i] = record.toTurn()
	}
	return turns, nil
}

// LastActivity returns the timestamp of the newest turn in the channel
func (s *SQLStore) LastActivity(ctx context.Context, channelID string) (time.Time, error) {
	if channelID == "" {
		return time.Time{}, ErrInvalidInput
	}

	var record TurnRecord
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("timestamp desc").Order("id desc").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last turn: %w", err)
	}
	return record.Timestamp.UTC(), nil
}

// Ping checks if the store is healthy
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases nothing: the injected *gorm.DB belongs to the caller.
func (s *SQLStore) Close() error {
	return nil
}
