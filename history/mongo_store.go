package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// MongoStore is a MongoDB-based implementation of Store.
// Suitable for deployments that already operate a document store.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	config StoreConfig
	logger *zap.Logger
}

var _ Store = (*MongoStore)(nil)

// turnDocument 是 ConversationTurn 在集合中的落盘形态。
// 字段名保持与 JSON 标签一致,方便跨工具排查数据。
type turnDocument struct {
	ID        string    `bson:"_id"`
	ChannelID string    `bson:"channel_id"`
	SpeakerID string    `bson:"speaker_id"`
	Role      string    `bson:"role"`
	Text      string    `bson:"text"`
	Timestamp time.Time `bson:"timestamp"`
}

func toDocument(turn types.ConversationTurn) turnDocument {
	return turnDocument{
		ID:        turn.ID,
		ChannelID: turn.ChannelID,
		SpeakerID: turn.SpeakerID,
		Role:      string(turn.Role),
		Text:      turn.Text,
		Timestamp: turn.Timestamp.UTC(),
	}
}

func (d turnDocument) toTurn() types.ConversationTurn {
	return types.ConversationTurn{
		ID:        d.ID,
		ChannelID: d.ChannelID,
		SpeakerID: d.SpeakerID,
		Role:      types.Role(d.Role),
		Text:      d.Text,
		Timestamp: d.Timestamp.UTC(),
	}
}

// NewMongoStore creates a new MongoDB-based history store
func NewMongoStore(config StoreConfig, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultStoreConfig().MaxTurns
	}
	defaults := DefaultStoreConfig().Mongo
	if config.Mongo.URI == "" {
		config.Mongo.URI = defaults.URI
	}
	if config.Mongo.Database == "" {
		config.Mongo.Database = defaults.Database
	}
	if config.Mongo.Collection == "" {
		config.Mongo.Collection = defaults.Collection
	}
	if config.Mongo.ConnectTimeout <= 0 {
		config.Mongo.ConnectTimeout = defaults.ConnectTimeout
	}

	client, err := mongo.Connect(options.Client().ApplyURI(config.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), config.Mongo.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	store := &MongoStore{
		client: client,
		coll:   client.Database(config.Mongo.Database).Collection(config.Mongo.Collection),
		config: config,
		logger: logger.With(zap.String("component", "history.mongo")),
	}

	// 查询全部走 (channel_id, timestamp),建索引失败只告警不阻塞启动
	if _, err := store.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "channel_id", Value: 1}, {Key: "timestamp", Value: 1}},
	}); err != nil {
		store.logger.Warn("failed to ensure channel/timestamp index", zap.Error(err))
	}

	return store, nil
}

// AppendTurn persists a single turn and evicts overflow beyond MaxTurns
func (s *MongoStore) AppendTurn(ctx context.Context, turn types.ConversationTurn) error {
	if err := validateTurn(turn); err != nil {
		return err
	}

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	if _, err := s.coll.InsertOne(ctx, toDocument(turn)); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if err := s.trimChannel(ctx, turn.ChannelID); err != nil {
		// 截断失败不影响写入结果,下次追加会再次尝试
		s.logger.Warn("failed to trim channel history",
			zap.String("channel_id", turn.ChannelID),
			zap.Error(err))
	}
	return nil
}

// trimChannel deletes the oldest turns once the channel exceeds MaxTurns
func (s *MongoStore) trimChannel(ctx context.Context, channelID string) error {
	filter := bson.D{{Key: "channel_id", Value: channelID}}

	count, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return err
	}
	overflow := count - int64(s.config.MaxTurns)
	if overflow <= 0 {
		return nil
	}

	cursor, err := s.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(overflow).
		SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return err
	}

	var stale []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &stale); err != nil {
		return err
	}

	ids := make([]string, 0, len(stale))
	for _, doc := range stale {
		ids = append(ids, doc.ID)
	}
	_, err = s.coll.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	return err
}

// RecentTurns returns up to limit most recent turns, oldest first
func (s *MongoStore) RecentTurns(ctx context.Context, channelID string, limit int) ([]types.ConversationTurn, error) {
	if channelID == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > s.config.MaxTurns {
		limit = s.config.MaxTurns
	}

	// 先按时间倒序取 limit 条,再反转成从旧到新
	cursor, err := s.coll.Find(ctx,
		bson.D{{Key: "channel_id", Value: channelID}},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
			SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}

	var docs []turnDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode turns: %w", err)
	}

	turns := make([]types.ConversationTurn, len(docs))
	for i, doc := range docs {
		turns[len(docs)-1-i] = doc.toTurn()
	}
	return turns, nil
}

// LastActivity returns the timestamp of the newest turn in the channel
func (s *MongoStore) LastActivity(ctx context.Context, channelID string) (time.Time, error) {
	if channelID == "" {
		return time.Time{}, ErrInvalidInput
	}

	var doc turnDocument
	err := s.coll.FindOne(ctx,
		bson.D{{Key: "channel_id", Value: channelID}},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last turn: %w", err)
	}
	return doc.Timestamp.UTC(), nil
}

// Ping checks if the store is healthy
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
