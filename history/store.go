// Package history provides persistent storage for conversation turns.
//
// Every reply decision in the pipeline reads from this package: the
// classifier consumes recent turns, the organic coordinator watches
// last-activity timestamps, and accepted replies are appended back.
//
// Supported backends:
// - Memory: For development and testing (default)
// - Redis: For distributed production deployments
// - Mongo: For deployments that already run a document store
// - SQL: For relational deployments (Postgres/MySQL/SQLite via GORM)
package history

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeMongo  StoreType = "mongo"
	StoreTypeSQL    StoreType = "sql"
)

// Store 对话历史的追加式存储。
// 同一频道内的记录按 Timestamp 升序返回；写入后不可变更。
type Store interface {
	// AppendTurn appends one turn to its channel's history.
	AppendTurn(ctx context.Context, turn types.ConversationTurn) error

	// RecentTurns returns up to limit most recent turns for the channel,
	// ordered oldest to newest. limit <= 0 means the store's default cap.
	RecentTurns(ctx context.Context, channelID string, limit int) ([]types.ConversationTurn, error)

	// LastActivity returns the timestamp of the newest turn in the channel.
	// Returns ErrNotFound when the channel has no recorded turns.
	LastActivity(ctx context.Context, channelID string) (time.Time, error)

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error

	// Close closes the store and releases resources
	Close() error
}

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// MaxTurns caps how many turns each channel retains (default: 200).
	// Older turns are evicted; downstream readers never need more.
	MaxTurns int `json:"max_turns" yaml:"max_turns"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	// Mongo configuration (only used when Type is "mongo")
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo"`

	// DB is an already-opened GORM handle (only used when Type is "sql").
	// The caller owns the connection pool; Close does not touch it.
	DB *gorm.DB `json:"-" yaml:"-"`

	// AutoMigrate runs schema migration on SQL store startup.
	// Production deployments should use the migrate subcommand instead.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Host is the Redis server host
	Host string `json:"host" yaml:"host"`

	// Port is the Redis server port
	Port int `json:"port" yaml:"port"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// MinIdleConns is the minimum number of idle connections kept open
	MinIdleConns int `json:"min_idle_conns" yaml:"min_idle_conns"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// MongoStoreConfig contains MongoDB-specific configuration
type MongoStoreConfig struct {
	// URI is the MongoDB connection string
	URI string `json:"uri" yaml:"uri"`

	// Database is the database name
	Database string `json:"database" yaml:"database"`

	// Collection is the collection holding conversation turns
	Collection string `json:"collection" yaml:"collection"`

	// ConnectTimeout bounds the initial connect+ping (default: 10s)
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:     StoreTypeMemory,
		MaxTurns: 200,
		Redis: RedisStoreConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "pgbot:history:",
		},
		Mongo: MongoStoreConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "pgbot",
			Collection:     "conversation_turns",
			ConnectTimeout: 10 * time.Second,
		},
	}
}

// validateTurn rejects turns a backend could not store or retrieve.
func validateTurn(turn types.ConversationTurn) error {
	if turn.ChannelID == "" || turn.SpeakerID == "" {
		return ErrInvalidInput
	}
	return nil
}
