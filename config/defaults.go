// =============================================================================
// 📦 PG-Bot 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		LLM:       DefaultLLMConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Discord:   DefaultDiscordConfig(),
		History:   DefaultHistoryConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Mongo:     DefaultMongoConfig(),
		Quality:   DefaultQualityConfig(),
		Retry:     DefaultRetryConfig(),
		Dedup:     DefaultDedupConfig(),
		Organic:   DefaultOrganicConfig(),
		JWT:       JWTConfig{},
		Personas:  DefaultPersonas(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "pgbot",
		SampleRate:   1.0,
	}
}

// DefaultLLMConfig 返回默认生成后端配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:          "ollama",
		BaseURL:           "http://localhost:11434/v1",
		Model:             "llama3",
		Timeout:           2 * time.Minute,
		MaxTokens:         256,
		Temperature:       0.8,
		PromptTokenBudget: 3000,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Enabled:    false,
		BaseURL:    "http://localhost:8000",
		Collection: "persona_knowledge",
		TopK:       3,
		Timeout:    10 * time.Second,
	}
}

// DefaultDiscordConfig 返回默认投递配置
func DefaultDiscordConfig() DiscordConfig {
	return DiscordConfig{
		Enabled:           false,
		APIBaseURL:        "https://discord.com/api/v10",
		GatewayURL:        "wss://gateway.discord.gg/?v=10&encoding=json",
		MessagesPerSecond: 1,
		Burst:             5,
		SendTimeout:       10 * time.Second,
	}
}

// DefaultHistoryConfig 返回默认会话存储配置
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		StoreType:    "memory",
		RecentLimit:  20,
		CacheEnabled: false,
		CacheTTL:     30 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "pgbot",
		Password:        "",
		Name:            "pgbot",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认文档库配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "pgbot",
		Collection: "conversation_turns",
		Timeout:    10 * time.Second,
	}
}

// DefaultQualityConfig 返回默认分级配置。
// 层级越热：门槛越高、允许的回复越长、评审越严格、冒险度越低。
// 冷场时知识权重占主导，热聊时会话上下文占主导。
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		ClassifierWindow:  20,
		MinSubstantiveLen: 12,
		ColdMaxTurns:      3,
		WarmMaxTurns:      10,
		Cold: TierSettings{
			Threshold:          50,
			ConversationWeight: 0.3,
			KnowledgeWeight:    0.7,
			MaxLength:          180,
			Risk:               0.3,
			Strictness:         0.5,
		},
		Warm: TierSettings{
			Threshold:          60,
			ConversationWeight: 0.5,
			KnowledgeWeight:    0.5,
			MaxLength:          280,
			Risk:               0.5,
			Strictness:         0.65,
		},
		Hot: TierSettings{
			Threshold:          68,
			ConversationWeight: 0.7,
			KnowledgeWeight:    0.3,
			MaxLength:          400,
			Risk:               0.7,
			Strictness:         0.8,
		},
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		NoFallback:   false,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// DefaultDedupConfig 返回默认去重配置
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		Capacity:            50,
		SimilarityThreshold: 0.85,
	}
}

// DefaultOrganicConfig 返回默认调度配置
func DefaultOrganicConfig() OrganicConfig {
	return OrganicConfig{
		Enabled:            true,
		PollInterval:       60 * time.Second,
		Cooldown:           10 * time.Minute,
		SilenceThreshold:   30 * time.Minute,
		RecencyWindow:      30 * time.Second,
		ScanTurns:          10,
		Channels:           nil,
		UseBestFit:         false,
		ChannelParallelism: 4,
		CallTimeout:        30 * time.Second,
	}
}

// DefaultPersonas 返回内置人格表，开箱即可跑通整条流水线
func DefaultPersonas() []types.Persona {
	return []types.Persona{
		{
			ID:               "peter",
			Name:             "peter",
			DisplayName:      "Peter",
			SystemPrompt:     "You are Peter: loud, impulsive, easily distracted, fond of tangents.",
			VoiceMarkers:     []string{"heh", "freakin", "holy crap", "you know what"},
			TriggerWords:     []string{"beer", "tv", "chicken", "football"},
			FallbackLines:    []string{"Heh, I got nothin'.", "Uh... what were we talkin' about?"},
			InitiationWeight: 0.5,
			Multipliers:      types.PersonaMultipliers{MaxLength: 1.0, Risk: 1.2, Strictness: 0.9},
		},
		{
			ID:               "brian",
			Name:             "brian",
			DisplayName:      "Brian",
			SystemPrompt:     "You are Brian: articulate, dry, a touch pretentious, fond of literary asides.",
			VoiceMarkers:     []string{"well", "frankly", "look", "actually"},
			TriggerWords:     []string{"book", "novel", "politics", "wine"},
			FallbackLines:    []string{"I'll have to think about that one."},
			InitiationWeight: 0.3,
			Multipliers:      types.PersonaMultipliers{MaxLength: 1.3, Risk: 0.8, Strictness: 1.1},
		},
		{
			ID:               "stewie",
			Name:             "stewie",
			DisplayName:      "Stewie",
			SystemPrompt:     "You are Stewie: theatrical, scheming, condescending, oddly erudite.",
			VoiceMarkers:     []string{"blast", "what the deuce", "victory", "fool"},
			TriggerWords:     []string{"plan", "science", "world", "machine"},
			FallbackLines:    []string{"Blast. The moment has escaped me."},
			InitiationWeight: 0.2,
			Multipliers:      types.PersonaMultipliers{MaxLength: 0.9, Risk: 1.1, Strictness: 1.0},
		},
	}
}
