// =============================================================================
// 📦 PG-Bot 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("PGBOT").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// 配置在进程启动时读取一次，运行期间不再变更。
// =============================================================================
package config

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是机器人的完整配置结构
type Config struct {
	// Server HTTP 管理面配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// LLM 生成后端配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Retrieval 知识检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Discord 消息投递配置
	Discord DiscordConfig `yaml:"discord" env:"DISCORD"`

	// History 会话存储配置
	History HistoryConfig `yaml:"history" env:"HISTORY"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 关系库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo 文档库配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Quality 分级与质量门槛配置
	Quality QualityConfig `yaml:"quality" env:"QUALITY"`

	// Retry 重试编排配置
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Dedup 去重缓存配置
	Dedup DedupConfig `yaml:"dedup" env:"DEDUP"`

	// Organic 主动发言调度配置
	Organic OrganicConfig `yaml:"organic" env:"ORGANIC"`

	// JWT 管理面认证配置
	JWT JWTConfig `yaml:"jwt" env:"JWT"`

	// Personas 人格表（仅 YAML，不支持环境变量覆盖）
	Personas []types.Persona `yaml:"personas" env:"-"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每 IP 限流速率
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 管理面 API Key 列表
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 允许的跨域来源
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// LLMConfig 生成后端配置
type LLMConfig struct {
	// Provider 名称（记录用途，openai 兼容协议）
	Provider string `yaml:"provider" env:"PROVIDER"`
	// 基础 URL（默认指向本地 Ollama）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 单次回复最大 token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 采样温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 提示词 token 预算（历史裁剪用）
	PromptTokenBudget int `yaml:"prompt_token_budget" env:"PROMPT_TOKEN_BUDGET"`
}

// RetrievalConfig 知识检索配置
type RetrievalConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 检索服务基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 每次检索条数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DiscordConfig 消息投递配置
type DiscordConfig struct {
	// 是否启用真实投递（false 时仅记录日志）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Bot Token
	BotToken string `yaml:"bot_token" env:"BOT_TOKEN"`
	// REST API 基础 URL
	APIBaseURL string `yaml:"api_base_url" env:"API_BASE_URL"`
	// 网关 URL
	GatewayURL string `yaml:"gateway_url" env:"GATEWAY_URL"`
	// 发送速率（条/秒）
	MessagesPerSecond float64 `yaml:"messages_per_second" env:"MESSAGES_PER_SECOND"`
	// 发送突发量
	Burst int `yaml:"burst" env:"BURST"`
	// 单次发送超时
	SendTimeout time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT"`
}

// HistoryConfig 会话存储配置
type HistoryConfig struct {
	// 存储类型: memory, redis, mongo, database
	StoreType string `yaml:"store_type" env:"STORE_TYPE"`
	// 默认读取窗口（最近 N 条）
	RecentLimit int `yaml:"recent_limit" env:"RECENT_LIMIT"`
	// 是否启用 Redis 读穿缓存
	CacheEnabled bool `yaml:"cache_enabled" env:"CACHE_ENABLED"`
	// 缓存 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig 文档库配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 操作超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// TierSettings 单个层级的生成与接受参数
type TierSettings struct {
	// 接受门槛（1-100）
	Threshold float64 `yaml:"threshold" env:"THRESHOLD"`
	// 会话上下文权重
	ConversationWeight float64 `yaml:"conversation_weight" env:"CONVERSATION_WEIGHT"`
	// 知识检索权重
	KnowledgeWeight float64 `yaml:"knowledge_weight" env:"KNOWLEDGE_WEIGHT"`
	// 回复最大长度（字符）
	MaxLength int `yaml:"max_length" env:"MAX_LENGTH"`
	// 生成冒险度（0-1）
	Risk float64 `yaml:"risk" env:"RISK"`
	// 评审严格度（0-1）
	Strictness float64 `yaml:"strictness" env:"STRICTNESS"`
}

// QualityConfig 分级与质量门槛配置
type QualityConfig struct {
	// 分类读取的最近轮次窗口
	ClassifierWindow int `yaml:"classifier_window" env:"CLASSIFIER_WINDOW"`
	// 有效发言的最小长度（字符）
	MinSubstantiveLen int `yaml:"min_substantive_len" env:"MIN_SUBSTANTIVE_LEN"`
	// COLD 层级的最大轮次
	ColdMaxTurns int `yaml:"cold_max_turns" env:"COLD_MAX_TURNS"`
	// WARM 层级的最大轮次
	WarmMaxTurns int `yaml:"warm_max_turns" env:"WARM_MAX_TURNS"`
	// 各层级参数表
	Cold TierSettings `yaml:"cold" env:"COLD"`
	Warm TierSettings `yaml:"warm" env:"WARM"`
	Hot  TierSettings `yaml:"hot" env:"HOT"`
}

// RetryConfig 重试编排配置
type RetryConfig struct {
	// 最大尝试次数
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 无兜底模式：耗尽后继续退避重试，依赖调用方 deadline 终止
	NoFallback bool `yaml:"no_fallback" env:"NO_FALLBACK"`
	// 初始退避
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 最大退避
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 退避倍率
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// 是否加抖动
	Jitter bool `yaml:"jitter" env:"JITTER"`
}

// DedupConfig 去重缓存配置
type DedupConfig struct {
	// 每人格窗口容量
	Capacity int `yaml:"capacity" env:"CAPACITY"`
	// 近重复相似度阈值（0-1]
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
}

// OrganicConfig 主动发言调度配置
type OrganicConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// 同一频道两次主动发言的冷却时间
	Cooldown time.Duration `yaml:"cooldown" env:"COOLDOWN"`
	// 触发 fresh-start 的静默阈值
	SilenceThreshold time.Duration `yaml:"silence_threshold" env:"SILENCE_THRESHOLD"`
	// follow-up 触发词的回看窗口
	RecencyWindow time.Duration `yaml:"recency_window" env:"RECENCY_WINDOW"`
	// 触发词扫描的最近轮次数
	ScanTurns int `yaml:"scan_turns" env:"SCAN_TURNS"`
	// 监控的频道列表
	Channels []string `yaml:"channels" env:"CHANNELS"`
	// 是否用后端辅助挑选最合适的人格
	UseBestFit bool `yaml:"use_best_fit" env:"USE_BEST_FIT"`
	// 并行评估的频道数上限
	ChannelParallelism int `yaml:"channel_parallelism" env:"CHANNEL_PARALLELISM"`
	// 单频道外部调用超时
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
}

// JWTConfig 管理面 JWT 认证配置
type JWTConfig struct {
	// 是否启用（默认仅 API Key）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// HMAC 密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// RSA 公钥（PEM）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// 期望的签发者
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 期望的受众
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "PGBOT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	// 验证层级顺序与权重和
	if c.Quality.ColdMaxTurns <= 0 || c.Quality.WarmMaxTurns <= c.Quality.ColdMaxTurns {
		errs = append(errs, "tier cutoffs must satisfy 0 < cold_max_turns < warm_max_turns")
	}
	tiers := []struct {
		name string
		t    TierSettings
	}{
		{"cold", c.Quality.Cold},
		{"warm", c.Quality.Warm},
		{"hot", c.Quality.Hot},
	}
	for _, tier := range tiers {
		sum := tier.t.ConversationWeight + tier.t.KnowledgeWeight
		if math.Abs(sum-1.0) > 1e-6 {
			errs = append(errs, fmt.Sprintf("%s weights must sum to 1.0, got %.6f", tier.name, sum))
		}
		if tier.t.Threshold < 1 || tier.t.Threshold > 100 {
			errs = append(errs, fmt.Sprintf("%s threshold must be in [1,100]", tier.name))
		}
		if tier.t.MaxLength < 1 {
			errs = append(errs, fmt.Sprintf("%s max_length must be positive", tier.name))
		}
	}
	if c.Quality.Cold.Threshold > c.Quality.Warm.Threshold || c.Quality.Warm.Threshold > c.Quality.Hot.Threshold {
		errs = append(errs, "thresholds must be non-decreasing cold→warm→hot")
	}

	// 验证重试配置
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry max_attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, "retry multiplier must be >= 1")
	}

	// 验证去重配置
	if c.Dedup.Capacity < 1 {
		errs = append(errs, "dedup capacity must be positive")
	}
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		errs = append(errs, "dedup similarity_threshold must be in (0,1]")
	}

	// 验证调度配置
	if c.Organic.Enabled {
		if c.Organic.PollInterval <= 0 {
			errs = append(errs, "organic poll_interval must be positive")
		}
		if c.Organic.SilenceThreshold <= 0 {
			errs = append(errs, "organic silence_threshold must be positive")
		}
	}

	// 验证人格表
	seen := make(map[string]struct{}, len(c.Personas))
	for _, p := range c.Personas {
		if p.ID == "" {
			errs = append(errs, "persona id must not be empty")
			continue
		}
		if _, dup := seen[p.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate persona id %q", p.ID))
		}
		seen[p.ID] = struct{}{}
		if p.InitiationWeight < 0 {
			errs = append(errs, fmt.Sprintf("persona %q initiation_weight must be >= 0", p.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PersonaByID 按 id 查找人格
func (c *Config) PersonaByID(id string) (types.Persona, bool) {
	for _, p := range c.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return types.Persona{}, false
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
