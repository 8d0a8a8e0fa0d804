package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/api/handlers"
	"github.com/DapeSec/Discord-PG-Bot-sub001/config"
	"github.com/DapeSec/Discord-PG-Bot-sub001/conversation"
	"github.com/DapeSec/Discord-PG-Bot-sub001/dedup"
	"github.com/DapeSec/Discord-PG-Bot-sub001/history"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/cache"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/database"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/metrics"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/server"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/telemetry"
	"github.com/DapeSec/Discord-PG-Bot-sub001/llm"
	"github.com/DapeSec/Discord-PG-Bot-sub001/llm/openaicompat"
	"github.com/DapeSec/Discord-PG-Bot-sub001/llm/tokenizer"
	"github.com/DapeSec/Discord-PG-Bot-sub001/orchestrator"
	"github.com/DapeSec/Discord-PG-Bot-sub001/organic"
	"github.com/DapeSec/Discord-PG-Bot-sub001/quality"
	"github.com/DapeSec/Discord-PG-Bot-sub001/retrieval"
	"github.com/DapeSec/Discord-PG-Bot-sub001/transport"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Discord-PG-Bot 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// 服务器管理器
	apiManager     *server.Manager
	metricsManager *server.Manager

	// 指标收集器
	collector *metrics.Collector

	// 存储层
	pool         *database.PoolManager
	cacheManager *cache.Manager
	store        history.Store

	// 流水线组件
	provider    llm.Provider
	classifier  *conversation.Classifier
	calculator  *quality.Calculator
	assessor    *quality.Assessor
	pipeline    *orchestrator.Orchestrator
	coordinator *organic.Coordinator
	presence    *transport.Presence

	// Handlers
	healthHandler  *handlers.HealthHandler
	replyHandler   *handlers.ReplyHandler
	assessHandler  *handlers.AssessHandler
	organicHandler *handlers.OrganicHandler

	// 后台 goroutine 生命周期管理
	rateLimiterCancel context.CancelFunc
	organicCancel     context.CancelFunc
	presenceCancel    context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 按依赖顺序组装并启动全部组件:
// 指标 → 存储 → 流水线 → 调度器 → Handlers → HTTP → Metrics
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.collector = metrics.NewCollector("pgbot", s.logger)

	// 2. 初始化存储层
	if err := s.initStores(); err != nil {
		return fmt.Errorf("failed to init stores: %w", err)
	}

	// 3. 初始化回复流水线
	if err := s.initPipeline(); err != nil {
		return fmt.Errorf("failed to init pipeline: %w", err)
	}

	// 4. 初始化投递与有机调度
	if err := s.initOrganic(); err != nil {
		return fmt.Errorf("failed to init organic coordinator: %w", err)
	}

	// 5. 初始化 Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 6. 启动管理面 HTTP 服务器
	if err := s.startAPIServer(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// 7. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("history_store", s.cfg.History.StoreType),
		zap.Int("personas", len(s.cfg.Personas)),
		zap.Bool("organic_enabled", s.cfg.Organic.Enabled),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStores 初始化会话存储与可选的读穿缓存
func (s *Server) initStores() error {
	// SQL 后端先开连接池，其余后端不需要关系库
	if isSQLStore(s.cfg.History.StoreType) {
		pool, err := database.Open(s.cfg.Database, s.collector, s.logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		s.pool = pool
	}

	storeCfg, err := s.storeConfig()
	if err != nil {
		return err
	}

	store, err := history.NewStore(storeCfg, s.logger)
	if err != nil {
		return fmt.Errorf("create history store: %w", err)
	}
	s.store = store

	// Redis 读穿缓存：连不上只降级，不拦启动
	if s.cfg.History.CacheEnabled {
		mgr, err := cache.NewManager(cache.Config{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			DefaultTTL:   s.cfg.History.CacheTTL,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		}, s.logger)
		if err != nil {
			s.logger.Warn("cache unavailable, history reads go straight to the store", zap.Error(err))
		} else {
			s.cacheManager = mgr
			s.store = history.NewCachedStore(store, mgr, s.logger)
		}
	}

	s.logger.Info("History store initialized",
		zap.String("type", s.cfg.History.StoreType),
		zap.Bool("cached", s.cacheManager != nil),
	)
	return nil
}

// initPipeline 组装生成、分级、评审、去重与检索，产出回复流水线
func (s *Server) initPipeline() error {
	s.provider = openaicompat.New(openaicompat.Config{
		ProviderName: s.cfg.LLM.Provider,
		APIKey:       s.cfg.LLM.APIKey,
		BaseURL:      s.cfg.LLM.BaseURL,
		DefaultModel: s.cfg.LLM.Model,
		Timeout:      s.cfg.LLM.Timeout,
	}, s.logger)

	counter := tokenizer.NewCounter(s.cfg.LLM.Model)
	builder := llm.NewPromptBuilder(counter, s.cfg.LLM.PromptTokenBudget)
	generator := orchestrator.NewLLMGenerator(
		s.provider, builder, s.cfg.LLM.Model, s.cfg.LLM.MaxTokens, s.collector, s.logger)

	s.classifier = conversation.NewClassifier(classifierConfig(s.cfg.Quality))
	s.assessor = quality.NewAssessor(s.logger)

	calculator, err := quality.NewCalculator(qualityTable(s.cfg.Quality), s.cfg.Personas)
	if err != nil {
		return fmt.Errorf("build threshold calculator: %w", err)
	}
	s.calculator = calculator

	dedupStore := dedup.NewStore(dedup.Config{
		Capacity:            s.cfg.Dedup.Capacity,
		SimilarityThreshold: s.cfg.Dedup.SimilarityThreshold,
	}, s.logger)

	var retriever retrieval.Retriever
	if s.cfg.Retrieval.Enabled {
		retrCfg := retrieval.HTTPConfig{
			BaseURL:      s.cfg.Retrieval.BaseURL,
			Timeout:      s.cfg.Retrieval.Timeout,
			DefaultLimit: s.cfg.Retrieval.TopK,
		}
		if s.cfg.Retrieval.Collection != "" {
			retrCfg.Endpoint = "/v1/collections/" + s.cfg.Retrieval.Collection + "/search"
		}
		retriever = retrieval.NewHTTPRetriever(retrCfg, s.logger)
	}

	pipeline, err := orchestrator.New(orchestrator.Deps{
		Generator:  generator,
		Assessor:   s.assessor,
		Calculator: s.calculator,
		Classifier: s.classifier,
		Dedup:      dedupStore,
		Retriever:  retriever,
		Metrics:    s.collector,
	}, orchestrator.Config{
		MaxAttempts:       s.cfg.Retry.MaxAttempts,
		NoFallback:        s.cfg.Retry.NoFallback,
		InitialBackoff:    s.cfg.Retry.InitialDelay,
		MaxBackoff:        s.cfg.Retry.MaxDelay,
		BackoffMultiplier: s.cfg.Retry.Multiplier,
		Jitter:            s.cfg.Retry.Jitter,
		RetrievalLimit:    s.cfg.Retrieval.TopK,
	}, s.logger)
	if err != nil {
		return err
	}
	s.pipeline = pipeline

	s.logger.Info("Reply pipeline initialized",
		zap.String("provider", s.cfg.LLM.Provider),
		zap.String("model", s.cfg.LLM.Model),
		zap.Bool("retrieval_enabled", s.cfg.Retrieval.Enabled),
	)
	return nil
}

// initOrganic 初始化消息投递、网关在线会话与有机对话调度器
func (s *Server) initOrganic() error {
	tr, err := transport.NewTransport(s.cfg.Discord, s.logger)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	dispatcher, err := transport.NewDispatcher(tr, s.collector, s.logger)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	// 网关在线会话只在真实投递开启时维持
	if s.cfg.Discord.Enabled && s.cfg.Discord.BotToken != "" {
		presence, err := transport.NewPresence(transport.PresenceConfig{
			GatewayURL: s.cfg.Discord.GatewayURL,
			BotToken:   s.cfg.Discord.BotToken,
		}, s.logger)
		if err != nil {
			s.logger.Warn("gateway presence disabled", zap.Error(err))
		} else {
			s.presence = presence
			pctx, pcancel := context.WithCancel(context.Background())
			s.presenceCancel = pcancel
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := presence.Run(pctx); err != nil {
					s.logger.Error("gateway presence exited", zap.Error(err))
				}
			}()
		}
	}

	var bestFit organic.BestFitFunc
	if s.cfg.Organic.UseBestFit {
		bestFit = bestFitFunc(s.provider, s.cfg.LLM.Model, float32(s.cfg.LLM.Temperature))
	}

	coordinator, err := organic.New(organic.Deps{
		Pipeline:   s.pipeline,
		History:    s.store,
		Dispatcher: dispatcher,
		BestFit:    bestFit,
		Metrics:    s.collector,
	}, s.cfg.Organic, s.cfg.Personas, s.logger)
	if err != nil {
		return err
	}
	s.coordinator = coordinator

	if s.cfg.Organic.Enabled {
		octx, ocancel := context.WithCancel(context.Background())
		s.organicCancel = ocancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := coordinator.Run(octx); err != nil {
				s.logger.Error("organic coordinator exited", zap.Error(err))
			}
		}()
	} else {
		s.logger.Info("organic coordinator disabled, manual trigger only")
	}

	return nil
}

// initHandlers 初始化所有 handlers 并挂接就绪探针
func (s *Server) initHandlers() error {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("history_store", s.store.Ping))
	if s.pool != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("cache", s.cacheManager.Ping))
	}
	if s.presence != nil {
		presence := s.presence
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("discord_gateway", func(ctx context.Context) error {
			if st := presence.State(); st != transport.GatewayStateReady {
				return fmt.Errorf("gateway state %s", st)
			}
			return nil
		}))
	}

	s.replyHandler = handlers.NewReplyHandler(
		s.pipeline, s.store, s.cfg.Personas, s.cfg.History.RecentLimit, s.logger)
	s.assessHandler = handlers.NewAssessHandler(
		s.classifier, s.calculator, s.assessor, s.store, s.cfg.Personas, s.cfg.History.RecentLimit, s.logger)
	s.organicHandler = handlers.NewOrganicHandler(s.coordinator, s.logger)

	s.logger.Info("Handlers initialized")
	return nil
}

// =============================================================================
// 🌐 管理面 HTTP 服务器
// =============================================================================

// startAPIServer 注册路由、构建中间件链并启动管理面服务器
func (s *Server) startAPIServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("POST /api/v1/reply", s.replyHandler.HandleReply)
	mux.HandleFunc("POST /api/v1/assess", s.assessHandler.HandleAssess)
	mux.HandleFunc("POST /api/v1/organic/trigger", s.organicHandler.HandleTrigger)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares,
		CORS(s.cfg.Server.AllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
	if s.cfg.JWT.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger))
	}
	middlewares = append(middlewares,
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger),
	)
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.apiManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.apiManager.Start(); err != nil {
		return err
	}

	s.logger.Info("API server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	server.WaitForSignal(s.logger, s.apiManager, s.metricsManager)
	s.Shutdown()
}

// Shutdown 按启动的逆序优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 1. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 停掉有机调度与网关会话，关库之前不再产生新投递
	if s.organicCancel != nil {
		s.organicCancel()
	}
	if s.presenceCancel != nil {
		s.presenceCancel()
	}

	// 3. 关闭管理面 HTTP 服务器
	if s.apiManager != nil {
		if err := s.apiManager.Shutdown(ctx); err != nil {
			s.logger.Error("API server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 5. 等待后台 goroutine 退出后再关存储
	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("History store close error", zap.Error(err))
		}
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache manager close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool close error", zap.Error(err))
		}
	}

	// 6. 刷平遥测数据
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

// =============================================================================
// 🧩 配置装配
// =============================================================================

// isSQLStore 判断历史存储是否需要关系库连接池
func isSQLStore(storeType string) bool {
	return storeType == "sql" || storeType == "database"
}

// storeConfig 把应用配置映射为 history 包的存储参数
func (s *Server) storeConfig() (history.StoreConfig, error) {
	storeCfg := history.DefaultStoreConfig()

	switch s.cfg.History.StoreType {
	case "", "memory":
		storeCfg.Type = history.StoreTypeMemory
	case "redis":
		storeCfg.Type = history.StoreTypeRedis
		host, port := splitRedisAddr(s.cfg.Redis.Addr)
		storeCfg.Redis.Host = host
		storeCfg.Redis.Port = port
		storeCfg.Redis.Password = s.cfg.Redis.Password
		storeCfg.Redis.DB = s.cfg.Redis.DB
		storeCfg.Redis.PoolSize = s.cfg.Redis.PoolSize
		storeCfg.Redis.MinIdleConns = s.cfg.Redis.MinIdleConns
	case "mongo":
		storeCfg.Type = history.StoreTypeMongo
		storeCfg.Mongo.URI = s.cfg.Mongo.URI
		storeCfg.Mongo.Database = s.cfg.Mongo.Database
		storeCfg.Mongo.Collection = s.cfg.Mongo.Collection
		storeCfg.Mongo.ConnectTimeout = s.cfg.Mongo.Timeout
	case "sql", "database":
		storeCfg.Type = history.StoreTypeSQL
		storeCfg.DB = s.pool.DB()
	default:
		return storeCfg, fmt.Errorf("unknown history store type %q", s.cfg.History.StoreType)
	}

	return storeCfg, nil
}

// splitRedisAddr 把 "host:port" 拆开，解析失败时整串当 host
func splitRedisAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}

// classifierConfig 把应用配置映射为分级器参数
func classifierConfig(cfg config.QualityConfig) conversation.Config {
	return conversation.Config{
		Window:            cfg.ClassifierWindow,
		MinSubstantiveLen: cfg.MinSubstantiveLen,
		ColdMaxTurns:      cfg.ColdMaxTurns,
		WarmMaxTurns:      cfg.WarmMaxTurns,
	}
}

// qualityTable 把三档层级配置映射为门槛计算器的基准表
func qualityTable(cfg config.QualityConfig) map[conversation.Tier]quality.Settings {
	return map[conversation.Tier]quality.Settings{
		conversation.TierCold: tierSettings(conversation.TierCold, cfg.Cold),
		conversation.TierWarm: tierSettings(conversation.TierWarm, cfg.Warm),
		conversation.TierHot:  tierSettings(conversation.TierHot, cfg.Hot),
	}
}

func tierSettings(tier conversation.Tier, ts config.TierSettings) quality.Settings {
	return quality.Settings{
		Tier:               tier,
		Threshold:          ts.Threshold,
		ConversationWeight: ts.ConversationWeight,
		KnowledgeWeight:    ts.KnowledgeWeight,
		MaxLength:          ts.MaxLength,
		Risk:               ts.Risk,
		Strictness:         ts.Strictness,
	}
}

// bestFitFunc 构造后端辅助的人格精选钩子：把近期对话和候选名单交给
// 生成后端挑一个人格 ID。答非所问或出错时返回错误，调度器保留加权随机的结果。
func bestFitFunc(provider llm.Provider, model string, temperature float32) organic.BestFitFunc {
	return func(ctx context.Context, turns []types.ConversationTurn, candidates []types.Persona) (string, error) {
		var sb strings.Builder
		sb.WriteString("Recent conversation:\n")
		for _, t := range turns {
			fmt.Fprintf(&sb, "%s: %s\n", t.SpeakerID, t.Text)
		}
		sb.WriteString("\nCandidates:\n")
		for _, p := range candidates {
			fmt.Fprintf(&sb, "- %s (%s)\n", p.ID, p.DisplayName)
		}
		sb.WriteString("\nAnswer with exactly one candidate id.")

		resp, err := provider.Completion(ctx, &llm.ChatRequest{
			Model: model,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "Pick which persona fits the conversation best. Reply with the persona id only."},
				{Role: llm.RoleUser, Content: sb.String()},
			},
			MaxTokens:   16,
			Temperature: temperature,
		})
		if err != nil {
			return "", err
		}

		answer := strings.ToLower(strings.TrimSpace(resp.FirstContent()))
		for _, p := range candidates {
			if strings.Contains(answer, strings.ToLower(p.ID)) {
				return p.ID, nil
			}
		}
		return "", fmt.Errorf("best-fit answer %q matched no candidate", answer)
	}
}
