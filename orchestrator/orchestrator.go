package orchestrator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/conversation"
	"github.com/DapeSec/Discord-PG-Bot-sub001/dedup"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/metrics"
	"github.com/DapeSec/Discord-PG-Bot-sub001/quality"
	"github.com/DapeSec/Discord-PG-Bot-sub001/retrieval"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

const instrumentationName = "pgbot/orchestrator"

// Config 重试策略。
// 退避只在两种场景生效:后端调用失败之后,以及 no-fallback 模式下
// 超出预算继续尝试时。预算内的质量重试不插入人为延迟。
type Config struct {
	// MaxAttempts is the generation attempt budget per request.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// NoFallback keeps retrying past the budget instead of returning a
	// fallback line. Requires a caller-supplied deadline to terminate.
	NoFallback bool `json:"no_fallback" yaml:"no_fallback"`

	// InitialBackoff is the first retry delay (default: 500ms)
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff caps the retry delay (default: 30s)
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// BackoffMultiplier is the exponential growth factor (default: 2.0)
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`

	// Jitter randomizes each delay within ±25% to avoid thundering herds
	Jitter bool `json:"jitter" yaml:"jitter"`

	// RetrievalLimit is how many knowledge snippets to request (default: 3)
	RetrievalLimit int `json:"retrieval_limit" yaml:"retrieval_limit"`
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		NoFallback:        false,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetrievalLimit:    3,
	}
}

// CalculateBackoff calculates the delay before retry step attempt (0-based)
func (c Config) CalculateBackoff(attempt int) time.Duration {
	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
		if backoff >= c.MaxBackoff {
			backoff = c.MaxBackoff
			break
		}
	}
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	if c.Jitter && backoff > 0 {
		// ±25% 等幅抖动
		span := int64(backoff) / 2
		backoff = backoff - time.Duration(span/2) + time.Duration(rand.Int64N(span))
	}
	return backoff
}

// Request 一次回复请求:频道、人格与作为上下文的近期会话。
type Request struct {
	ChannelID string
	Persona   types.Persona
	// Turns 近期会话,旧到新;同时是分类输入和提示素材
	Turns []types.ConversationTurn
}

// Attempt 单次尝试的完整记录
type Attempt struct {
	Number     int                `json:"number"`
	Candidate  string             `json:"candidate,omitempty"`
	Assessment quality.Assessment `json:"assessment"`
	Accepted   bool               `json:"accepted"`
	Error      string             `json:"error,omitempty"`
}

// Result 一次流水线运行的最终结果与全部尝试轨迹
type Result struct {
	Text         string            `json:"text"`
	Accepted     bool              `json:"accepted"`
	Exhausted    bool              `json:"exhausted"`
	Fallback     bool              `json:"fallback"`
	Tier         conversation.Tier `json:"tier"`
	ContextValue float64           `json:"context_value"`
	Settings     quality.Settings  `json:"settings"`
	Attempts     []Attempt         `json:"attempts"`
}

// Deps 编排器的协作方。Retriever 和 Metrics 可选。
type Deps struct {
	Generator  Generator
	Assessor   *quality.Assessor
	Calculator *quality.Calculator
	Classifier *conversation.Classifier
	Dedup      *dedup.Store
	Retriever  retrieval.Retriever
	Metrics    *metrics.Collector
}

// Orchestrator 驱动单个请求的重试状态机。
// 实例无状态、并发安全;跨请求共享状态都在 Dedup 内部自带锁。
type Orchestrator struct {
	generator  Generator
	assessor   *quality.Assessor
	calculator *quality.Calculator
	classifier *conversation.Classifier
	dedup      *dedup.Store
	retriever  retrieval.Retriever
	collector  *metrics.Collector
	cfg        Config
	tracer     trace.Tracer
	logger     *zap.Logger
}

// New creates an Orchestrator. Deps.Retriever and Deps.Metrics may be nil.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Generator == nil {
		return nil, fmt.Errorf("orchestrator requires a generator")
	}
	if deps.Assessor == nil || deps.Calculator == nil || deps.Classifier == nil || deps.Dedup == nil {
		return nil, fmt.Errorf("orchestrator requires assessor, calculator, classifier and dedup store")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultConfig().BackoffMultiplier
	}
	if cfg.RetrievalLimit <= 0 {
		cfg.RetrievalLimit = DefaultConfig().RetrievalLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		generator:  deps.Generator,
		assessor:   deps.Assessor,
		calculator: deps.Calculator,
		classifier: deps.Classifier,
		dedup:      deps.Dedup,
		retriever:  deps.Retriever,
		collector:  deps.Metrics,
		cfg:        cfg,
		tracer:     otel.Tracer(instrumentationName),
		logger:     logger.With(zap.String("component", "orchestrator")),
	}, nil
}

// MustNew creates an Orchestrator or panics on error.
//
// WARNING: only for application initialization; use New elsewhere.
func MustNew(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	o, err := New(deps, cfg, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create orchestrator: %v", err))
	}
	return o
}

// Run drives one request through the state machine until a candidate is
// accepted or the run exhausts. The context deadline is checked between
// attempts, never mid-attempt.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("persona.id", req.Persona.ID),
			attribute.String("channel.id", req.ChannelID),
		))
	defer span.End()

	tier, contextValue := o.classifier.Classify(req.Turns)
	settings := o.calculator.Settings(tier, contextValue, req.Persona.ID)
	knowledge := o.fetchKnowledge(ctx, req)

	span.SetAttributes(
		attribute.String("tier", string(tier)),
		attribute.Float64("threshold", settings.Threshold),
	)

	logger := o.logger.With(
		zap.String("channel_id", req.ChannelID),
		zap.String("persona_id", req.Persona.ID),
		zap.String("tier", string(tier)),
	)
	logger.Debug("pipeline run started",
		zap.Float64("context_value", contextValue),
		zap.Float64("threshold", settings.Threshold))

	result := &Result{Tier: tier, ContextValue: contextValue, Settings: settings}
	m := newMachine(req.Persona.ID, o.collector, logger)

	var feedback *Feedback
	lastGenFailed := false

	for number := 1; ; number++ {
		if number > 1 {
			if err := o.waitBetweenAttempts(ctx, o.retryDelay(number, lastGenFailed)); err != nil {
				if terr := m.to(StateExhausted); terr != nil {
					return result, terr
				}
				logger.Warn("deadline reached between attempts",
					zap.Int("attempts", len(result.Attempts)))
				return o.finishExhausted(result, req, logger, "deadline reached")
			}
		}

		attempt, err := o.attempt(ctx, m, req, settings, knowledge, feedback, number)
		result.Attempts = append(result.Attempts, attempt)
		if err != nil {
			return result, err
		}

		switch {
		case attempt.Error != "":
			lastGenFailed = true
			logger.Warn("generation attempt failed",
				zap.Int("attempt", number),
				zap.String("error", attempt.Error))
			if o.budgetSpent(number) {
				if terr := m.to(StateExhausted); terr != nil {
					return result, terr
				}
				return o.finishExhausted(result, req, logger, "generation kept failing")
			}

		case attempt.Accepted:
			if terr := m.to(StateAccepted); terr != nil {
				return result, terr
			}
			o.dedup.Record(req.ChannelID, req.Persona.ID, attempt.Candidate)
			result.Text = attempt.Candidate
			result.Accepted = true
			if o.collector != nil {
				o.collector.RecordPipelineOutcome(req.Persona.ID, "accepted", number)
			}
			span.SetAttributes(attribute.Int("attempts", number))
			logger.Info("candidate accepted",
				zap.Int("attempt", number),
				zap.Float64("score", attempt.Assessment.Score))
			return result, nil

		default:
			lastGenFailed = false
			feedback = buildFeedback(attempt.Candidate, attempt.Assessment, settings.MaxLength)
			logger.Debug("candidate rejected",
				zap.Int("attempt", number),
				zap.Float64("score", attempt.Assessment.Score),
				zap.Strings("issues", attempt.Assessment.IssueTags()))
			if o.budgetSpent(number) {
				if terr := m.to(StateExhausted); terr != nil {
					return result, terr
				}
				return o.finishExhausted(result, req, logger, "attempt budget spent")
			}
		}

		if terr := m.to(StateRetry); terr != nil {
			return result, terr
		}
	}
}

// attempt runs one generate+assess cycle inside its own span.
func (o *Orchestrator) attempt(ctx context.Context, m *machine, req Request, settings quality.Settings, knowledge []string, feedback *Feedback, number int) (Attempt, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.attempt",
		trace.WithAttributes(attribute.Int("attempt.number", number)))
	defer span.End()

	if err := m.to(StateGenerating); err != nil {
		return Attempt{Number: number}, err
	}

	candidate, err := o.generator.Generate(ctx, GenerationRequest{
		Persona:   req.Persona,
		Turns:     req.Turns,
		Knowledge: knowledge,
		Settings:  settings,
		Feedback:  feedback,
	})
	if err != nil {
		span.RecordError(err)
		return Attempt{Number: number, Error: err.Error()}, nil
	}

	if err := m.to(StateAssessing); err != nil {
		return Attempt{Number: number, Candidate: candidate}, err
	}

	assessment := o.assess(req, candidate, settings)
	accepted := assessment.Passes(settings.Threshold)
	if o.collector != nil {
		o.collector.RecordAssessment(req.Persona.ID, string(settings.Tier), assessment.Score)
	}
	span.SetAttributes(
		attribute.Float64("assessment.score", assessment.Score),
		attribute.Bool("assessment.accepted", accepted),
	)
	return Attempt{Number: number, Candidate: candidate, Assessment: assessment, Accepted: accepted}, nil
}

// assess consults the dedup window first: a near-duplicate short-circuits
// to a synthetic low-score assessment without running the full check set.
func (o *Orchestrator) assess(req Request, candidate string, settings quality.Settings) quality.Assessment {
	if match, hit := o.dedup.Check(req.ChannelID, req.Persona.ID, candidate); hit {
		if o.collector != nil {
			o.collector.RecordDedupHit(req.Persona.ID)
		}
		return quality.DuplicateAssessment(match.Similarity)
	}
	return o.assessor.Assess(quality.Input{
		Persona:       req.Persona,
		Candidate:     candidate,
		Context:       req.Turns,
		LastSpeakerID: lastSpeakerID(req.Turns),
		Settings:      settings,
	})
}

// fetchKnowledge pulls snippets to blend into the prompt. Failures degrade
// to generation without knowledge; they never fail the run.
func (o *Orchestrator) fetchKnowledge(ctx context.Context, req Request) []string {
	if o.retriever == nil {
		return nil
	}
	query := lastTurnText(req.Turns)
	if query == "" {
		// 冷启动没有上下文可查,用人格的兴趣词种一个查询
		query = strings.Join(req.Persona.TriggerWords, " ")
	}
	snippets, err := o.retriever.Retrieve(ctx, query, o.cfg.RetrievalLimit)
	if err != nil {
		o.logger.Warn("knowledge retrieval failed, generating without it",
			zap.String("persona_id", req.Persona.ID),
			zap.Error(err))
		return nil
	}
	texts := make([]string, 0, len(snippets))
	for _, snippet := range snippets {
		texts = append(texts, snippet.Text)
	}
	return texts
}

// budgetSpent reports whether the attempt budget terminates the run here.
// In no-fallback mode the budget never terminates; only the deadline does.
func (o *Orchestrator) budgetSpent(number int) bool {
	return number >= o.cfg.MaxAttempts && !o.cfg.NoFallback
}

// retryDelay computes the pause before the given attempt number.
func (o *Orchestrator) retryDelay(number int, lastGenFailed bool) time.Duration {
	if lastGenFailed {
		return o.cfg.CalculateBackoff(number - 2)
	}
	if overtime := number - o.cfg.MaxAttempts; overtime > 0 {
		return o.cfg.CalculateBackoff(overtime - 1)
	}
	return 0
}

// waitBetweenAttempts sleeps for delay, aborting early when ctx expires.
// This is the only place the caller's deadline is observed.
func (o *Orchestrator) waitBetweenAttempts(ctx context.Context, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// finishExhausted settles the run per the configured exhaustion policy.
func (o *Orchestrator) finishExhausted(result *Result, req Request, logger *zap.Logger, reason string) (*Result, error) {
	result.Exhausted = true
	if o.collector != nil {
		o.collector.RecordPipelineOutcome(req.Persona.ID, "exhausted", len(result.Attempts))
	}
	if o.cfg.NoFallback {
		logger.Error("reply pipeline exhausted, no fallback configured",
			zap.String("reason", reason),
			zap.Int("attempts", len(result.Attempts)))
		return result, types.NewError(types.ErrExhausted, "no acceptable candidate: "+reason).
			WithPersona(req.Persona.ID)
	}
	result.Text = req.Persona.FallbackLine()
	result.Fallback = true
	logger.Warn("reply pipeline exhausted, using fallback line",
		zap.String("reason", reason),
		zap.Int("attempts", len(result.Attempts)))
	return result, nil
}

func lastSpeakerID(turns []types.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	return turns[len(turns)-1].SpeakerID
}

func lastTurnText(turns []types.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	return strings.TrimSpace(turns[len(turns)-1].Text)
}
