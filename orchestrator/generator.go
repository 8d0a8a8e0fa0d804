package orchestrator

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/metrics"
	"github.com/DapeSec/Discord-PG-Bot-sub001/llm"
	"github.com/DapeSec/Discord-PG-Bot-sub001/quality"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// GenerationRequest 一次候选生成所需的全部素材
type GenerationRequest struct {
	Persona   types.Persona
	Turns     []types.ConversationTurn
	Knowledge []string
	Settings  quality.Settings
	Feedback  *Feedback
}

// Generator produces one candidate reply. Implementations must be safe for
// concurrent use; the orchestrator calls sequentially within one request but
// many requests run at once.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// LLMGenerator 用聊天补全后端实现 Generator:
// 按权重组装预算内提示,调用 Provider,并记录用量指标。
type LLMGenerator struct {
	provider  llm.Provider
	builder   *llm.PromptBuilder
	model     string
	maxTokens int
	collector *metrics.Collector
	logger    *zap.Logger
}

var _ Generator = (*LLMGenerator)(nil)

// NewLLMGenerator creates a Generator backed by a chat-completion provider.
// collector may be nil.
func NewLLMGenerator(provider llm.Provider, builder *llm.PromptBuilder, model string, maxTokens int, collector *metrics.Collector, logger *zap.Logger) *LLMGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMGenerator{
		provider:  provider,
		builder:   builder,
		model:     model,
		maxTokens: maxTokens,
		collector: collector,
		logger:    logger.With(zap.String("component", "generator")),
	}
}

// Generate builds the prompt and runs one completion call.
func (g *LLMGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	messages := g.builder.Build(llm.PromptInput{
		Persona:            req.Persona,
		Turns:              req.Turns,
		Knowledge:          req.Knowledge,
		ConversationWeight: req.Settings.ConversationWeight,
		KnowledgeWeight:    req.Settings.KnowledgeWeight,
		MaxLengthRunes:     req.Settings.MaxLength,
		Feedback:           req.Feedback.Render(),
	})

	start := time.Now()
	resp, err := g.provider.Completion(ctx, &llm.ChatRequest{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: g.maxTokens,
		// 冒险度直接映射采样温度:层级越热、人格越敢说,温度越高
		Temperature: float32(0.4 + 0.8*req.Settings.Risk),
	})
	if err != nil {
		g.record("failure", req.Persona.ID, time.Since(start), nil)
		return "", types.NewError(types.ErrGenerationFailure, "completion call failed").
			WithCause(err).
			WithRetryable(llm.IsRetryable(err)).
			WithPersona(req.Persona.ID)
	}

	g.record("success", req.Persona.ID, time.Since(start), resp)
	return strings.TrimSpace(resp.FirstContent()), nil
}

func (g *LLMGenerator) record(status, personaID string, elapsed time.Duration, resp *llm.ChatResponse) {
	if g.collector == nil {
		return
	}
	var promptTokens, completionTokens int
	if resp != nil {
		promptTokens = resp.Usage.PromptTokens
		completionTokens = resp.Usage.CompletionTokens
	}
	g.collector.RecordGeneration(g.provider.Name(), personaID, status, elapsed, promptTokens, completionTokens)
}
