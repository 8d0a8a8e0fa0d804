package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DapeSec/Discord-PG-Bot-sub001/llm"
	"github.com/DapeSec/Discord-PG-Bot-sub001/quality"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

type fakeProvider struct {
	mu   sync.Mutex
	reqs []*llm.ChatRequest
	resp *llm.ChatResponse
	err  error
}

var _ llm.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

func (p *fakeProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *fakeProvider) Name() string { return "fake" }

func chatReply(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model: "test-model",
		Choices: []llm.ChatChoice{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: text}},
		},
		Usage: llm.ChatUsage{PromptTokens: 120, CompletionTokens: 24},
	}
}

func TestLLMGenerator_ThreadsSettingsIntoRequest(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{resp: chatReply("  Holy crap, what a night.  \n")}
	gen := NewLLMGenerator(provider, llm.NewPromptBuilder(nil, 0), "test-model", 256, nil, zaptest.NewLogger(t))

	settings := quality.Settings{
		Threshold:          50,
		ConversationWeight: 0.5,
		KnowledgeWeight:    0.5,
		MaxLength:          180,
		Risk:               0.3,
		Strictness:         0.5,
	}
	out, err := gen.Generate(context.Background(), GenerationRequest{
		Persona:  testPersona(),
		Turns:    turnsFrom("brian"),
		Settings: settings,
	})
	require.NoError(t, err)
	assert.Equal(t, "Holy crap, what a night.", out, "首尾空白必须裁掉")

	require.Len(t, provider.reqs, 1)
	req := provider.reqs[0]
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, 256, req.MaxTokens)
	// risk 0.3 → 温度 0.4 + 0.8*0.3
	assert.InDelta(t, 0.64, float64(req.Temperature), 1e-6)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, llm.RoleUser, req.Messages[1].Role)
}

// TestLLMGenerator_FeedbackLandsInPrompt 重试反馈渲染进提示，
// 首轮（无反馈）则完全不出现纠偏段落。
func TestLLMGenerator_FeedbackLandsInPrompt(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{resp: chatReply("ok")}
	gen := NewLLMGenerator(provider, llm.NewPromptBuilder(nil, 0), "test-model", 256, nil, zaptest.NewLogger(t))

	_, err := gen.Generate(context.Background(), GenerationRequest{Persona: testPersona()})
	require.NoError(t, err)

	fb := &Feedback{
		PrevCandidate: "way too long",
		PrevScore:     22,
		Issues:        []string{quality.TagOverLength},
		Instruction:   "Keep the reply under 180 characters.",
	}
	_, err = gen.Generate(context.Background(), GenerationRequest{Persona: testPersona(), Feedback: fb})
	require.NoError(t, err)

	require.Len(t, provider.reqs, 2)
	first := provider.reqs[0].Messages[0].Content + provider.reqs[0].Messages[1].Content
	second := provider.reqs[1].Messages[0].Content + provider.reqs[1].Messages[1].Content
	assert.NotContains(t, first, "Fix this:")
	assert.Contains(t, second, "Fix this: Keep the reply under 180 characters.")
	assert.Contains(t, second, "way too long")
}

func TestLLMGenerator_WrapsProviderError(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: &llm.Error{
		Code:      llm.ErrModelOverloaded,
		Message:   "model overloaded",
		Retryable: true,
	}}
	gen := NewLLMGenerator(provider, llm.NewPromptBuilder(nil, 0), "test-model", 256, nil, zaptest.NewLogger(t))

	out, err := gen.Generate(context.Background(), GenerationRequest{Persona: testPersona()})
	require.Error(t, err)
	assert.Empty(t, out)

	var appErr *types.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrGenerationFailure, appErr.Code)
	assert.Equal(t, "peter", appErr.Persona)
	assert.True(t, appErr.Retryable, "上游标记可重试要透传")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestLLMGenerator_NonRetryableErrorStaysNonRetryable(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: &llm.Error{
		Code:      llm.ErrContentFiltered,
		Message:   "blocked by safety filter",
		Retryable: false,
	}}
	gen := NewLLMGenerator(provider, llm.NewPromptBuilder(nil, 0), "test-model", 256, nil, zaptest.NewLogger(t))

	_, err := gen.Generate(context.Background(), GenerationRequest{Persona: testPersona()})
	require.Error(t, err)

	var appErr *types.Error
	require.True(t, errors.As(err, &appErr))
	assert.False(t, appErr.Retryable)
}

// TestLLMGenerator_EmptyChoices 空响应当成空候选返回，由评审去打 1 分。
func TestLLMGenerator_EmptyChoices(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{resp: &llm.ChatResponse{Model: "test-model"}}
	gen := NewLLMGenerator(provider, llm.NewPromptBuilder(nil, 0), "test-model", 256, nil, zaptest.NewLogger(t))

	out, err := gen.Generate(context.Background(), GenerationRequest{Persona: testPersona()})
	require.NoError(t, err)
	assert.Equal(t, "", out)
}
