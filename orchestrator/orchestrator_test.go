package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DapeSec/Discord-PG-Bot-sub001/conversation"
	"github.com/DapeSec/Discord-PG-Bot-sub001/dedup"
	"github.com/DapeSec/Discord-PG-Bot-sub001/quality"
	"github.com/DapeSec/Discord-PG-Bot-sub001/retrieval"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// ===== 🎭 测试替身 =====

type genStep struct {
	text string
	err  error
}

// scriptedGenerator 按脚本逐次返回候选或错误，记录收到的每个请求，
// 并监测是否出现并发调用（尝试必须严格串行）。
type scriptedGenerator struct {
	mu       sync.Mutex
	script   []genStep
	requests []GenerationRequest
	inFlight atomic.Int32
	overlap  atomic.Bool
}

var _ Generator = (*scriptedGenerator)(nil)

func (g *scriptedGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	if g.inFlight.Add(1) > 1 {
		g.overlap.Store(true)
	}
	defer g.inFlight.Add(-1)

	g.mu.Lock()
	defer g.mu.Unlock()
	i := len(g.requests)
	g.requests = append(g.requests, req)
	if i >= len(g.script) {
		i = len(g.script) - 1
	}
	return g.script[i].text, g.script[i].err
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *scriptedGenerator) request(i int) GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[i]
}

// scriptedRetriever 记录查询并返回固定片段或错误。
type scriptedRetriever struct {
	mu       sync.Mutex
	queries  []string
	snippets []retrieval.Snippet
	err      error
}

var _ retrieval.Retriever = (*scriptedRetriever)(nil)

func (r *scriptedRetriever) Retrieve(ctx context.Context, query string, limit int) ([]retrieval.Snippet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	if limit < len(r.snippets) {
		return r.snippets[:limit], nil
	}
	return r.snippets, nil
}

func (r *scriptedRetriever) Name() string { return "scripted" }

// ===== 🧪 公共脚手架 =====

func testPersona() types.Persona {
	return types.Persona{
		ID:           "peter",
		Name:         "peter",
		DisplayName:  "Peter",
		VoiceMarkers: []string{"holy crap"},
		TriggerWords: []string{"chicken", "brewery"},
		FallbackLines: []string{
			"Heh, you know what? I completely lost my train of thought.",
		},
		InitiationWeight: 1.0,
		Multipliers:      types.DefaultMultipliers(),
	}
}

// 干净的短候选：带语癖、带问句，冷热两档门槛都能过
const cleanCandidate = "Holy crap, did you guys see that giant chicken hanging around the brewery?"

// 泄漏机器痕迹的候选：评分被压到 5 以下，任何门槛都过不了
const leakyCandidate = "As an AI language model, I cannot really comment on the chicken."

func newTestOrchestrator(t *testing.T, gen Generator, cfg Config, deps ...func(*Deps)) *Orchestrator {
	t.Helper()

	logger := zaptest.NewLogger(t)
	calc, err := quality.NewCalculator(quality.DefaultTable(), []types.Persona{testPersona()})
	require.NoError(t, err)

	d := Deps{
		Generator:  gen,
		Assessor:   quality.NewAssessor(logger),
		Calculator: calc,
		Classifier: conversation.NewClassifier(conversation.DefaultConfig()),
		Dedup:      dedup.NewStore(dedup.DefaultConfig(), logger),
	}
	for _, apply := range deps {
		apply(&d)
	}

	o, err := New(d, cfg, logger)
	require.NoError(t, err)
	return o
}

func fastConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
		RetrievalLimit:    3,
	}
}

func turnsFrom(speakers ...string) []types.ConversationTurn {
	turns := make([]types.ConversationTurn, 0, len(speakers))
	base := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	for i, speaker := range speakers {
		turns = append(turns, types.ConversationTurn{
			ID:        speaker + "-msg",
			ChannelID: "chan1",
			SpeakerID: speaker,
			Role:      types.RoleHuman,
			Text:      "so what happened at the clam last night",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return turns
}

// ===== ✅ 主流程 =====

func TestRun_AcceptsFirstCleanCandidate(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{script: []genStep{{text: cleanCandidate}}}
	o := newTestOrchestrator(t, gen, fastConfig())

	res, err := o.Run(context.Background(), Request{ChannelID: "chan1", Persona: testPersona()})
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.False(t, res.Exhausted)
	assert.False(t, res.Fallback)
	assert.Equal(t, cleanCandidate, res.Text)
	assert.Equal(t, conversation.TierCold, res.Tier)
	assert.Equal(t, 1, gen.calls())
	require.Len(t, res.Attempts, 1)
	assert.True(t, res.Attempts[0].Accepted)
	assert.GreaterOrEqual(t, res.Attempts[0].Assessment.Score, res.Settings.Threshold)

	// 首轮生成不带反馈
	assert.Nil(t, gen.request(0).Feedback)
	assert.Equal(t, conversation.TierCold, gen.request(0).Settings.Tier)
}

// TestRun_AcceptedReplyEntersDedupWindow 接受的回复立即进入去重窗口，
// 同一 (频道, 人格) 再生成同样的话会被判重。
func TestRun_AcceptedReplyEntersDedupWindow(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{script: []genStep{{text: cleanCandidate}}}
	store := dedup.NewStore(dedup.DefaultConfig(), zaptest.NewLogger(t))
	o := newTestOrchestrator(t, gen, fastConfig(), func(d *Deps) { d.Dedup = store })

	_, err := o.Run(context.Background(), Request{ChannelID: "chan1", Persona: testPersona()})
	require.NoError(t, err)

	_, dup := store.Check("chan1", "peter", cleanCandidate)
	assert.True(t, dup, "接受后必须入窗")
	_, dup = store.Check("chan2", "peter", cleanCandidate)
	assert.False(t, dup, "其他频道不受影响")
}

func TestRun_RetriesWithFeedbackThenAccepts(t *testing.T) {
	t.Parallel()

	// 第一候选超长（~300 字符，无问句），第二候选干净
	longCandidate := "Holy crap " + strings.Repeat("the brewery tour went completely sideways because somebody unleashed every single tap at once ", 3)
	gen := &scriptedGenerator{script: []genStep{{text: longCandidate}, {text: cleanCandidate}}}
	o := newTestOrchestrator(t, gen, fastConfig())

	res, err := o.Run(context.Background(), Request{
		ChannelID: "chan1",
		Persona:   testPersona(),
		Turns:     turnsFrom("brian", "lois"),
	})
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, cleanCandidate, res.Text)
	assert.Equal(t, 2, gen.calls())
	require.Len(t, res.Attempts, 2)
	assert.False(t, res.Attempts[0].Accepted)
	assert.True(t, res.Attempts[0].Assessment.HasIssue(quality.TagOverLength))
	assert.True(t, res.Attempts[1].Accepted)

	// 第二次生成带上一轮的完整复盘：候选原文、低分、针对超长的纠偏指令
	fb := gen.request(1).Feedback
	require.NotNil(t, fb)
	assert.Equal(t, longCandidate, fb.PrevCandidate)
	assert.Less(t, fb.PrevScore, res.Settings.Threshold)
	assert.Contains(t, fb.Issues, quality.TagOverLength)
	assert.Contains(t, fb.Instruction, "Keep the reply under")

	assert.False(t, gen.overlap.Load(), "尝试必须严格串行")
}

func TestRun_ExhaustsIntoFallbackLine(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{script: []genStep{{text: leakyCandidate}}}
	o := newTestOrchestrator(t, gen, fastConfig())

	persona := testPersona()
	res, err := o.Run(context.Background(), Request{ChannelID: "chan1", Persona: persona})
	require.NoError(t, err, "兜底模式下耗尽不是错误")

	assert.True(t, res.Exhausted)
	assert.True(t, res.Fallback)
	assert.False(t, res.Accepted)
	assert.Equal(t, persona.FallbackLines[0], res.Text)
	assert.NotEmpty(t, res.Text)

	// 预算用满后立即停手
	assert.Equal(t, 3, gen.calls())
	require.Len(t, res.Attempts, 3)
	for _, attempt := range res.Attempts {
		assert.False(t, attempt.Accepted)
	}
}

// TestRun_FallbackLineSkipsDedupWindow 兜底台词不是被接受的候选，不入窗；
// 否则固定台词第二次就会被自己判重。
func TestRun_FallbackLineSkipsDedupWindow(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{script: []genStep{{text: leakyCandidate}}}
	store := dedup.NewStore(dedup.DefaultConfig(), zaptest.NewLogger(t))
	o := newTestOrchestrator(t, gen, fastConfig(), func(d *Deps) { d.Dedup = store })

	persona := testPersona()
	res, err := o.Run(context.Background(), Request{ChannelID: "chan1", Persona: persona})
	require.NoError(t, err)
	require.True(t, res.Fallback)

	_, dup := store.Check("chan1", "peter", persona.FallbackLines[0])
	assert.False(t, dup)
}

// ===== 🔁 生成失败与重复 =====

func TestRun_GenerationFailureCountsAgainstBudget(t *testing.T) {
	t.Parallel()

	backendErr := errors.New("provider unavailable")
	gen := &scriptedGenerator{script: []genStep{
		{err: backendErr},
		{text: cleanCandidate},
	}}
	o := newTestOrchestrator(t, gen, fastConfig())

	res, err := o.Run(context.Background(), Request{ChannelID: "chan1", Persona: testPersona()})
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, 2, gen.calls())
	require.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Attempts[0].Error, "provider unavailable")
	assert.Empty(t, res.Attempts[0].Candidate)
	assert.True(t, res.Attempts[1].Accepted)
}

func TestRun_AllGenerationsFailingExhaustsBudget(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{script: []genStep{{err: errors.New("boom")}}}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	o := newTestOrchestrator(t, gen, cfg)

	res, err := o.Run(context.Background(), Request{ChannelID: "chan1", Persona: testPersona()})
	require.NoError(t, err)

	assert.True(t, res.Exhausted)
	assert.True(t, res.Fallback)
	assert.Equal(t, 2, gen.calls())
}

// TestRun_DuplicateShortCircuitsAssessment 与窗口近重复的候选直接判低分，
// 下一轮指令要求换角度。
func TestRun_DuplicateShortCircuitsAssessment(t *testing.T) {
	t.Parallel()

	store := dedup.NewStore(dedup.DefaultConfig(), zaptest.NewLogger(t))
	store.Record("chan1", "peter", cleanCandidate)

	gen := &scriptedGenerator{script: []genStep{
		{text: cleanCandidate},
		{text: "Holy crap, remember when the clam ran out of beer entirely? Wild night, huh?"},
	}}
	o := newTestOrchestrator(t, gen, fastConfig(), func(d *Deps) { d.Dedup = store })

	res, err := o.Run(context.Background(), Request{ChannelID: "chan1", Persona: testPersona()})
	require.NoError(t, err)

	require.Len(t, res.Attempts, 2)
	first := res.Attempts[0]
	assert.False(t, first.Accepted)
	assert.True(t, first.Assessment.HasIssue(quality.TagDuplicate))
	assert.LessOrEqual(t, first.Assessment.Score, 10.0)

	fb := gen.request(1).Feedback
	require.NotNil(t, fb)
	assert.Contains(t, fb.Instruction, "different angle")

	assert.True(t, res.Accepted)
	assert.Equal(t, gen.request(1).Persona.ID, "peter")
}

// ===== ⏱ no-fallback 模式 =====

func TestRun_NoFallbackKeepsRetryingUntilDeadline(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{script: []genStep{{text: leakyCandidate}}}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	cfg.NoFallback = true
	o := newTestOrchestrator(t, gen, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	res, err := o.Run(ctx, Request{ChannelID: "chan1", Persona: testPersona()})
	require.Error(t, err)

	var appErr *types.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrExhausted, appErr.Code)
	assert.Equal(t, "peter", appErr.Persona)

	assert.True(t, res.Exhausted)
	assert.False(t, res.Fallback)
	assert.Empty(t, res.Text)
	// 预算不封顶，超出 MaxAttempts 继续试，直到截止时间生效
	assert.Greater(t, gen.calls(), 2)
}

func TestRun_DeadlineCheckedBetweenAttempts(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{script: []genStep{{text: leakyCandidate}}}
	cfg := fastConfig()
	cfg.NoFallback = true

	o := newTestOrchestrator(t, gen, cfg)

	// 截止时间已过：第一轮照常执行，第二轮开始前检测到超时
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Run(ctx, Request{ChannelID: "chan1", Persona: testPersona()})
	require.Error(t, err)
	assert.Equal(t, 1, gen.calls(), "进行中的尝试不被打断")
	assert.True(t, res.Exhausted)
}

// ===== 📚 知识检索 =====

func TestRun_BlendsRetrievedKnowledge(t *testing.T) {
	t.Parallel()

	ret := &scriptedRetriever{snippets: []retrieval.Snippet{
		{Text: "The brewery opened in 1997.", Source: "wiki"},
		{Text: "The chicken fights started over an expired coupon.", Source: "lore"},
	}}
	gen := &scriptedGenerator{script: []genStep{{text: cleanCandidate}}}
	o := newTestOrchestrator(t, gen, fastConfig(), func(d *Deps) { d.Retriever = ret })

	_, err := o.Run(context.Background(), Request{
		ChannelID: "chan1",
		Persona:   testPersona(),
		Turns:     turnsFrom("brian"),
	})
	require.NoError(t, err)

	req := gen.request(0)
	require.Len(t, req.Knowledge, 2)
	assert.Equal(t, "The brewery opened in 1997.", req.Knowledge[0])

	// 查询取最后一轮原文
	require.Len(t, ret.queries, 1)
	assert.Equal(t, "so what happened at the clam last night", ret.queries[0])
}

// TestRun_EmptyContextSeedsQueryFromPersona 冷启动没有上下文，
// 查询退化为人格兴趣词。
func TestRun_EmptyContextSeedsQueryFromPersona(t *testing.T) {
	t.Parallel()

	ret := &scriptedRetriever{}
	gen := &scriptedGenerator{script: []genStep{{text: cleanCandidate}}}
	o := newTestOrchestrator(t, gen, fastConfig(), func(d *Deps) { d.Retriever = ret })

	_, err := o.Run(context.Background(), Request{ChannelID: "chan1", Persona: testPersona()})
	require.NoError(t, err)

	require.Len(t, ret.queries, 1)
	assert.Equal(t, "chicken brewery", ret.queries[0])
}

func TestRun_RetrievalFailureDegradesToNoKnowledge(t *testing.T) {
	t.Parallel()

	ret := &scriptedRetriever{err: errors.New("retrieval backend down")}
	gen := &scriptedGenerator{script: []genStep{{text: cleanCandidate}}}
	o := newTestOrchestrator(t, gen, fastConfig(), func(d *Deps) { d.Retriever = ret })

	res, err := o.Run(context.Background(), Request{ChannelID: "chan1", Persona: testPersona()})
	require.NoError(t, err, "检索故障不阻断回复")
	assert.True(t, res.Accepted)
	assert.Empty(t, gen.request(0).Knowledge)
}

// ===== 🌡 层级与配置 =====

func TestRun_TierFollowsConversationDepth(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{script: []genStep{{text: cleanCandidate}}}
	o := newTestOrchestrator(t, gen, fastConfig())

	res, err := o.Run(context.Background(), Request{
		ChannelID: "chan1",
		Persona:   testPersona(),
		Turns:     turnsFrom("brian", "lois", "quagmire", "cleveland", "joe"),
	})
	require.NoError(t, err)
	assert.Equal(t, conversation.TierWarm, res.Tier)
	assert.InDelta(t, 60, res.Settings.Threshold, 1e-9)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	calc, err := quality.NewCalculator(quality.DefaultTable(), nil)
	require.NoError(t, err)

	_, err = New(Deps{}, DefaultConfig(), logger)
	require.Error(t, err)

	_, err = New(Deps{Generator: &scriptedGenerator{script: []genStep{{text: "x"}}}}, DefaultConfig(), logger)
	require.Error(t, err, "缺协作方必须在构造期暴露")

	o, err := New(Deps{
		Generator:  &scriptedGenerator{script: []genStep{{text: "x"}}},
		Assessor:   quality.NewAssessor(logger),
		Calculator: calc,
		Classifier: conversation.NewClassifier(conversation.DefaultConfig()),
		Dedup:      dedup.NewStore(dedup.DefaultConfig(), logger),
	}, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxAttempts, o.cfg.MaxAttempts, "零值配置回落到默认")
}

func TestConfig_CalculateBackoff(t *testing.T) {
	t.Parallel()

	cfg := Config{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, cfg.CalculateBackoff(0))
	assert.Equal(t, 200*time.Millisecond, cfg.CalculateBackoff(1))
	assert.Equal(t, 400*time.Millisecond, cfg.CalculateBackoff(2))
	assert.Equal(t, time.Second, cfg.CalculateBackoff(10), "封顶")

	jittered := Config{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	for i := 0; i < 50; i++ {
		d := jittered.CalculateBackoff(1)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.Less(t, d, 250*time.Millisecond)
	}
}
