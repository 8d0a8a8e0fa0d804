// Package organic 在没人@机器人的时候决定谁该主动开口。
//
// 一条常驻轮询协程按固定间隔扫描受监控频道：冷场够久就 fresh-start
// 重开话题，近期消息踩中人格触发词就 follow-up 接话。选中的人格走
// 与 API 请求完全相同的回复流水线。
package organic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DapeSec/Discord-PG-Bot-sub001/config"
	"github.com/DapeSec/Discord-PG-Bot-sub001/history"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/metrics"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/textutil"
	"github.com/DapeSec/Discord-PG-Bot-sub001/orchestrator"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// 触发类型
const (
	TriggerFreshStart = "fresh_start"
	TriggerFollowUp   = "follow_up"
	TriggerForced     = "forced"
)

// Pipeline 回复流水线入口，由 orchestrator.Orchestrator 实现。
type Pipeline interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Dispatcher 把最终文本投递到频道，由 transport 层实现。
type Dispatcher interface {
	Dispatch(ctx context.Context, channelID, text string) error
}

// Deps 协调器的协作方。BestFit 与 Metrics 可选。
type Deps struct {
	Pipeline   Pipeline
	History    history.Store
	Dispatcher Dispatcher
	BestFit    BestFitFunc
	Metrics    *metrics.Collector
}

// Coordinator 有机对话协调器。
type Coordinator struct {
	cfg       config.OrganicConfig
	personas  []types.Persona
	pipeline  Pipeline
	history   history.Store
	dispatch  Dispatcher
	bestFit   BestFitFunc
	selector  *Selector
	states    *stateStore
	collector *metrics.Collector
	logger    *zap.Logger

	// clock 可在测试里替换
	clock func() time.Time
}

// New creates a Coordinator over the configured channels and personas.
func New(deps Deps, cfg config.OrganicConfig, personas []types.Persona, logger *zap.Logger) (*Coordinator, error) {
	if deps.Pipeline == nil || deps.History == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("organic coordinator requires pipeline, history store and dispatcher")
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("organic coordinator requires at least one persona")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultOrganicConfig().PollInterval
	}
	if cfg.ScanTurns <= 0 {
		cfg.ScanTurns = config.DefaultOrganicConfig().ScanTurns
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = config.DefaultOrganicConfig().CallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:       cfg,
		personas:  personas,
		pipeline:  deps.Pipeline,
		history:   deps.History,
		dispatch:  deps.Dispatcher,
		bestFit:   deps.BestFit,
		selector:  NewSelector(),
		states:    newStateStore(),
		collector: deps.Metrics,
		logger:    logger.With(zap.String("component", "organic")),
		clock:     time.Now,
	}, nil
}

// Run 阻塞运行轮询循环，直到 ctx 取消。
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.logger.Info("organic coordinator disabled")
		return nil
	}
	c.logger.Info("organic coordinator started",
		zap.Duration("poll_interval", c.cfg.PollInterval),
		zap.Duration("cooldown", c.cfg.Cooldown),
		zap.Duration("silence_threshold", c.cfg.SilenceThreshold),
		zap.Int("channels", len(c.cfg.Channels)),
		zap.Int("personas", len(c.personas)))

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("organic coordinator stopped")
			return nil
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick 并发评估全部受监控频道。单频道失败只记日志和指标，
// 绝不影响同一轮里的其他频道。
func (c *Coordinator) Tick(ctx context.Context) {
	if c.collector != nil {
		c.collector.RecordOrganicTick()
	}
	var g errgroup.Group
	g.SetLimit(c.parallelism())
	for _, channelID := range c.cfg.Channels {
		g.Go(func() error {
			if _, err := c.evaluateChannel(ctx, channelID, false); err != nil {
				c.logger.Error("organic cycle failed",
					zap.String("channel_id", channelID),
					zap.Error(err))
				c.skip("error")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// TriggerChannel 立即评估一个频道，供管理接口调用。
// force 跳过冷却检查；无触发条件时 force 按 forced 类型强制开口。
func (c *Coordinator) TriggerChannel(ctx context.Context, channelID string, force bool) (*orchestrator.Result, error) {
	return c.evaluateChannel(ctx, channelID, force)
}

// State 返回频道调度状态快照。
func (c *Coordinator) State(channelID string) (ChannelState, bool) {
	return c.states.snapshot(channelID)
}

// evaluateChannel 评估单个频道并在触发时发言。
// 返回 (nil, nil) 表示本轮按规则跳过。
func (c *Coordinator) evaluateChannel(ctx context.Context, channelID string, force bool) (*orchestrator.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	st := c.states.get(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()

	logger := c.logger.With(zap.String("channel_id", channelID))
	now := c.clock()

	if !force && !st.lastOrganic.IsZero() && now.Sub(st.lastOrganic) < c.cfg.Cooldown {
		logger.Debug("organic skip: cooldown",
			zap.Duration("remaining", c.cfg.Cooldown-now.Sub(st.lastOrganic)))
		c.skip("cooldown")
		return nil, nil
	}

	turns, err := c.history.RecentTurns(ctx, channelID, c.cfg.ScanTurns)
	if err != nil && !errors.Is(err, history.ErrNotFound) {
		return nil, types.NewError(types.ErrCoordinatorCycle, "failed to read channel history").
			WithCause(err)
	}

	trigger, candidates := c.decide(now, turns)
	if trigger == "" {
		if !force {
			c.skip("no_trigger")
			return nil, nil
		}
		trigger, candidates = TriggerForced, c.personas
	}

	persona, ok := c.pickPersona(ctx, turns, candidates)
	if !ok {
		c.skip("no_candidate")
		return nil, nil
	}
	logger.Info("organic trigger fired",
		zap.String("trigger", trigger),
		zap.String("persona_id", persona.ID),
		zap.Int("context_turns", len(turns)))

	result, err := c.pipeline.Run(ctx, orchestrator.Request{
		ChannelID: channelID,
		Persona:   persona,
		Turns:     turns,
	})
	if err != nil {
		// 状态不动，下一轮重试
		return nil, types.NewError(types.ErrCoordinatorCycle, "reply pipeline failed").
			WithCause(err).
			WithPersona(persona.ID)
	}

	if err := c.dispatch.Dispatch(ctx, channelID, result.Text); err != nil {
		return nil, types.NewError(types.ErrCoordinatorCycle, "dispatch failed").
			WithCause(err).
			WithPersona(persona.ID)
	}

	// 自己的发言也入历史，后续分类和静默计算才看得见它
	if err := c.history.AppendTurn(ctx, types.NewTurn(channelID, persona.ID, types.RolePersona, result.Text)); err != nil {
		logger.Warn("failed to append organic reply to history", zap.Error(err))
	}

	st.lastOrganic = now
	if trigger == TriggerFollowUp {
		st.lastFollowup = now
	}
	if c.collector != nil {
		c.collector.RecordOrganicDispatch(persona.ID, trigger)
	}
	logger.Info("organic reply dispatched",
		zap.String("persona_id", persona.ID),
		zap.String("trigger", trigger),
		zap.Bool("fallback", result.Fallback),
		zap.Int("attempts", len(result.Attempts)))
	return result, nil
}

// decide 判定触发类型并给出候选人格。
// 冷场达到阈值（或频道还没有任何记录）走 fresh-start；
// 否则在回看窗口内扫描触发词，命中即 follow-up。
func (c *Coordinator) decide(now time.Time, turns []types.ConversationTurn) (string, []types.Persona) {
	if len(turns) == 0 || now.Sub(turns[len(turns)-1].Timestamp) >= c.cfg.SilenceThreshold {
		return TriggerFreshStart, c.personas
	}

	cutoff := now.Add(-c.cfg.RecencyWindow)
	lastSpeaker := turns[len(turns)-1].SpeakerID
	var candidates []types.Persona
	for _, p := range c.personas {
		if strings.EqualFold(p.ID, lastSpeaker) {
			// 不接自己的话茬
			continue
		}
		if personaTriggered(p, turns, cutoff) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) > 0 {
		return TriggerFollowUp, candidates
	}
	return "", nil
}

// pickPersona 加权随机选人，可选地让后端精选覆盖结果。
func (c *Coordinator) pickPersona(ctx context.Context, turns []types.ConversationTurn, candidates []types.Persona) (types.Persona, bool) {
	persona, ok := c.selector.Pick(candidates)
	if !ok {
		return types.Persona{}, false
	}
	if !c.cfg.UseBestFit || c.bestFit == nil || len(candidates) < 2 {
		return persona, true
	}
	id, err := c.bestFit(ctx, turns, candidates)
	if err != nil {
		c.logger.Warn("best-fit refinement failed, keeping weighted pick", zap.Error(err))
		return persona, true
	}
	for _, p := range candidates {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	c.logger.Warn("best-fit returned unknown persona, keeping weighted pick",
		zap.String("persona_id", id))
	return persona, true
}

func (c *Coordinator) parallelism() int {
	if c.cfg.ChannelParallelism > 0 {
		return c.cfg.ChannelParallelism
	}
	return 1
}

func (c *Coordinator) skip(reason string) {
	if c.collector != nil {
		c.collector.RecordOrganicSkip(reason)
	}
}

// personaTriggered 在回看窗口内的轮次里找人格触发词。
// turns 旧到新，从最新往回扫，出窗即停。
func personaTriggered(p types.Persona, turns []types.ConversationTurn, cutoff time.Time) bool {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Timestamp.Before(cutoff) {
			return false
		}
		if containsTriggerWord(turns[i].Text, p.TriggerWords) {
			return true
		}
	}
	return false
}

// containsTriggerWord 单词触发按词元整词匹配，短语触发按归一化子串匹配。
func containsTriggerWord(text string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	normalized := textutil.Normalize(text)
	if normalized == "" {
		return false
	}
	tokens := textutil.TokenSet(text)
	for _, w := range words {
		nw := textutil.Normalize(w)
		if nw == "" {
			continue
		}
		if strings.Contains(nw, " ") {
			if strings.Contains(normalized, nw) {
				return true
			}
			continue
		}
		if _, ok := tokens[nw]; ok {
			return true
		}
	}
	return false
}
