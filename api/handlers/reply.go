package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/DapeSec/Discord-PG-Bot-sub001/api"
	"github.com/DapeSec/Discord-PG-Bot-sub001/history"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/ctxkeys"
	"github.com/DapeSec/Discord-PG-Bot-sub001/orchestrator"
	"github.com/DapeSec/Discord-PG-Bot-sub001/quality"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 回帖管线 Handler
// =============================================================================

// replyTimeout 管线要跑满生成与重评估预算，给足额度
const replyTimeout = 60 * time.Second

// defaultContextLimit 未指定 context_limit 时取用的上下文轮数
const defaultContextLimit = 25

// ReplyRunner 回帖管线入口，由 orchestrator.Orchestrator 实现
type ReplyRunner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// ReplyHandler 回帖管线处理器
type ReplyHandler struct {
	pipeline     ReplyRunner
	store        history.Store
	personas     map[string]types.Persona
	contextLimit int
	logger       *zap.Logger
}

// NewReplyHandler 创建回帖处理器
func NewReplyHandler(pipeline ReplyRunner, store history.Store, personas []types.Persona, contextLimit int, logger *zap.Logger) *ReplyHandler {
	if contextLimit <= 0 {
		contextLimit = defaultContextLimit
	}
	byID := make(map[string]types.Persona, len(personas))
	for _, p := range personas {
		byID[p.ID] = p
	}
	return &ReplyHandler{
		pipeline:     pipeline,
		store:        store,
		personas:     byID,
		contextLimit: contextLimit,
		logger:       logger,
	}
}

// HandleReply 处理回帖管线请求
// @Summary 执行回帖管线
// @Description 为指定频道和人格跑一次完整的生成、评估、重试流程，返回最终文本与逐次尝试轨迹。不向频道发帖。
// @Tags 管线
// @Accept json
// @Produce json
// @Param request body api.ReplyRequest true "回帖请求"
// @Success 200 {object} api.ReplyResponse "管线产出"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "人格未注册"
// @Failure 503 {object} Response "历史存储不可用"
// @Security ApiKeyAuth
// @Router /api/v1/reply [post]
func (h *ReplyHandler) HandleReply(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ReplyRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.validateReplyRequest(&req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	// 后续的错误日志都能带上频道与人格
	ctx := ctxkeys.WithChannelID(r.Context(), req.ChannelID)
	ctx = ctxkeys.WithPersonaID(ctx, req.PersonaID)
	r = r.WithContext(ctx)

	persona, ok := h.personas[req.PersonaID]
	if !ok {
		err := types.NewError(types.ErrPersonaNotFound, "persona not registered").
			WithPersona(req.PersonaID)
		WriteError(w, r, err, h.logger)
		return
	}

	limit := req.ContextLimit
	if limit <= 0 {
		limit = h.contextLimit
	}

	turns, err := h.store.RecentTurns(ctx, req.ChannelID, limit)
	if err != nil && !errors.Is(err, history.ErrNotFound) {
		storeErr := types.NewError(types.ErrStoreUnavailable, "failed to read channel history").
			WithCause(err).
			WithRetryable(true)
		WriteError(w, r, storeErr, h.logger)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	start := time.Now()
	result, err := h.pipeline.Run(runCtx, orchestrator.Request{
		ChannelID: req.ChannelID,
		Persona:   persona,
		Turns:     turns,
	})
	if err != nil {
		handlePipelineError(w, r, err, h.logger)
		return
	}

	h.logger.Info("admin reply",
		zap.String("channel_id", req.ChannelID),
		zap.String("persona_id", req.PersonaID),
		zap.String("tier", string(result.Tier)),
		zap.Bool("accepted", result.Accepted),
		zap.Int("attempts", len(result.Attempts)),
		zap.Duration("duration", time.Since(start)),
	)

	WriteSuccess(w, r, replyResponse(result))
}

func (h *ReplyHandler) validateReplyRequest(req *api.ReplyRequest) *types.Error {
	if req.ChannelID == "" {
		return types.NewError(types.ErrInvalidRequest, "channel_id is required")
	}
	if req.PersonaID == "" {
		return types.NewError(types.ErrInvalidRequest, "persona_id is required")
	}
	if req.ContextLimit < 0 {
		return types.NewError(types.ErrInvalidRequest, "context_limit must be non-negative")
	}
	return nil
}

// =============================================================================
// 🔄 域类型到 API 类型转换
// =============================================================================

func replyResponse(result *orchestrator.Result) *api.ReplyResponse {
	return &api.ReplyResponse{
		Text:         result.Text,
		Accepted:     result.Accepted,
		Exhausted:    result.Exhausted,
		Fallback:     result.Fallback,
		Tier:         string(result.Tier),
		ContextValue: result.ContextValue,
		Settings:     settingsInfo(result.Settings),
		Attempts:     attemptInfos(result.Attempts),
	}
}

func attemptInfos(attempts []orchestrator.Attempt) []api.AttemptInfo {
	out := make([]api.AttemptInfo, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, api.AttemptInfo{
			Number:     a.Number,
			Candidate:  a.Candidate,
			Assessment: assessmentInfo(a.Assessment),
			Accepted:   a.Accepted,
			Error:      a.Error,
		})
	}
	return out
}

func settingsInfo(s quality.Settings) api.SettingsInfo {
	return api.SettingsInfo{
		Tier:               string(s.Tier),
		Threshold:          s.Threshold,
		ConversationWeight: s.ConversationWeight,
		KnowledgeWeight:    s.KnowledgeWeight,
		MaxLength:          s.MaxLength,
		Risk:               s.Risk,
		Strictness:         s.Strictness,
	}
}

func assessmentInfo(a quality.Assessment) api.AssessmentInfo {
	return api.AssessmentInfo{
		Score:     a.Score,
		Issues:    findingInfos(a.Issues),
		Strengths: findingInfos(a.Strengths),
	}
}

func findingInfos(findings []quality.Finding) []api.FindingInfo {
	if len(findings) == 0 {
		return nil
	}
	out := make([]api.FindingInfo, 0, len(findings))
	for _, f := range findings {
		out = append(out, api.FindingInfo{
			Tag:    f.Tag,
			Detail: f.Detail,
			Delta:  f.Delta,
		})
	}
	return out
}

// handlePipelineError 把管线错误翻译成 API 错误响应
func handlePipelineError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	var typedErr *types.Error
	if errors.As(err, &typedErr) {
		WriteError(w, r, typedErr, logger)
		return
	}

	// 未知错误，包装为内部错误
	internalErr := types.NewError(types.ErrInternalError, "pipeline error").
		WithCause(err).
		WithRetryable(false)

	WriteError(w, r, internalErr, logger)
}
