package handlers

import (
	"errors"
	"net/http"

	"github.com/DapeSec/Discord-PG-Bot-sub001/api"
	"github.com/DapeSec/Discord-PG-Bot-sub001/conversation"
	"github.com/DapeSec/Discord-PG-Bot-sub001/history"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/ctxkeys"
	"github.com/DapeSec/Discord-PG-Bot-sub001/quality"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🔍 评估试算 Handler
// =============================================================================

// AssessHandler 评估试算处理器，对外部候选文本干跑质量门
type AssessHandler struct {
	classifier   *conversation.Classifier
	calculator   *quality.Calculator
	assessor     *quality.Assessor
	store        history.Store
	personas     map[string]types.Persona
	contextLimit int
	logger       *zap.Logger
}

// NewAssessHandler 创建评估试算处理器
func NewAssessHandler(
	classifier *conversation.Classifier,
	calculator *quality.Calculator,
	assessor *quality.Assessor,
	store history.Store,
	personas []types.Persona,
	contextLimit int,
	logger *zap.Logger,
) *AssessHandler {
	if contextLimit <= 0 {
		contextLimit = defaultContextLimit
	}
	byID := make(map[string]types.Persona, len(personas))
	for _, p := range personas {
		byID[p.ID] = p
	}
	return &AssessHandler{
		classifier:   classifier,
		calculator:   calculator,
		assessor:     assessor,
		store:        store,
		personas:     byID,
		contextLimit: contextLimit,
		logger:       logger,
	}
}

// HandleAssess 处理评估试算请求
// @Summary 评估候选文本
// @Description 对调用方提供的候选文本跑一次质量评估，不生成、不发帖。给出 channel_id 时取该频道近期上下文参与评估。
// @Tags 管线
// @Accept json
// @Produce json
// @Param request body api.AssessRequest true "评估请求"
// @Success 200 {object} api.AssessResponse "评估结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "人格未注册"
// @Failure 503 {object} Response "历史存储不可用"
// @Security ApiKeyAuth
// @Router /api/v1/assess [post]
func (h *AssessHandler) HandleAssess(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.AssessRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.validateAssessRequest(&req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	ctx := ctxkeys.WithPersonaID(r.Context(), req.PersonaID)
	if req.ChannelID != "" {
		ctx = ctxkeys.WithChannelID(ctx, req.ChannelID)
	}
	r = r.WithContext(ctx)

	persona, ok := h.personas[req.PersonaID]
	if !ok {
		err := types.NewError(types.ErrPersonaNotFound, "persona not registered").
			WithPersona(req.PersonaID)
		WriteError(w, r, err, h.logger)
		return
	}

	var turns []types.ConversationTurn
	if req.ChannelID != "" {
		fetched, err := h.store.RecentTurns(ctx, req.ChannelID, h.contextLimit)
		if err != nil && !errors.Is(err, history.ErrNotFound) {
			storeErr := types.NewError(types.ErrStoreUnavailable, "failed to read channel history").
				WithCause(err).
				WithRetryable(true)
			WriteError(w, r, storeErr, h.logger)
			return
		}
		turns = fetched
	}

	tier, contextValue := h.classifier.Classify(turns)
	settings := h.calculator.Settings(tier, contextValue, req.PersonaID)

	lastSpeakerID := req.LastSpeakerID
	if lastSpeakerID == "" && len(turns) > 0 {
		lastSpeakerID = turns[len(turns)-1].SpeakerID
	}

	assessment := h.assessor.Assess(quality.Input{
		Persona:       persona,
		Candidate:     req.Candidate,
		Context:       turns,
		LastSpeakerID: lastSpeakerID,
		Settings:      settings,
	})

	h.logger.Info("admin assess",
		zap.String("persona_id", req.PersonaID),
		zap.String("tier", string(tier)),
		zap.Float64("score", assessment.Score),
		zap.Float64("threshold", settings.Threshold),
		zap.Bool("passed", assessment.Passes(settings.Threshold)),
	)

	WriteSuccess(w, r, &api.AssessResponse{
		Passed:       assessment.Passes(settings.Threshold),
		Tier:         string(tier),
		ContextValue: contextValue,
		Settings:     settingsInfo(settings),
		Assessment:   assessmentInfo(assessment),
	})
}

func (h *AssessHandler) validateAssessRequest(req *api.AssessRequest) *types.Error {
	if req.PersonaID == "" {
		return types.NewError(types.ErrInvalidRequest, "persona_id is required")
	}
	if req.Candidate == "" {
		return types.NewError(types.ErrInvalidRequest, "candidate is required")
	}
	return nil
}
