package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/DapeSec/Discord-PG-Bot-sub001/api"
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/ctxkeys"
	"github.com/DapeSec/Discord-PG-Bot-sub001/orchestrator"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🌱 自发调度 Handler
// =============================================================================

// OrganicTrigger 单频道自发评估入口，由 organic.Coordinator 实现
type OrganicTrigger interface {
	TriggerChannel(ctx context.Context, channelID string, force bool) (*orchestrator.Result, error)
}

// OrganicHandler 自发调度处理器
type OrganicHandler struct {
	coordinator OrganicTrigger
	logger      *zap.Logger
}

// NewOrganicHandler 创建自发调度处理器
func NewOrganicHandler(coordinator OrganicTrigger, logger *zap.Logger) *OrganicHandler {
	return &OrganicHandler{
		coordinator: coordinator,
		logger:      logger,
	}
}

// HandleTrigger 处理自发调度触发请求
// @Summary 触发一次自发评估
// @Description 对指定频道立即跑一轮自发评估。force 为 true 时跳过冷却与触发条件，直接进管线并发帖。
// @Tags 调度
// @Accept json
// @Produce json
// @Param request body api.OrganicTriggerRequest true "触发请求"
// @Success 200 {object} api.OrganicTriggerResponse "评估结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 500 {object} Response "调度周期失败"
// @Security ApiKeyAuth
// @Router /api/v1/organic/trigger [post]
func (h *OrganicHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.OrganicTriggerRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.ChannelID == "" {
		err := types.NewError(types.ErrInvalidRequest, "channel_id is required")
		WriteError(w, r, err, h.logger)
		return
	}

	ctx := ctxkeys.WithChannelID(r.Context(), req.ChannelID)
	r = r.WithContext(ctx)

	start := time.Now()
	result, err := h.coordinator.TriggerChannel(ctx, req.ChannelID, req.Force)
	if err != nil {
		handlePipelineError(w, r, err, h.logger)
		return
	}

	// 冷却中或无触发条件时协调器静默跳过
	if result == nil {
		h.logger.Info("organic trigger skipped",
			zap.String("channel_id", req.ChannelID),
			zap.Bool("force", req.Force),
		)
		WriteSuccess(w, r, &api.OrganicTriggerResponse{Triggered: false})
		return
	}

	h.logger.Info("organic trigger dispatched",
		zap.String("channel_id", req.ChannelID),
		zap.Bool("force", req.Force),
		zap.String("tier", string(result.Tier)),
		zap.Int("attempts", len(result.Attempts)),
		zap.Duration("duration", time.Since(start)),
	)

	WriteSuccess(w, r, &api.OrganicTriggerResponse{
		Triggered: true,
		Reply:     replyResponse(result),
	})
}
