package api

// =============================================================================
// 回帖管线类型
// =============================================================================

// ReplyRequest 表示一次完整回帖管线调用。
// @Description 回帖管线请求结构
type ReplyRequest struct {
	// 目标频道 ID
	ChannelID string `json:"channel_id" example:"1326584211001234567" binding:"required"`
	// 发言人格 ID
	PersonaID string `json:"persona_id" example:"psyduck" binding:"required"`
	// 取用的上下文轮数（省略时用服务端默认值）
	ContextLimit int `json:"context_limit,omitempty" example:"25"`
}

// ReplyResponse 表示管线产出的最终回帖与逐次尝试轨迹。
// @Description 回帖管线响应结构
type ReplyResponse struct {
	// 最终回帖文本
	Text string `json:"text"`
	// 是否有候选通过质量门
	Accepted bool `json:"accepted"`
	// 重试预算是否耗尽
	Exhausted bool `json:"exhausted"`
	// 是否落到人格兜底台词
	Fallback bool `json:"fallback"`
	// 会话热度档位（COLD、WARM、HOT）
	Tier string `json:"tier" example:"WARM"`
	// 上下文价值分（0-1）
	ContextValue float64 `json:"context_value" example:"0.62"`
	// 本次生效的质量参数
	Settings SettingsInfo `json:"settings"`
	// 逐次尝试轨迹（含被拒候选）
	Attempts []AttemptInfo `json:"attempts"`
}

// AttemptInfo 表示管线中的单次生成尝试。
// @Description 单次生成尝试结构
type AttemptInfo struct {
	// 尝试序号（从 1 开始）
	Number int `json:"number" example:"1"`
	// 候选文本
	Candidate string `json:"candidate,omitempty"`
	// 质量评估结果
	Assessment AssessmentInfo `json:"assessment"`
	// 该候选是否被接受
	Accepted bool `json:"accepted"`
	// 生成失败时的错误描述
	Error string `json:"error,omitempty"`
}

// SettingsInfo 表示某档位下生效的质量参数。
// @Description 质量参数结构
type SettingsInfo struct {
	// 会话热度档位
	Tier string `json:"tier" example:"WARM"`
	// 通过阈值（1-100）
	Threshold float64 `json:"threshold" example:"62"`
	// 会话贴合度权重
	ConversationWeight float64 `json:"conversation_weight" example:"0.6"`
	// 知识贴合度权重
	KnowledgeWeight float64 `json:"knowledge_weight" example:"0.4"`
	// 回帖长度上限（字符）
	MaxLength int `json:"max_length" example:"280"`
	// 冒险系数（0-1）
	Risk float64 `json:"risk" example:"0.35"`
	// 严格系数（0-1）
	Strictness float64 `json:"strictness" example:"0.55"`
}

// AssessmentInfo 表示一次质量评估的分数与逐项结论。
// @Description 质量评估结构
type AssessmentInfo struct {
	// 综合得分（1-100）
	Score float64 `json:"score" example:"71.5"`
	// 扣分项
	Issues []FindingInfo `json:"issues,omitempty"`
	// 加分项
	Strengths []FindingInfo `json:"strengths,omitempty"`
}

// FindingInfo 表示评估中的单条扣分或加分记录。
// @Description 评估明细结构
type FindingInfo struct {
	// 检查项标签
	Tag string `json:"tag" example:"persona_voice"`
	// 补充说明
	Detail string `json:"detail,omitempty"`
	// 分数增减
	Delta float64 `json:"delta" example:"-8"`
}

// =============================================================================
// 评估试算类型
// =============================================================================

// AssessRequest 表示对给定候选文本的干跑评估。
// @Description 评估试算请求结构
type AssessRequest struct {
	// 发言人格 ID
	PersonaID string `json:"persona_id" example:"psyduck" binding:"required"`
	// 待评估候选文本
	Candidate string `json:"candidate" binding:"required"`
	// 可选：取该频道近期上下文参与评估
	ChannelID string `json:"channel_id,omitempty" example:"1326584211001234567"`
	// 可选：上一位发言者 ID（省略时从上下文推导）
	LastSpeakerID string `json:"last_speaker_id,omitempty" example:"user-42"`
}

// AssessResponse 表示干跑评估的结果。
// @Description 评估试算响应结构
type AssessResponse struct {
	// 候选是否达到通过阈值
	Passed bool `json:"passed"`
	// 会话热度档位
	Tier string `json:"tier" example:"COLD"`
	// 上下文价值分（0-1）
	ContextValue float64 `json:"context_value" example:"0.18"`
	// 本次生效的质量参数
	Settings SettingsInfo `json:"settings"`
	// 质量评估结果
	Assessment AssessmentInfo `json:"assessment"`
}

// =============================================================================
// 自发调度类型
// =============================================================================

// OrganicTriggerRequest 表示对单个频道的一次自发评估。
// @Description 自发调度触发请求结构
type OrganicTriggerRequest struct {
	// 目标频道 ID
	ChannelID string `json:"channel_id" example:"1326584211001234567" binding:"required"`
	// 为 true 时跳过冷却与触发条件判定
	Force bool `json:"force,omitempty"`
}

// OrganicTriggerResponse 表示自发评估的结果。
// @Description 自发调度触发响应结构
type OrganicTriggerResponse struct {
	// 是否实际发帖（冷却中或无触发条件时为 false）
	Triggered bool `json:"triggered"`
	// 发帖时的管线产出
	Reply *ReplyResponse `json:"reply,omitempty"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorDetail 表示错误详细信息。
// @Description 错误详细结构
type ErrorDetail struct {
	// 错误代码
	Code string `json:"code" example:"PERSONA_NOT_FOUND"`
	// 人类可读的错误消息
	Message string `json:"message" example:"persona not registered"`
	// HTTP 状态码
	HTTPStatus int `json:"http_status,omitempty" example:"404"`
	// 请求是否可以重试
	Retryable bool `json:"retryable,omitempty" example:"false"`
	// 出错时涉及的人格 ID
	Persona string `json:"persona,omitempty" example:"psyduck"`
}
