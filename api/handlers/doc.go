// Copyright (c) Discord-PG-Bot Authors.
// Licensed under the MIT License.

/*
Package handlers 提供管理面 HTTP API 的请求处理器实现。

# 概述

handlers 包实现了管理面所有 HTTP 端点的请求处理逻辑，
包括回帖管线调用、评估试算、自发调度触发、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - ReplyHandler     — 回帖管线处理器，返回最终文本与逐次尝试轨迹
  - AssessHandler    — 评估试算处理器，对外部候选文本干跑质量门
  - OrganicHandler   — 自发调度处理器，对单个频道强制跑一轮评估
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready, /version）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔就绪检查接口（历史存储、连接池、网关会话）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 请求 ID 透传：响应体回带中间件注入的 request_id
  - 域错误透传：管线返回的结构化错误原样映射到响应
  - 可扩展就绪检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
