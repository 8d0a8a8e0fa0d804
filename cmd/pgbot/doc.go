// Copyright (c) Discord-PG-Bot Authors.
// Licensed under the MIT License.

/*
Package main 提供 Discord-PG-Bot 服务端程序入口。

# 概述

cmd/pgbot 是多人格对话机器人的可执行入口，提供管理面 HTTP API、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及 OpenTelemetry 链路追踪。

# 核心类型

  - Server           — 主服务器，组装存储、流水线、调度器并管理双端口与优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing（可选）、CORS、RateLimiter（基于 IP）、
    JWTAuth（可选）、APIKeyAuth（X-API-Key）
  - 装配顺序：指标 → 存储（含可选 Redis 读穿缓存）→ 流水线 → 调度器 → HTTP
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 停调度器与网关 → 关 HTTP → 关存储 → 刷遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
