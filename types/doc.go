// Copyright (c) Discord-PG-Bot Authors.
// Licensed under the MIT License.

/*
Package types 提供机器人各模块共享的基础类型定义。

# 概述

types 是仓库最底层的公共包，不依赖任何内部包，为 conversation、quality、
orchestrator、organic、history、transport 等上层模块提供统一的类型契约。
所有跨包共享的结构体、枚举和错误码均定义于此，以避免循环依赖。

# 核心类型

  - ConversationTurn  — 一条对话记录（频道、发言者、角色、文本、时间戳）
  - Role              — 发言者角色（human / persona）
  - Persona           — 已配置的会话人格（语气标记、触发词、兜底台词、倍率）
  - Error / ErrorCode — 结构化错误体系，含 Retryable 与 HTTP 状态码标记

# 主要能力

  - 错误检查：IsRetryable / GetErrorCode
  - 轮次构造：NewHumanTurn / NewPersonaTurn 及 Persona.FallbackLine 兜底
*/
package types
