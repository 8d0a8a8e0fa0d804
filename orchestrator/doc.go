// Copyright (c) Discord-PG-Bot Authors.
// Licensed under the MIT License.

/*
包 orchestrator 驱动"生成 → 评审 → 重试"的回复流水线，是 API 层
和 organic 调度器共用的唯一入口。

# 概述

每个请求独占一台状态机：

	INIT → GENERATING → ASSESSING → {ACCEPTED | RETRY | EXHAUSTED}

被拒候选连同评分、问题标签和一条纠偏指令（Feedback）回注到下一次
生成提示；生成后端调用失败同样消耗尝试预算。尝试严格串行，调用方
的截止时间只在两次尝试之间检查，从不打断进行中的尝试。

# 核心类型

  - Orchestrator：流水线编排器，组合分类、阈值、生成、评审、去重。
  - Generator：候选生成接口；LLMGenerator 基于聊天补全后端实现，
    将 Settings.Risk 折算为采样温度。
  - Feedback：上一轮被拒候选的复盘，按固定优先级只挑一条纠偏指令。
  - Result / Attempt：最终结果与全部尝试轨迹，供 API 返回与排障。

# 耗尽策略

预算用满后默认返回人格的固定兜底台词（不入去重窗口）；开启
no-fallback 后预算不封顶，改用带上限的指数退避持续重试，
只有截止时间能终止，此时返回 EXHAUSTED 错误而非任何文本。
*/
package orchestrator
