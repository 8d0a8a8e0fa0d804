// Copyright (c) Discord-PG-Bot Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP、生成后端、回复流水线、调度器、缓存与数据库六大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 生成后端指标：请求总数、请求耗时、Token 用量（prompt/completion），
    按 provider/persona 分组。
  - 回复流水线指标：状态机转换计数、单次评分分布、尝试次数分布、
    最终结果（accepted/exhausted）、近重复拒绝与补发计数。
  - 调度器指标：轮询次数、主动发言次数（按触发类型）、跳过原因计数。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram，
    按 database/operation 分组。
*/
package metrics
