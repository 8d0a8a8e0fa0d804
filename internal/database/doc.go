// Copyright (c) Discord-PG-Bot Authors.
// Licensed under the MIT License.

/*
包 database 提供会话存储的连接建立与基于 GORM 的连接池管理。

# 概述

Open 按 DatabaseConfig 选择方言（postgres / mysql / sqlite）建立 GORM
连接，并返回 PoolManager。PoolManager 统一管理连接生命周期、空闲回收
与最大连接数限制；后台健康检查定时探活，把打开/空闲连接数上报到
Prometheus 指标，异常时通过 zap 日志输出诊断信息。

history 包的 SQL 存储持有 PoolManager.DB() 返回的实例，就绪探针读取
Ping 与 GetStats 的结果。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，含指标标签、最大空闲/打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - PoolStats：就绪探针输出用的扁平统计格式。
  - TransactionFunc：事务回调函数类型。

# 事务

WithTransaction 提供单次事务执行；WithTransactionRetry 对死锁、
序列化失败、SQLite 写锁冲突等并发类错误做指数退避重试。
*/
package database
