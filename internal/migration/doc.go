// Copyright (c) Discord-PG-Bot Authors.
// Licensed under the MIT License.

/*
包 migration 管理会话存储的数据库 Schema，支持 PostgreSQL、MySQL
与 SQLite 三种方言，基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌各方言的 SQL 迁移脚本，结合 golang-migrate
引擎做版本化的 Schema 变更。当前迁移集建立 conversation_turns 表
及其 (channel_id, timestamp) 复合索引，与 history 包的 SQL 存储
共用同一套表结构。支持正向迁移、回滚、按步执行、跳转到指定版本
以及强制设置版本号。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close 操作集。
  - DefaultMigrator：Migrator 的默认实现，封装 golang-migrate 实例
    与数据库连接管理。
  - Config：迁移配置，包含方言、连接 URL、版本表名与锁超时。
  - DatabaseType：方言枚举（postgres/mysql/sqlite）。
  - MigrationStatus / MigrationInfo：迁移状态与进度摘要。
  - CLI：命令行交互层，封装 Migrator 提供格式化输出。

# 工厂函数

  - NewMigratorFromConfig / NewMigratorFromDatabaseConfig：从应用
    配置派生连接 URL 并创建迁移器。
  - NewMigratorFromURL：直接给定方言与 URL 创建。
  - ParseDatabaseType / BuildDatabaseURL：类型解析与 URL 拼接辅助。
*/
package migration
