// Package config 提供机器人的统一配置：结构定义、默认值、
// YAML/环境变量加载与启动时校验。配置读取一次后只读。
package config
