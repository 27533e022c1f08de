// Package config 提供 egoqa 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的优先级加载，
// 覆盖题库存储、模型端点、审议参数、worker 行为与可观测性。
package config
