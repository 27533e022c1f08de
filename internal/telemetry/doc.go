// Package telemetry 集中初始化 egoqa worker 的 TracerProvider 和 MeterProvider。
// 禁用时保持 noop 实现，不连接任何外部服务。
package telemetry
