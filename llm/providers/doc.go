// Package providers 是 OpenAI 兼容 chat completions 协议的线上格式层。
//
// Wire* 类型与 JSON 一一对应；EncodeMessages / EncodeTools / EncodeToolChoice
// 负责 llm 类型到线上格式的转换，DecodeResponse 负责反向转换。
// ErrorFromStatus 把 HTTP 状态映射为带 Retryable 标记的 llm.Error，
// 重试层据此决定是否再次发起请求。
package providers
