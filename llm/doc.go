/*
包 llm 提供模型调用的统一接入层。

# 核心类型

  - [Provider]：同步补全、健康检查、名称与原生函数调用能力声明。
  - [ChatRequest] / [ChatResponse]：请求与响应模型，支持图片消息、
    工具 schema 与强制 tool_choice。
  - [Error]：带错误码与可重试标记的错误，由 HTTP 状态映射而来。
  - [ResilientProvider]：装饰器，负责固定间隔重试、本地限流、
    默认模型与超时填充，并把每次上游调用报告给 [RequestObserver]。

# 辅助函数

  - [Ask]：发送请求并取首个 choice 的正文。
  - [TextRequest]：构造 system + user 的纯文本请求。
  - [FirstChoice]：安全地取首个 choice，空响应视为可重试错误。

具体的 HTTP 适配在 llm/providers/openaicompat，工具执行与 ReAct 循环在 llm/tools。
*/
package llm
