// Package video 提供审议参与者可调用的视频工具：
// 基于抽帧的视觉问答、基于字幕的文本问答，以及占位用的 noop 工具。
//
// 工具通过 tools.Catalog 注册为能力，每个作业开始时按 video id 绑定。
package video
