/*
包 server 为 worker 进程提供一个只读的运维 HTTP 端点。

# 核心类型

  - Manager：封装 net/http.Server 的非阻塞启动与优雅关闭，
    异步错误通过 Errors() 通道传出。
  - NewHandler：组装 /metrics（promhttp）、/healthz 与 /stats
    （题库进度 JSON）三个路由。

信号处理由 cmd/egoqa 负责，Manager 只随 ctx 关闭。
*/
package server
