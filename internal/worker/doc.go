/*
包 worker 提供从题库领取题目并逐题求解的工作循环。

# 核心类型

  - Loop：单个工作循环，领取 → 求解 → 写回，直到题库耗尽或 ctx 结束。
  - Solver：单题求解接口，由 workflow.QAPipeline 实现。
  - Recorder：作业计数接口，由 metrics.Collector 实现。

# 并发

同一进程内用 RunPool 并发运行多个 Loop；跨进程只通过 store 协调，
不需要额外的分布式锁。
*/
package worker
