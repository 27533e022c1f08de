/*
包 metrics 提供基于 Prometheus 的作业指标采集。

# 核心类型

  - Collector：持有 Counter、Histogram 等向量指标，实现
    llm.RequestObserver、store.OpObserver 与 deliberation.Observer，
    各组件只依赖这些小接口。

# 主要能力

  - 作业指标：领取数、按结果分类的完成数（correct / incorrect /
    unknown / unanswered）、迭代失败数。
  - LLM 指标：请求总数与耗时，按 provider/model/status 分组。
  - 审议指标：路由目标计数、每次审议的节点访问数分布。
  - 存储指标：claim_next / write_result / unclaim 的耗时与结果。
*/
package metrics
