/*
Package workflow 提供按步骤串联的执行链与单题求解流水线。

# 核心类型

  - Chain[S]   : 顺序执行的步骤链，步骤共享同一个状态 S
  - StepError  : 失败步骤的序号、名称与原始错误
  - QAPipeline : select_experts → deliberate → extract_answer 三步链，
    预测为 -1 时整体重跑，次数有界

# 步骤事件

Chain.Run 在每个步骤开始、完成和失败时调用 StepHook，
QAPipeline 用它记录每一步的耗时。
*/
package workflow
