/*
包 deliberation 实现由 supervisor 调度的多专家审议图。

# 概述

一次审议有四位参与者：expert1、expert2、expert3 与 organizer，外加虚拟节点
supervisor 与终止标记 FINISH。图从 supervisor 开始，supervisor 每次从候选集中
选出下一位发言者；参与者发言后控制权回到 supervisor，直到选中 FINISH 或访问
次数达到 MaxSteps。

# 核心模型

  - Turn：对话记录中的一条发言，Transcript 只追加不修改。
  - Participant：参与者名称、system prompt 与可用工具名。
  - Router：路由决策接口，SupervisorRouter 通过强制的 route 函数调用实现，
    并校验结果落在候选集内。
  - Speaker：参与者发言接口，AgentSpeaker 基于 ReAct 工具循环实现。
  - TurnMode：strict 模式下已发言者不再作为候选，advisory 模式只在提示中约定。
  - Outcome：审议产出，含完整记录、最终文本、步数与各参与者 prompt。

# 终止

MaxSteps 统计 supervisor 与参与者的全部节点访问，达到上限时强制结束，
不视为错误；Outcome.Finished 为 false。
*/
package deliberation
