/*
Package types 提供 egoqa 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 store、agent、workflow、
worker 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - QuestionRecord: 题目记录（题干、5 个选项、truth、状态、结果）
  - Status        : 记录状态（unclaimed / processing / done）
  - Result        : 处理结果（pred、expert_info、agent_prompts、response）
  - Persona       : 专家角色（名称 + 指令 prompt）
  - ExpertPanel   : 一次审议使用的专家面板
  - Job           : 不可变的作业上下文，显式贯穿 selector / graph / extractor
  - Error         : 结构化错误（Code + Retryable + Cause）

# 主要能力

  - 选项标签与索引互转：OptionLabel / OptionIndex
  - 状态推导：DeriveStatus
  - Context 传播：WithWorkerID / WithJobID
*/
package types
