/*
egoqa 是第一人称视频多选题的多智能体求解 worker。

# 子命令

  - run：启动工作循环，领取题目、组织专家审议并写回预测，题库耗尽后退出。
  - status：输出题库进度与正确率。
  - unclaim：把 processing 记录恢复为未领取，用于 worker 崩溃后的人工恢复。
  - import：把题库 JSON 文件导入 Redis 或 SQL 后端。
  - backup：把当前题库导出为时间戳快照。
  - version：输出版本信息。

所有子命令都接受 --config 指定 YAML 配置文件，环境变量前缀为 EGOQA。
*/
package main
