// Package testutil 放 egoqa 各包测试共用的小工具：带超时的上下文、
// 临时文件写入。
//
// 子包 mocks 提供脚本化的 llm.Provider，fixtures 提供题目记录、题库文件、
// persona 回复与字幕样例。
//
//	ctx := testutil.TestContext(t)
//	path := testutil.WriteFile(t, "questions.json", fixtures.QuestionFile(3))
package testutil
