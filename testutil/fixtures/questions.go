// Package fixtures 提供测试用的题目、题库文件与模型响应样例。
package fixtures

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/egoqa/types"
)

// PersonaResponse persona 选择调用的典型响应：JSON 前后带有说明文字。
const PersonaResponse = `here you go {"ExpertName1":"Chef","ExpertName1Prompt":"p1","ExpertName2":"Engineer","ExpertName2Prompt":"p2"} thanks`

// OrganizerAnswer 可直接抽取为选项 C 的 organizer 发言。
const OrganizerAnswer = "Pred: OptionC\nExplanation: the camera wearer is cooking."

// Record 构造一条未领取的题目记录。
func Record(id string, truth int) *types.QuestionRecord {
	t := truth
	rec := &types.QuestionRecord{
		ID:       id,
		Question: fmt.Sprintf("What is C doing in %s?", id),
		Truth:    &t,
		Status:   types.StatusUnclaimed,
	}
	for i := range rec.Options {
		rec.Options[i] = fmt.Sprintf("C does thing %d", i)
	}
	return rec
}

// Records 构造 v1..vn 共 n 条记录，truth 依次循环 0..4。
func Records(n int) []*types.QuestionRecord {
	out := make([]*types.QuestionRecord, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, Record(fmt.Sprintf("v%d", i), (i-1)%types.OptionCount))
	}
	return out
}

// QuestionFile 返回 v1..vn 的题库 JSON，键顺序与编号一致。
func QuestionFile(n int) string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, rec := range Records(n) {
		if i > 0 {
			b.WriteString(",\n")
		}
		key, _ := json.Marshal(rec.ID)
		b.Write(key)
		b.WriteString(": {")
		q, _ := json.Marshal(rec.Question)
		fmt.Fprintf(&b, `"question": %s`, q)
		for j, opt := range rec.Options {
			o, _ := json.Marshal(opt)
			fmt.Fprintf(&b, `, "option %d": %s`, j, o)
		}
		fmt.Fprintf(&b, `, "truth": %d}`, *rec.Truth)
	}
	b.WriteString("\n}\n")
	return b.String()
}

// Captions 字幕文件样例：video id -> 每秒一条字幕。
func Captions() map[string][]string {
	return map[string][]string{
		"v1": {
			"#C C picks up a knife",
			"#C C picks up a knife",
			"#c C cuts an onion",
			"#O a man walks in",
		},
	}
}
