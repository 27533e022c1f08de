// Package prompts 集中维护 persona 选择、审议参与者与答案重写使用的提示词。
package prompts

import (
	"fmt"
	"strings"

	"github.com/BaSui01/egoqa/types"
)

// QuestionSentence 渲染题干与五个选项，选项顺序固定为 A-E。
func QuestionSentence(job types.Job) string {
	var b strings.Builder
	b.WriteString("[Question and 5 Options to Solve]\n")
	b.WriteString("Question: ")
	b.WriteString(job.Question)
	for i, opt := range job.Options {
		fmt.Fprintf(&b, "\nOption %s: %s", types.OptionLabel(i), opt)
	}
	return b.String()
}

// ExpertSelection 要求模型给出两位不同领域的专家及其指令，响应为 JSON。
func ExpertSelection(job types.Job) string {
	var b strings.Builder
	b.WriteString(QuestionSentence(job))
	b.WriteString("\n\n[Instructions]\n")
	b.WriteString("Please identify two experts to answer questions related to this video. Name the two types of experts and specify their fields of expertise.\n")
	b.WriteString("Ensure the expert types come from different fields to provide diverse perspectives.\n")
	b.WriteString("Additionally, create a prompt for each expert to answer the questions. Instruct each expert to provide two answers and explanations.\n\n")
	b.WriteString("[Example prompt for ExpertNameXPrompt]\n")
	b.WriteString("You are a Housekeeping Expert. Watch the video from the perspective of a professional housekeeper and answer the following questions based on your expertise.\n")
	b.WriteString("Please think step-by-step.\n\n")
	b.WriteString("[Response Format]\n")
	b.WriteString("You must respond using this JSON format:\n")
	b.WriteString("{\n")
	b.WriteString(`  "ExpertName1": "xxxx",` + "\n")
	b.WriteString(`  "ExpertName1Prompt": "xxxx",` + "\n")
	b.WriteString(`  "ExpertName2": "xxxx",` + "\n")
	b.WriteString(`  "ExpertName2Prompt": "xxxx"` + "\n")
	b.WriteString("}")
	return b.String()
}

// TextAnalysisExpert 固定追加的第三位专家。
var TextAnalysisExpert = types.Persona{
	Name: "Text Analysis Expert",
	Prompt: "You are a Text Analysis Expert. For each option, check that the following two points are satisfied and insist on excluding any unsuitable ones.\n" +
		" 1. The sentence does not contain unnecessary embellishments, for example, subjective adverbs or situational statements.\n" +
		" 2. The sentence is comprehensive and accurate with regard to objects and actions.\n",
}

// Expert 专家参与者的 system prompt：题目 + 通用指令 + persona 指令。
func Expert(job types.Job, persona types.Persona) string {
	return QuestionSentence(job) +
		"\n\n[Instructions]\n" +
		"Understand the question and options well and focus on the differences between the options.\n" +
		persona.Prompt
}

// Organizer organizer 的 system prompt，要求 "Pred: OptionX" 格式作答。
func Organizer(job types.Job) string {
	var b strings.Builder
	b.WriteString("[Instructions]\n")
	b.WriteString("You are the organizer of a discussion. Your task is to analyze the opinions of other Agents and make a final decision.\n")
	b.WriteString("Your output should be one of the following options: OptionA, OptionB, OptionC, OptionD, OptionE, along with an explanation.\n")
	b.WriteString("The correct answer is always within these 5 options and is a simple and straightforward choice.\n")
	b.WriteString("Provide a step-by-step explanation of your reasoning.\n")
	b.WriteString("You should respect the opinions of other experts. Also, include the opinions of other experts in your explanation.\n\n")
	b.WriteString("Avoid choosing options that include adverbs and other unnecessary embellishments, especially those indicating properties or states\n")
	b.WriteString("Place importance on comprehensive and accurate descriptions of objects and actions in sentences.\n\n")
	b.WriteString(QuestionSentence(job))
	b.WriteString("\n\n[Output Format]\n")
	b.WriteString("Your response should be formatted as follows:\n")
	b.WriteString("Pred: OptionX\n")
	b.WriteString("Explanation: Your detailed explanation here.\n\n")
	return b.String()
}

// Supervisor 路由者的开场 system prompt。
func Supervisor(members []string) string {
	return "You are a supervisor who has been tasked with answering a quiz regarding the video. " +
		"Work with the following members " + strings.Join(members, ", ") + " and provide the most promising answer.\n" +
		"Respond with FINISH along with your final answer. Each agent has one opportunity to speak, and the organizer should make the final decision."
}

// SupervisorQuestion 放在对话末尾，要求从 options 中选出下一位发言者。
func SupervisorQuestion(options []string) string {
	quoted := make([]string, len(options))
	for i, o := range options {
		quoted[i] = "'" + o + "'"
	}
	return "Given the conversation above, who should act next? Or should we FINISH? " +
		"Select one of: [" + strings.Join(quoted, ", ") + "]"
}

// Reformat 让模型从一段自由文本中重新给出单一选项。
func Reformat(text string) string {
	return text + "\n\nPlease retrieve the final answer from the sentence above. " +
		"Your response should be one of the following options: Option A, Option B, Option C, Option D, Option E."
}
