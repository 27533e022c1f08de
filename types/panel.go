package types

import "fmt"

// Persona 专家角色：名称 + 指令 prompt。
type Persona struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// ExpertPanel 一次审议使用的专家面板，构造后不再修改。
type ExpertPanel struct {
	Experts []Persona `json:"experts"`
}

// Expert 返回第 n 位专家（从 1 开始）。
func (p *ExpertPanel) Expert(n int) (Persona, bool) {
	if p == nil || n < 1 || n > len(p.Experts) {
		return Persona{}, false
	}
	return p.Experts[n-1], true
}

// ExpertInfo 以 ExpertName<n> / ExpertName<n>Prompt 键导出面板，用于持久化。
func (p *ExpertPanel) ExpertInfo() map[string]string {
	if p == nil {
		return nil
	}
	info := make(map[string]string, len(p.Experts)*2)
	for i, e := range p.Experts {
		info[fmt.Sprintf("ExpertName%d", i+1)] = e.Name
		info[fmt.Sprintf("ExpertName%dPrompt", i+1)] = e.Prompt
	}
	return info
}
