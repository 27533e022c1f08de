package deliberation

import "fmt"

// TurnMode 控制 "每位参与者只发言一次" 规则的执行方式。
type TurnMode string

const (
	// TurnModeStrict 已发言者不再作为路由候选
	TurnModeStrict TurnMode = "strict"
	// TurnModeAdvisory 规则只写在 supervisor 提示中，候选始终为全部成员
	TurnModeAdvisory TurnMode = "advisory"
)

// TurnModeFor 将配置中的布尔开关映射为 TurnMode。
func TurnModeFor(strict bool) TurnMode {
	if strict {
		return TurnModeStrict
	}
	return TurnModeAdvisory
}

// Validate 校验模式取值
func (m TurnMode) Validate() error {
	switch m {
	case TurnModeStrict, TurnModeAdvisory:
		return nil
	default:
		return fmt.Errorf("unknown turn mode %q", m)
	}
}

// candidates 返回本轮可以被路由到的成员，保持 members 顺序。
func (m TurnMode) candidates(members []string, spoken map[string]bool) []string {
	if m == TurnModeAdvisory {
		return append([]string(nil), members...)
	}
	out := make([]string, 0, len(members))
	for _, name := range members {
		if !spoken[name] {
			out = append(out, name)
		}
	}
	return out
}
