package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OptionCount 每道题固定的选项数。
const OptionCount = 5

// 预测值约定。
const (
	// PredictionUnknown 表示多次重试后仍无法抽取答案。
	PredictionUnknown = -1
	// PredictionProcessing 是持久化格式中的 processing 标记值。
	PredictionProcessing = -2
)

var optionLabels = [OptionCount]string{"A", "B", "C", "D", "E"}

// OptionLabel 返回选项索引对应的标签（0 -> "A"）。越界返回空串。
func OptionLabel(index int) string {
	if index < 0 || index >= OptionCount {
		return ""
	}
	return optionLabels[index]
}

// OptionIndex 返回标签对应的选项索引，大小写不敏感；未知标签返回 -1。
func OptionIndex(label string) int {
	label = strings.ToUpper(strings.TrimSpace(label))
	for i, l := range optionLabels {
		if l == label {
			return i
		}
	}
	return -1
}

// Status 记录处理状态。
type Status string

const (
	StatusUnclaimed  Status = "unclaimed"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
)

// Result 一道题的处理结果。
type Result struct {
	Prediction   int               `json:"pred"`
	ExpertInfo   map[string]string `json:"expert_info"`
	AgentPrompts map[string]string `json:"agent_prompts"`
	RawResponses map[string]string `json:"response"`
}

// Answered 预测值是否落在合法选项内。
func (r *Result) Answered() bool {
	return r != nil && r.Prediction >= 0 && r.Prediction < OptionCount
}

// QuestionRecord 题库中的一条记录。
type QuestionRecord struct {
	ID       string
	Question string
	Options  [OptionCount]string
	Truth    *int
	Status   Status
	Result   *Result
	// Extra 持久化记录中未识别的字段，重写时原样保留。
	Extra map[string]json.RawMessage
}

// Validate 校验记录的必填字段。
func (r *QuestionRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("%w: %s: empty question", ErrInvalidRecord, r.ID)
	}
	if r.Truth != nil && (*r.Truth < 0 || *r.Truth >= OptionCount) {
		return fmt.Errorf("%w: %s: truth %d out of range", ErrInvalidRecord, r.ID, *r.Truth)
	}
	return nil
}

// Correct 预测与 truth 一致时返回 true；缺少 truth 或结果时返回 false。
func (r *QuestionRecord) Correct() bool {
	if r == nil || r.Truth == nil || r.Result == nil {
		return false
	}
	return r.Result.Prediction == *r.Truth
}

// Clone 返回记录的深拷贝。
func (r *QuestionRecord) Clone() *QuestionRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Truth != nil {
		t := *r.Truth
		out.Truth = &t
	}
	if r.Result != nil {
		res := Result{
			Prediction:   r.Result.Prediction,
			ExpertInfo:   cloneStringMap(r.Result.ExpertInfo),
			AgentPrompts: cloneStringMap(r.Result.AgentPrompts),
			RawResponses: cloneStringMap(r.Result.RawResponses),
		}
		out.Result = &res
	}
	if r.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

// DeriveStatus 按持久化字段推导状态：
// 没有 pred 为 unclaimed；有 pred 但没有结果明细为 processing；否则 done。
func DeriveStatus(hasPred, hasDetails bool) Status {
	switch {
	case !hasPred:
		return StatusUnclaimed
	case !hasDetails:
		return StatusProcessing
	default:
		return StatusDone
	}
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
