package deliberation

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/BaSui01/egoqa/agent/prompts"
	"github.com/BaSui01/egoqa/llm"
	"github.com/BaSui01/egoqa/types"
	"go.uber.org/zap"
)

// RouteFunctionName 路由函数名
const RouteFunctionName = "route"

// Router 从 options 中选出下一位发言者或 Finish。
type Router interface {
	Route(ctx context.Context, transcript []Turn, options []string) (string, error)
}

// RouterConfig SupervisorRouter 配置
type RouterConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
	// Attempts 非法决策的最大询问次数
	Attempts int
}

// SupervisorRouter 通过强制函数调用做路由决策。
// Provider 不支持原生函数调用时改为解析正文中的 JSON。
type SupervisorRouter struct {
	provider llm.Provider
	members  []string
	cfg      RouterConfig
	logger   *zap.Logger
}

// NewSupervisorRouter 创建路由器，members 用于 supervisor 的开场提示。
func NewSupervisorRouter(provider llm.Provider, members []string, cfg RouterConfig, logger *zap.Logger) *SupervisorRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	return &SupervisorRouter{
		provider: provider,
		members:  append([]string(nil), members...),
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "supervisor_router")),
	}
}

// RouteSchema route 函数参数：next 限定为 options 之一。
func RouteSchema(options []string) llm.ToolSchema {
	params := types.NewObjectSchema().
		WithTitle("routeSchema").
		AddProperty("next", types.NewEnumSchema(options...).WithTitle("Next")).
		AddRequired("next")
	return llm.ToolSchema{
		Name:        RouteFunctionName,
		Description: "Select the next role.",
		Parameters:  params.RawJSON(),
	}
}

// Route 实现 Router。非法回复重新询问，次数用尽返回 types.ErrInvalidRoute。
func (r *SupervisorRouter) Route(ctx context.Context, transcript []Turn, options []string) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("route: no options")
	}
	req := r.buildRequest(transcript, options)

	var lastReply string
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		resp, err := r.provider.Completion(ctx, req)
		if err != nil {
			return "", fmt.Errorf("route: %w", err)
		}
		choice, err := llm.FirstChoice(resp)
		if err != nil {
			return "", fmt.Errorf("route: %w", err)
		}

		next, ok := ParseDecision(choice.Message)
		if ok && slices.Contains(options, next) {
			return next, nil
		}
		lastReply = describeReply(choice.Message)
		r.logger.Warn("invalid routing decision",
			zap.Int("attempt", attempt),
			zap.Strings("options", options),
			zap.String("reply", lastReply))
	}

	return "", types.NewError(types.ErrCodeInvalidRoute,
		fmt.Sprintf("no valid route after %d attempts, last reply %q", r.cfg.Attempts, lastReply)).
		WithCause(types.ErrInvalidRoute)
}

func (r *SupervisorRouter) buildRequest(transcript []Turn, options []string) *llm.ChatRequest {
	msgs := make([]llm.Message, 0, len(transcript)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompts.Supervisor(r.members)})
	msgs = append(msgs, transcriptMessages(transcript)...)

	closing := prompts.SupervisorQuestion(options) +
		" If you want to finish the conversation, type 'FINISH' and Final Answer."
	req := &llm.ChatRequest{
		Model:       r.cfg.Model,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}
	if r.provider.SupportsNativeFunctionCalling() {
		req.Tools = []llm.ToolSchema{RouteSchema(options)}
		req.ToolChoice = RouteFunctionName
	} else {
		closing += "\nRespond only with JSON of the form {\"next\": \"<one of the options>\"}."
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: closing})
	req.Messages = msgs
	return req
}

// ParseDecision 取 route 函数调用的 next 参数；没有函数调用时解析正文中的 JSON。
func ParseDecision(msg llm.Message) (string, bool) {
	for _, tc := range msg.ToolCalls {
		if tc.Name != RouteFunctionName {
			continue
		}
		if next, ok := decodeNext(tc.Arguments); ok {
			return next, true
		}
	}
	content := strings.TrimSpace(msg.Content)
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return decodeNext([]byte(content[start : end+1]))
	}
	return "", false
}

func decodeNext(raw []byte) (string, bool) {
	var args struct {
		Next string `json:"next"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", false
	}
	next := strings.TrimSpace(args.Next)
	return next, next != ""
}

func describeReply(msg llm.Message) string {
	if len(msg.ToolCalls) > 0 {
		return msg.ToolCalls[0].Name + string(msg.ToolCalls[0].Arguments)
	}
	return msg.Content
}
