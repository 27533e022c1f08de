package deliberation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/BaSui01/egoqa/agent/prompts"
	"github.com/BaSui01/egoqa/tools/video"
	"github.com/BaSui01/egoqa/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// 节点与参与者名称。
const (
	SupervisorNode = "supervisor"
	Finish         = "FINISH"
	SystemSpeaker  = "system"

	Expert1   = "expert1"
	Expert2   = "expert2"
	Expert3   = "expert3"
	Organizer = "organizer"
)

// Members 固定的参与者顺序。
var Members = []string{Expert1, Expert2, Expert3, Organizer}

// DefaultMaxSteps 节点访问上限
const DefaultMaxSteps = 20

// Turn 一条发言
type Turn struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// Outcome 一次审议的产出
type Outcome struct {
	Transcript []Turn
	// FinalText 最后一条记录的内容
	FinalText string
	Steps     int
	// Finished 为 false 表示因 MaxSteps 强制结束
	Finished bool
	// Prompts 参与者 system prompt，键为 <name>_prompt
	Prompts map[string]string
}

// Responses 按发言者汇总内容，同一发言者后出现的覆盖先出现的。
func (o *Outcome) Responses() map[string]string {
	out := make(map[string]string, len(o.Transcript))
	for _, t := range o.Transcript {
		out[t.Speaker] = t.Content
	}
	return out
}

// Observer 接收路由与步数统计，由 metrics.Collector 实现。
type Observer interface {
	ObserveRoute(target string)
	ObserveDeliberation(steps int, finished bool)
}

// Config 审议图配置
type Config struct {
	MaxSteps int
	Mode     TurnMode
	// Tools 参与者名称 -> 工具名，nil 时使用 DefaultToolAssignments
	Tools map[string][]string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxSteps: DefaultMaxSteps,
		Mode:     TurnModeStrict,
		Tools:    DefaultToolAssignments(),
	}
}

// DefaultToolAssignments expert1/expert2 可以看帧与字幕，expert3 只看字幕，organizer 只有 noop。
func DefaultToolAssignments() map[string][]string {
	return map[string][]string{
		Expert1:   {video.AnalyzeVideoTool, video.CaptionsTool},
		Expert2:   {video.AnalyzeVideoTool, video.CaptionsTool},
		Expert3:   {video.CaptionsTool},
		Organizer: {video.NoopTool},
	}
}

// Graph supervisor 调度的审议状态机
type Graph struct {
	router   Router
	speaker  Speaker
	cfg      Config
	observer Observer
	logger   *zap.Logger
}

// NewGraph 创建审议图，observer 可以为 nil。
func NewGraph(router Router, speaker Speaker, cfg Config, observer Observer, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Mode == "" {
		cfg.Mode = TurnModeStrict
	}
	if cfg.Tools == nil {
		cfg.Tools = DefaultToolAssignments()
	}
	return &Graph{
		router:   router,
		speaker:  speaker,
		cfg:      cfg,
		observer: observer,
		logger:   logger.With(zap.String("component", "deliberation_graph")),
	}
}

// Participants 由面板构造四位参与者。面板必须有三位专家。
func (g *Graph) Participants(job types.Job, panel *types.ExpertPanel) (map[string]Participant, error) {
	if panel == nil || len(panel.Experts) < 3 {
		return nil, fmt.Errorf("%w: need 3 experts", types.ErrPanelUnavailable)
	}
	out := make(map[string]Participant, len(Members))
	for i, name := range []string{Expert1, Expert2, Expert3} {
		out[name] = Participant{
			Name:         name,
			SystemPrompt: prompts.Expert(job, panel.Experts[i]),
			Tools:        g.cfg.Tools[name],
		}
	}
	out[Organizer] = Participant{
		Name:         Organizer,
		SystemPrompt: prompts.Organizer(job),
		Tools:        g.cfg.Tools[Organizer],
	}
	return out, nil
}

// Run 执行一次审议。
func (g *Graph) Run(ctx context.Context, job types.Job, panel *types.ExpertPanel) (*Outcome, error) {
	participants, err := g.Participants(job, panel)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("egoqa/deliberation").Start(ctx, "deliberation.run")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.Int("job.attempt", job.Attempt))

	start := time.Now()
	out := &Outcome{
		Transcript: []Turn{{Speaker: SystemSpeaker, Content: prompts.QuestionSentence(job)}},
		Prompts:    make(map[string]string, len(participants)),
	}
	for _, name := range Members {
		out.Prompts[name+"_prompt"] = participants[name].SystemPrompt
	}

	spoken := make(map[string]bool, len(Members))
	next := SupervisorNode
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if next == SupervisorNode {
			candidates := g.cfg.Mode.candidates(Members, spoken)
			if len(candidates) == 0 {
				out.Finished = true
				break
			}
			if out.Steps >= g.cfg.MaxSteps {
				break
			}
			out.Steps++

			options := append([]string{Finish}, candidates...)
			decision, err := g.router.Route(ctx, out.Transcript, options)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("supervisor step %d: %w", out.Steps, err)
			}
			if !slices.Contains(options, decision) {
				err := types.NewError(types.ErrCodeInvalidRoute, fmt.Sprintf("router chose %q", decision)).WithCause(types.ErrInvalidRoute)
				span.RecordError(err)
				return nil, err
			}
			if g.observer != nil {
				g.observer.ObserveRoute(decision)
			}
			g.logger.Debug("routed", zap.String("job_id", job.ID), zap.Int("step", out.Steps), zap.String("next", decision))
			if decision == Finish {
				out.Finished = true
				break
			}
			next = decision
			continue
		}

		if out.Steps >= g.cfg.MaxSteps {
			break
		}
		out.Steps++

		content, err := g.speaker.Speak(ctx, job, participants[next], out.Transcript)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("step %d: %w", out.Steps, err)
		}
		out.Transcript = append(out.Transcript, Turn{Speaker: next, Content: content})
		spoken[next] = true
		next = SupervisorNode
	}

	out.FinalText = out.Transcript[len(out.Transcript)-1].Content
	if g.observer != nil {
		g.observer.ObserveDeliberation(out.Steps, out.Finished)
	}
	span.SetAttributes(attribute.Int("deliberation.steps", out.Steps), attribute.Bool("deliberation.finished", out.Finished))

	if !out.Finished {
		g.logger.Warn("deliberation hit step ceiling",
			zap.String("job_id", job.ID), zap.Int("max_steps", g.cfg.MaxSteps))
	}
	g.logger.Info("deliberation completed",
		zap.String("job_id", job.ID),
		zap.Int("steps", out.Steps),
		zap.Int("turns", len(out.Transcript)-1),
		zap.Bool("finished", out.Finished),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}
