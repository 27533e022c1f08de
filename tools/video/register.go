package video

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/egoqa/llm"
	"github.com/BaSui01/egoqa/llm/tools"
	"github.com/BaSui01/egoqa/types"
)

// 能力名称，参与者配置按名称引用。
const (
	AnalyzeVideoTool = "analyze_video"
	CaptionsTool     = "retrieve_video_clip_captions"
	NoopTool         = "noop"
)

const questionGuide = `In the GPT prompt, You must include 5 questions based on original questions and options.
For example, if the question asks about the purpose of the video and OptionA is "C is looking for a T-shirt" and OptionB is "C is cleaning up the room",
OptionA is "C is looking for a T-shirt?" and OptionB is "C is tidying the room?" and so on.
The questions should be Yes/No questions whenever possible.
Also, please indicate what role you would like the respondent to play in answering the questions.`

type promptArgs struct {
	GPTPrompt string `json:"gpt_prompt"`
}

func promptSchema() json.RawMessage {
	return types.NewObjectSchema().
		AddProperty("gpt_prompt", types.NewStringSchema().WithDescription(questionGuide)).
		AddRequired("gpt_prompt").
		RawJSON()
}

func parsePrompt(args json.RawMessage) (string, error) {
	var in promptArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if strings.TrimSpace(in.GPTPrompt) == "" {
		return "", fmt.Errorf("gpt_prompt is required")
	}
	return in.GPTPrompt, nil
}

// AnalyzeVideoCapability 基于抽帧的视觉问答能力。
func AnalyzeVideoCapability(analyzer *FrameAnalyzer, timeout time.Duration) tools.Capability {
	return tools.Capability{
		Schema: llm.ToolSchema{
			Name:        AnalyzeVideoTool,
			Description: "Analyze video tool. Sends sampled frames of the current video together with gpt_prompt to a vision model and returns the analysis result.",
			Parameters:  promptSchema(),
		},
		Timeout: timeout,
		Bind: func(job types.Job) tools.ToolFunc {
			return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
				prompt, err := parsePrompt(args)
				if err != nil {
					return nil, err
				}
				out, err := analyzer.Analyze(ctx, job.ID, prompt)
				if err != nil {
					return nil, err
				}
				return tools.TextResult(out), nil
			}
		},
	}
}

// CaptionsCapability 基于字幕的问答能力。
func CaptionsCapability(answerer *CaptionAnswerer, timeout time.Duration) tools.Capability {
	return tools.Capability{
		Schema: llm.ToolSchema{
			Name:        CaptionsTool,
			Description: "Analyze captioning tool. Answers gpt_prompt from the timestamped captions of the current video clip; 'C' in captions is the person wearing the camera.",
			Parameters:  promptSchema(),
		},
		Timeout: timeout,
		Bind: func(job types.Job) tools.ToolFunc {
			return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
				prompt, err := parsePrompt(args)
				if err != nil {
					return nil, err
				}
				out, err := answerer.Answer(ctx, job.ID, prompt)
				if err != nil {
					return nil, err
				}
				return tools.TextResult(out), nil
			}
		},
	}
}

// NoopCapability 占位工具，始终返回 "hello world"。
func NoopCapability() tools.Capability {
	return tools.Capability{
		Schema: llm.ToolSchema{
			Name:        NoopTool,
			Description: "This is dummy tool. Returns 'hello world'.",
			Parameters:  types.NewObjectSchema().RawJSON(),
		},
		Bind: func(types.Job) tools.ToolFunc {
			return func(context.Context, json.RawMessage) (json.RawMessage, error) {
				return tools.TextResult("hello world"), nil
			}
		},
	}
}

// Register 将三个视频能力加入目录。analyzer 或 answerer 为 nil 时跳过对应能力。
func Register(catalog *tools.Catalog, analyzer *FrameAnalyzer, answerer *CaptionAnswerer, timeout time.Duration) error {
	caps := []tools.Capability{NoopCapability()}
	if analyzer != nil {
		caps = append(caps, AnalyzeVideoCapability(analyzer, timeout))
	}
	if answerer != nil {
		caps = append(caps, CaptionsCapability(answerer, timeout))
	}
	for _, c := range caps {
		if err := catalog.Add(c); err != nil {
			return err
		}
	}
	return nil
}
