package video

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/egoqa/llm"
	"github.com/BaSui01/egoqa/llm/tools"
	"github.com/BaSui01/egoqa/testutil"
	"github.com/BaSui01/egoqa/testutil/fixtures"
	"github.com/BaSui01/egoqa/testutil/mocks"
	"github.com/BaSui01/egoqa/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFrames(t *testing.T, videoID string, names ...string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, videoID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("img-"+n), 0o644))
	}
	return root
}

func TestFrameSource_ListFrames_FiltersAndSorts(t *testing.T) {
	root := writeFrames(t, "v1", "0003.png", "0001.jpg", "notes.txt", "0002.JPEG", "0004.tiff")
	src := &FrameSource{Dir: root}

	paths, err := src.ListFrames("v1")
	require.NoError(t, err)
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{"0001.jpg", "0002.JPEG", "0003.png", "0004.tiff"}, names)

	_, err = src.ListFrames("missing")
	assert.Error(t, err)
}

func TestSampleFrames(t *testing.T) {
	paths := make([]string, 200)
	for i := range paths {
		paths[i] = string(rune('a' + i%26))
	}

	tests := []struct {
		name     string
		n        int
		frameNum int
		start    int
		want     int
	}{
		{name: "stride from zero", n: 100, frameNum: 10, start: 0, want: 10},
		{name: "stride with offset", n: 100, frameNum: 10, start: 5, want: 10},
		{name: "max offset", n: 100, frameNum: 10, start: 10, want: 9},
		{name: "capped when stride rounds down", n: 179, frameNum: 90, start: 0, want: 90},
		{name: "capped with offset", n: 179, frameNum: 90, start: 1, want: 90},
		{name: "capped at stride one", n: 100, frameNum: 90, start: 0, want: 90},
		{name: "fewer frames than requested", n: 5, frameNum: 90, start: 0, want: 5},
		{name: "empty", n: 0, frameNum: 90, start: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var bound int
			intN := func(n int) int {
				bound = n
				return tt.start
			}
			got := SampleFrames(paths[:tt.n], tt.frameNum, intN)
			assert.Len(t, got, tt.want)
			if tt.n > 0 {
				assert.Equal(t, tt.n/tt.frameNum+1, bound, "start drawn from [0, n/frameNum]")
			}
		})
	}
}

func TestDataURL(t *testing.T) {
	root := writeFrames(t, "v1", "0001.png")
	url, err := DataURL(filepath.Join(root, "v1", "0001.png"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestFrameAnalyzer_Analyze(t *testing.T) {
	root := writeFrames(t, "v1", "0001.jpg", "0002.jpg", "0003.jpg", "0004.jpg")
	provider := mocks.NewSuccessProvider("C is cooking")
	analyzer := NewFrameAnalyzer(
		&FrameSource{Dir: root, IntN: func(int) int { return 0 }},
		provider,
		FrameAnalyzerConfig{Model: "gpt-4o", FrameCount: 2, Temperature: 0.7},
		zap.NewNop(),
	)

	out, err := analyzer.Analyze(testutil.TestContext(t), "v1", "Is C cooking?")
	require.NoError(t, err)
	assert.Equal(t, "C is cooking", out)

	req := provider.GetLastCall().Request
	require.Len(t, req.Messages, 3)
	assert.Equal(t, VisionSystemPrompt, req.Messages[0].Content)
	assert.Equal(t, "Is C cooking?", req.Messages[1].Content)
	assert.Len(t, req.Messages[2].Images, 2)
	assert.Equal(t, "low", req.Messages[2].Images[0].Detail)
	assert.Equal(t, 3000, req.MaxTokens)
	assert.Equal(t, float32(0.7), req.Temperature)
}

func TestCaptionIndex_Lines(t *testing.T) {
	index := NewCaptionIndex(fixtures.Captions())
	lines := index.Lines("v1")
	assert.Equal(t, []string{
		"0:00:00: C picks up a knife",
		"0:00:02: C cuts an onion",
		"0:00:03: #O a man walks in",
	}, lines)
	assert.Empty(t, index.Lines("unknown"))
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "0:00:00", formatTimestamp(0))
	assert.Equal(t, "0:01:05", formatTimestamp(65))
	assert.Equal(t, "1:00:01", formatTimestamp(3601))
}

func TestLoadCaptions(t *testing.T) {
	path := testutil.WriteJSONFile(t, "captions.json", fixtures.Captions())
	index, err := LoadCaptions(path)
	require.NoError(t, err)
	assert.Len(t, index.Lines("v1"), 3)

	bad := testutil.WriteFile(t, "bad.json", "{")
	_, err = LoadCaptions(bad)
	assert.Error(t, err)
}

func TestCaptionAnswerer_Answer(t *testing.T) {
	provider := mocks.NewSuccessProvider("yes")
	answerer := NewCaptionAnswerer(NewCaptionIndex(fixtures.Captions()), provider, CaptionAnswererConfig{Model: "gpt-4"}, nil)

	out, err := answerer.Answer(testutil.TestContext(t), "v1", "Is C cutting?")
	require.NoError(t, err)
	assert.Equal(t, "yes", out)

	req := provider.GetLastCall().Request
	assert.Equal(t, AssistantSystemPrompt, req.Messages[0].Content)
	user := req.Messages[1].Content
	assert.True(t, strings.HasPrefix(user, "[Image Captions]\n0:00:00: C picks up a knife\n"))
	assert.True(t, strings.HasSuffix(user, "\n[Instructions]\nIs C cutting?"))
}

func TestRegister_BindsPerJob(t *testing.T) {
	root := writeFrames(t, "v2", "0001.jpg")
	vision := mocks.NewMockProvider().WithCompletionFunc(func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return mocks.NewTextResponse(req.Model, "frames:"+req.Messages[1].Content), nil
	})
	analyzer := NewFrameAnalyzer(&FrameSource{Dir: root}, vision, FrameAnalyzerConfig{}, nil)
	answerer := NewCaptionAnswerer(NewCaptionIndex(nil), mocks.NewSuccessProvider("captions"), CaptionAnswererConfig{}, nil)

	catalog := tools.NewCatalog(nil)
	require.NoError(t, Register(catalog, analyzer, answerer, time.Minute))
	assert.Equal(t, []string{AnalyzeVideoTool, NoopTool, CaptionsTool}, catalog.Names())

	reg, err := catalog.Resolve(types.Job{ID: "v2"}, catalog.Names())
	require.NoError(t, err)
	exec := tools.NewDefaultExecutor(reg, nil)

	res := exec.ExecuteOne(context.Background(), mocks.ToolCall("1", AnalyzeVideoTool, map[string]string{"gpt_prompt": "q?"}))
	assert.Empty(t, res.Error)
	assert.Equal(t, "frames:q?", res.ToMessage().Content)

	res = exec.ExecuteOne(context.Background(), mocks.ToolCall("2", CaptionsTool, map[string]string{}))
	assert.Contains(t, res.Error, "gpt_prompt is required")

	res = exec.ExecuteOne(context.Background(), llm.ToolCall{ID: "3", Name: NoopTool, Arguments: json.RawMessage(`{}`)})
	assert.Equal(t, "hello world", res.ToMessage().Content)
}
