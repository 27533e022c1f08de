package prompts

import (
	"strings"
	"testing"

	"github.com/BaSui01/egoqa/testutil/fixtures"
	"github.com/BaSui01/egoqa/types"
	"github.com/stretchr/testify/assert"
)

func TestQuestionSentence(t *testing.T) {
	job := types.NewJob(fixtures.Record("v1", 0))
	got := QuestionSentence(job)

	assert.True(t, strings.HasPrefix(got, "[Question and 5 Options to Solve]\nQuestion: What is C doing in v1?"))
	want := []string{
		"Option A: C does thing 0",
		"Option B: C does thing 1",
		"Option C: C does thing 2",
		"Option D: C does thing 3",
		"Option E: C does thing 4",
	}
	last := -1
	for _, line := range want {
		idx := strings.Index(got, line)
		assert.Greater(t, idx, last, line)
		last = idx
	}
}

func TestExpertAndOrganizer(t *testing.T) {
	job := types.NewJob(fixtures.Record("v1", 0))

	expert := Expert(job, types.Persona{Name: "Chef", Prompt: "You are a Chef."})
	assert.Contains(t, expert, "focus on the differences between the options")
	assert.True(t, strings.HasSuffix(expert, "You are a Chef."))

	org := Organizer(job)
	assert.Contains(t, org, "Pred: OptionX")
	assert.Contains(t, org, "Option E: C does thing 4")
}

func TestSupervisorPrompts(t *testing.T) {
	assert.Contains(t, Supervisor([]string{"expert1", "organizer"}), "members expert1, organizer")
	assert.Equal(t,
		"Given the conversation above, who should act next? Or should we FINISH? Select one of: ['FINISH', 'expert1']",
		SupervisorQuestion([]string{"FINISH", "expert1"}))
}

func TestReformat(t *testing.T) {
	got := Reformat("I think it is the second one")
	assert.True(t, strings.HasPrefix(got, "I think it is the second one\n\n"))
	assert.Contains(t, got, "Option A, Option B, Option C, Option D, Option E.")
}
