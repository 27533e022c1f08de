package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trail struct{ visited []string }

func visit(name string) StepFunc[*trail] {
	return func(_ context.Context, t *trail) error {
		t.visited = append(t.visited, name)
		return nil
	}
}

func TestChain_RunsInOrder(t *testing.T) {
	c := NewChain("test", Step[*trail]{Name: "a", Run: visit("a")}).
		Then("b", visit("b")).
		Then("c", visit("c"))

	st := &trail{}
	require.NoError(t, c.Run(context.Background(), st, nil))
	assert.Equal(t, []string{"a", "b", "c"}, st.visited)
	assert.Equal(t, []string{"a", "b", "c"}, c.StepNames())
	assert.Equal(t, "test", c.Name())
}

func TestChain_StopsAtFailingStep(t *testing.T) {
	sentinel := errors.New("nope")
	c := NewChain[*trail]("test").
		Then("a", visit("a")).
		Then("boom", func(context.Context, *trail) error { return sentinel }).
		Then("c", visit("c"))

	st := &trail{}
	err := c.Run(context.Background(), st, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.EqualError(t, err, "step 2 (boom): nope")

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "boom", se.Step)
	assert.Equal(t, []string{"a"}, st.visited)
}

func TestChain_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &trail{}
	err := NewChain[*trail]("test").Then("a", visit("a")).Run(ctx, st, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, st.visited)
}

func TestChain_Hook(t *testing.T) {
	c := NewChain[*trail]("events").
		Then("ok", visit("ok")).
		Then("boom", func(context.Context, *trail) error { return errors.New("nope") })

	var events []StepEvent
	require.Error(t, c.Run(context.Background(), &trail{}, func(ev StepEvent) { events = append(events, ev) }))

	require.Len(t, events, 4)
	assert.Equal(t, StepEventStart, events[0].Type)
	assert.Equal(t, StepEventComplete, events[1].Type)
	assert.Equal(t, "ok", events[1].Step)
	assert.Equal(t, StepEventStart, events[2].Type)
	assert.Equal(t, StepEventError, events[3].Type)
	assert.Equal(t, 1, events[3].Index)
	assert.EqualError(t, events[3].Err, "nope")
}
