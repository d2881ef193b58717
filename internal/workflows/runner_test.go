package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/mocks"

	"timetable/internal/models"
	"timetable/internal/orchestrate"
)

func mockRun(result orchestrate.Result, err error) *mocks.WorkflowRun {
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("timetable-test")
	run.On("GetRunID").Return("run-1")
	run.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(1).(*orchestrate.Result) = result
	}).Return(err)
	return run
}

func TestTemporalRunnerReturnsResult(t *testing.T) {
	c := &mocks.Client{}
	want := orchestrate.Result{SourceID: 4, Status: models.SourceSucceeded, Records: []models.ActivityRecord{}}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, TimetableInput{FileRef: "/in/a.png"}).
		Return(mockRun(want, nil), nil)

	got, err := NewTemporalRunner(c, "timetable").Run(context.Background(), "/in/a.png")
	require.NoError(t, err)
	require.Equal(t, want, got)
	c.AssertExpectations(t)
}

func TestTemporalRunnerFailedRun(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(mockRun(orchestrate.Result{SourceID: 5, Status: models.SourceFailed, Error: "corrupt input"}, nil), nil)

	_, err := NewTemporalRunner(c, "timetable").Run(context.Background(), "/in/a.png")
	var oe *orchestrate.Error
	require.ErrorAs(t, err, &oe)
	require.EqualValues(t, 5, oe.SourceID)
	require.Equal(t, "corrupt input", oe.Reason)
}

func TestTemporalRunnerStartError(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("frontend unavailable"))

	_, err := NewTemporalRunner(c, "timetable").Run(context.Background(), "/in/a.png")
	require.ErrorIs(t, err, orchestrate.ErrOrchestration)
}

func TestTemporalRunnerCancelsOnCallerTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(mockRun(orchestrate.Result{}, context.Canceled), nil)
	c.On("CancelWorkflow", mock.Anything, "timetable-test", "run-1").Return(nil).Once()

	_, err := NewTemporalRunner(c, "timetable").Run(ctx, "/in/a.png")
	require.ErrorIs(t, err, context.Canceled)
	c.AssertExpectations(t)
}
