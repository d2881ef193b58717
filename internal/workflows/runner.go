package workflows

import (
	"context"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"timetable/internal/models"
	"timetable/internal/orchestrate"
)

// TemporalRunner implements orchestrate.Runner by running TimetableWorkflow
// on a worker and waiting for its result.
type TemporalRunner struct {
	client    client.Client
	taskQueue string
}

func NewTemporalRunner(c client.Client, taskQueue string) *TemporalRunner {
	return &TemporalRunner{client: c, taskQueue: taskQueue}
}

func (r *TemporalRunner) Run(ctx context.Context, filePath string) (orchestrate.Result, error) {
	opts := client.StartWorkflowOptions{
		ID:                    "timetable-" + uuid.NewString(),
		TaskQueue:             r.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	run, err := r.client.ExecuteWorkflow(ctx, opts, TimetableWorkflow, TimetableInput{FileRef: filePath})
	if err != nil {
		return orchestrate.Result{}, &orchestrate.Error{Reason: "start workflow", ExitCode: -1, Err: err}
	}
	var res orchestrate.Result
	if err := run.Get(ctx, &res); err != nil {
		if ctx.Err() != nil {
			// the workflow marks its source failed when cancelled
			_ = r.client.CancelWorkflow(context.WithoutCancel(ctx), run.GetID(), run.GetRunID())
		}
		return orchestrate.Result{}, &orchestrate.Error{Reason: "workflow " + run.GetID(), Diagnostics: err.Error(), ExitCode: -1, Err: err}
	}
	if res.Status != models.SourceSucceeded {
		return orchestrate.Result{}, &orchestrate.Error{Reason: res.Error, SourceID: res.SourceID}
	}
	return res, nil
}
