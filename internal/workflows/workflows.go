package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"timetable/internal/activities"
	"timetable/internal/models"
	"timetable/internal/orchestrate"
)

const QueryGetTimetableStatus = "GetTimetableStatus"

// TimetableWorkflow runs one file through the pipeline. Once a source exists
// every failure path, cancellation included, marks it failed before the
// workflow returns.
func TimetableWorkflow(ctx workflow.Context, input TimetableInput) (orchestrate.Result, error) {
	status := TimetableStatus{
		FileRef:     input.FileRef,
		CurrentStep: "init",
		Status:      "processing",
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetTimetableStatus, func() (TimetableStatus, error) {
		return status, nil
	}); err != nil {
		return orchestrate.Result{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	step := func(name string) {
		status.CurrentStep = name
		status.Steps[name] = "processing"
	}
	done := func() { status.Steps[status.CurrentStep] = "done" }
	failed := func(err error) orchestrate.Result {
		status.Status = string(models.SourceFailed)
		status.FailReason = reason(err)
		status.Steps[status.CurrentStep] = "failed"
		return orchestrate.Result{SourceID: status.SourceID, Status: models.SourceFailed, Error: status.FailReason}
	}

	step("inspect_file")
	var inspect activities.InspectFileOutput
	if err := workflow.ExecuteActivity(ctx, "InspectFileActivity", activities.InspectFileInput{FileRef: input.FileRef}).Get(ctx, &inspect); err != nil {
		return failed(err), nil
	}
	status.MimeType = inspect.MimeType
	done()

	step("create_source")
	var created activities.CreateSourceOutput
	if err := workflow.ExecuteActivity(ctx, "CreateSourceActivity", activities.CreateSourceInput{FileRef: input.FileRef}).Get(ctx, &created); err != nil {
		return failed(err), nil
	}
	status.SourceID = created.SourceID
	done()

	settleFailed := func(err error) (orchestrate.Result, error) {
		res := failed(err)
		dctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		if ferr := workflow.ExecuteActivity(dctx, "FailSourceActivity", activities.FailSourceInput{SourceID: created.SourceID, Reason: res.Error}).Get(dctx, nil); ferr != nil {
			logger.Error("mark source failed", "source_id", created.SourceID, "error", ferr)
		}
		if temporal.IsCanceledError(err) {
			return res, err
		}
		return res, nil
	}

	step("extract_records")
	var ext activities.ExtractRecordsOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractRecordsActivity", activities.ExtractRecordsInput{
		SourceID: created.SourceID,
		FileRef:  input.FileRef,
		MimeType: inspect.MimeType,
	}).Get(ctx, &ext); err != nil {
		return settleFailed(err)
	}
	status.Warnings = len(ext.Warnings)
	done()

	step("commit_source")
	var committed activities.CommitSourceOutput
	if err := workflow.ExecuteActivity(ctx, "CommitSourceActivity", activities.CommitSourceInput{
		SourceID: created.SourceID,
		Records:  ext.Records,
		Warnings: len(ext.Warnings),
	}).Get(ctx, &committed); err != nil {
		return settleFailed(err)
	}
	done()

	status.Status = string(models.SourceSucceeded)
	status.Records = len(committed.Records)
	logger.Info("timetable committed", "source_id", created.SourceID, "records", status.Records, "warnings", status.Warnings)
	return orchestrate.Result{
		SourceID:   created.SourceID,
		Status:     models.SourceSucceeded,
		Metadata:   ext.Metadata,
		Records:    committed.Records,
		Confidence: ext.Confidence,
		Warnings:   ext.Warnings,
	}, nil
}

// reason is the message of the innermost application error, without the
// activity envelope.
func reason(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	if temporal.IsCanceledError(err) {
		return "run cancelled"
	}
	return err.Error()
}
