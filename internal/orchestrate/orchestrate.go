// Package orchestrate runs the extraction pipeline as an isolated unit of
// work and recovers its result from the unit's output channels.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"timetable/internal/models"
	"timetable/internal/observability"
	"timetable/internal/util"
)

// ErrOrchestration matches every *Error.
var ErrOrchestration = errors.New("orchestration failed")

// maxDiagnostics caps the diagnostic text attached to an Error.
const maxDiagnostics = 16 << 10

// Result is the payload a unit of work reports on its result channel.
// Result is a settled run. Confidence, when present, runs parallel to
// Records.
type Result struct {
	SourceID   int64                    `json:"source_id"`
	Status     models.SourceStatus      `json:"status"`
	Metadata   *models.DocumentMetadata `json:"metadata,omitempty"`
	Records    []models.ActivityRecord  `json:"records"`
	Confidence []float64                `json:"confidence,omitempty"`
	Warnings   []string                 `json:"warnings,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

type Runner interface {
	Run(ctx context.Context, filePath string) (Result, error)
}

// Error reports a run that produced no usable result. SourceID is set when
// the unit got far enough to create a source.
type Error struct {
	Reason      string
	Diagnostics string
	ExitCode    int
	SourceID    int64
	Err         error
}

func (e *Error) Error() string {
	msg := "orchestration: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrOrchestration}
	}
	return []error{ErrOrchestration, e.Err}
}

type EventKind int

const (
	// EventFailed reports that the unit could not run or lost its channels.
	EventFailed EventKind = iota + 1
	// EventExited reports process exit with the captured channels.
	EventExited
)

type Event struct {
	Kind     EventKind
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Err      error
}

// Unit starts one run and reports its lifecycle on the returned channel.
// The channel is closed when the unit has nothing more to say.
type Unit interface {
	Start(ctx context.Context, filePath string) (<-chan Event, error)
}

// Boundary turns a Unit into a Runner. It answers each call at most once:
// the first terminal event decides, later events are drained and dropped.
type Boundary struct {
	unit   Unit
	logger *slog.Logger
}

func NewBoundary(unit Unit, logger *slog.Logger) *Boundary {
	if logger == nil {
		logger = slog.Default()
	}
	return &Boundary{unit: unit, logger: logger}
}

func (b *Boundary) Run(ctx context.Context, filePath string) (Result, error) {
	started := time.Now()
	res, err := b.run(ctx, filePath)
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	observability.OrchestrationDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	return res, err
}

func (b *Boundary) run(ctx context.Context, filePath string) (Result, error) {
	events, err := b.unit.Start(ctx, filePath)
	if err != nil {
		return Result{}, &Error{Reason: "start unit", ExitCode: -1, Err: err}
	}
	var r reply
	for !r.done {
		select {
		case ev, ok := <-events:
			switch {
			case ok:
				b.handle(&r, ev)
			case ctx.Err() != nil:
				r.settle(Result{}, abandoned(ctx))
			default:
				r.settle(Result{}, &Error{Reason: "unit ended without reporting", ExitCode: -1})
			}
		case <-ctx.Done():
			r.settle(Result{}, abandoned(ctx))
		}
	}
	go drain(events)
	return r.res, r.err
}

func (b *Boundary) handle(r *reply, ev Event) {
	diag := util.Tail(string(ev.Stderr), maxDiagnostics)
	switch ev.Kind {
	case EventFailed:
		r.settle(Result{}, &Error{Reason: "unit failed", Diagnostics: diag, ExitCode: -1, Err: ev.Err})
	case EventExited:
		res, perr := ParsePayload(ev.Stdout)
		if ev.ExitCode != 0 || ev.Err != nil {
			e := &Error{Reason: fmt.Sprintf("unit exited with status %d", ev.ExitCode), Diagnostics: diag, ExitCode: ev.ExitCode, Err: ev.Err}
			if perr == nil {
				e.SourceID = res.SourceID
				if res.Error != "" {
					e.Reason = res.Error
				}
			}
			r.settle(Result{}, e)
			return
		}
		if perr != nil {
			r.settle(Result{}, &Error{Reason: "unparseable result", Diagnostics: diag, Err: perr})
			return
		}
		if res.Status == "" {
			// a clean exit with a payload that omits status committed its source
			res.Status = models.SourceSucceeded
		}
		if res.Status == models.SourceFailed {
			r.settle(Result{}, &Error{Reason: res.Error, Diagnostics: diag, SourceID: res.SourceID})
			return
		}
		if len(ev.Stderr) > 0 {
			b.logger.Debug("unit diagnostics", "source_id", res.SourceID, "stderr", util.Tail(string(ev.Stderr), 2048))
		}
		r.settle(res, nil)
	default:
		b.logger.Warn("ignoring unknown unit event", "kind", ev.Kind)
	}
}

// reply holds the single answer of one Run.
type reply struct {
	done bool
	res  Result
	err  error
}

func (r *reply) settle(res Result, err error) {
	if r.done {
		return
	}
	r.done = true
	r.res, r.err = res, err
}

func abandoned(ctx context.Context) error {
	return &Error{Reason: "run abandoned", ExitCode: -1, Err: ctx.Err()}
}

func drain(events <-chan Event) {
	for range events {
	}
}
