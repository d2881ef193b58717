package orchestrate

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// ExecUnit runs the processor binary with the file path as its last
// argument. stdout is the result channel, stderr the diagnostic channel.
// Cancelling ctx sends SIGTERM and kills the process WaitDelay later.
type ExecUnit struct {
	Bin       string
	Args      []string
	Env       []string
	Dir       string
	WaitDelay time.Duration
}

func (u ExecUnit) Start(ctx context.Context, filePath string) (<-chan Event, error) {
	args := append(append([]string(nil), u.Args...), filePath)
	cmd := exec.CommandContext(ctx, u.Bin, args...)
	cmd.Dir = u.Dir
	if len(u.Env) > 0 {
		cmd.Env = u.Env
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = u.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 10 * time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	events := make(chan Event, 1)
	go func() {
		defer close(events)
		err := cmd.Wait()
		ev := Event{Kind: EventExited, Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: cmd.ProcessState.ExitCode()}
		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			if ctx.Err() != nil {
				ev.Err = ctx.Err()
			}
		default:
			ev.Kind, ev.Err = EventFailed, err
		}
		events <- ev
	}()
	return events, nil
}
