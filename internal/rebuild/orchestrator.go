package rebuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

// ErrStepFailed wraps the error of the step that stopped a rebuild.
var ErrStepFailed = errors.New("rebuild: step failed")

// Executor performs steps. The default runs real commands; tests substitute a recorder.
type Executor interface {
	LookPath(name string) (string, error)
	Remove(path string) error
	Run(ctx context.Context, step Step) error
}

// ExecExecutor runs commands with os/exec and streams their output to a logger line by line.
type ExecExecutor struct {
	Logger *zap.Logger
}

func (ExecExecutor) LookPath(name string) (string, error) { return exec.LookPath(name) }

// Remove deletes path recursively. A missing path is not an error.
func (ExecExecutor) Remove(path string) error { return os.RemoveAll(path) }

func (e ExecExecutor) Run(ctx context.Context, step Step) error {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("command", step.Command))
	stdout := &zapio.Writer{Log: logger, Level: zapcore.InfoLevel}
	stderr := &zapio.Writer{Log: logger, Level: zapcore.WarnLevel}
	defer stdout.Close()
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, step.Command, step.Args...)
	cmd.Dir = step.Dir
	cmd.Env = append(os.Environ(), step.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// Outcome summarises an orchestrated rebuild.
type Outcome struct {
	Completed int
	Warnings  []string
}

// Orchestrator runs a plan step by step and stops at the first failure.
type Orchestrator struct {
	executor Executor
	logger   *zap.Logger
}

// NewOrchestrator returns an Orchestrator. A nil executor uses ExecExecutor with logger.
func NewOrchestrator(executor Executor, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if executor == nil {
		executor = ExecExecutor{Logger: logger}
	}
	return &Orchestrator{executor: executor, logger: logger}
}

// Run executes steps in order. Preflight steps only warn. The returned Outcome counts the steps that finished.
func (o *Orchestrator) Run(ctx context.Context, steps []Step) (Outcome, error) {
	var out Outcome
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("rebuild: interrupted before step %d: %w", i+1, err)
		}
		o.logger.Info("rebuild: step", zap.Int("n", i+1), zap.Int("of", len(steps)), zap.String("step", step.String()))

		var err error
		switch step.Kind {
		case KindPreflight:
			for _, tool := range step.Tools {
				if _, lerr := o.executor.LookPath(tool); lerr != nil {
					w := fmt.Sprintf("%s not found on PATH; node-gyp may fail to compile", tool)
					o.logger.Warn("rebuild: "+w, zap.Error(lerr))
					out.Warnings = append(out.Warnings, w)
				}
			}
		case KindRemove:
			err = o.executor.Remove(step.Path)
		case KindCommand:
			err = o.executor.Run(ctx, step)
		default:
			err = fmt.Errorf("unknown step kind %q", step.Kind)
		}
		if err != nil {
			return out, fmt.Errorf("%w: %d (%s): %w", ErrStepFailed, i+1, step.Description, err)
		}
		out.Completed++
	}
	return out, nil
}

// WritePlan prints steps as a numbered list, for dry runs.
func WritePlan(w io.Writer, steps []Step) error {
	for i, step := range steps {
		if _, err := fmt.Fprintf(w, "%d. %s\n   %s\n", i+1, step.Description, step); err != nil {
			return err
		}
	}
	return nil
}
