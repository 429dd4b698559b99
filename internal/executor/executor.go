// Package executor runs build and deploy command sequences as shell processes
// with bounded output capture.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultMaxOutputBytes = 1024 * 1024
	defaultTimeout        = 40 * time.Minute
)

// Result holds the outcome of one command sequence execution.
type Result struct {
	ExitCode int
	Output   string
	TimedOut bool
}

// Succeeded reports whether the process exited cleanly.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// OutputLines splits the captured output into individual non-empty lines for
// append-only log persistence.
func (r *Result) OutputLines() []string {
	var lines []string
	for _, line := range strings.Split(r.Output, "\n") {
		if trimmed := strings.TrimRight(line, "\r"); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// Stage is a named command sequence run as one shell invocation.
type Stage struct {
	Name  string
	Steps []string
}

// StageResult pairs a stage's outcome with its wall-clock duration.
type StageResult struct {
	Name    string
	Result  Result
	Elapsed time.Duration
}

// limitedBuffer caps total captured bytes. Writes past the cap are dropped but
// reported as successful so the child process never blocks on a full pipe.
type limitedBuffer struct {
	bytes.Buffer
	cap int
}

func (l *limitedBuffer) Write(p []byte) (n int, err error) {
	left := l.cap - l.Len()
	if left <= 0 {
		return len(p), nil
	}
	if len(p) > left {
		n = len(p)
		_, err = l.Buffer.Write(p[:left])
		return n, err
	}
	return l.Buffer.Write(p)
}

// Config holds executor settings.
type Config struct {
	// WorkDir is the directory commands run in; empty means process cwd.
	WorkDir string
	// Timeout bounds one command sequence; zero means the default.
	Timeout time.Duration
	// MaxOutputBytes caps combined stdout/stderr capture; zero means the default.
	MaxOutputBytes int
	// Env is appended to the inherited process environment, KEY=value form.
	Env    []string
	Logger *slog.Logger
}

// ShellExecutor runs command sequences through the system shell.
type ShellExecutor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a ShellExecutor with the given configuration.
func New(cfg Config) *ShellExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellExecutor{cfg: cfg, logger: logger.With("component", "executor")}
}

// Execute joins the command steps with && and runs them as one shell
// invocation, so a failing step short-circuits the rest. Output is combined
// stdout+stderr in arrival order.
func (e *ShellExecutor) Execute(ctx context.Context, workDir string, steps []string) (*Result, error) {
	if len(steps) == 0 {
		return nil, errors.New("no command steps to execute")
	}

	cmdCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	script := strings.Join(steps, " && ")
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", script)
	if workDir != "" {
		cmd.Dir = workDir
	} else {
		cmd.Dir = e.cfg.WorkDir
	}
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.cfg.Env...)
	}

	out := &limitedBuffer{cap: e.cfg.MaxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := &Result{Output: out.String()}
	switch {
	case runErr == nil:
		result.ExitCode = 0
	case cmdCtx.Err() != nil:
		result.TimedOut = errors.Is(cmdCtx.Err(), context.DeadlineExceeded)
		result.ExitCode = -1
		if !result.TimedOut {
			// parent context canceled: surface it so callers can distinguish
			// shutdown from command failure
			return result, cmdCtx.Err()
		}
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			return result, fmt.Errorf("start command: %w", runErr)
		}
	}

	e.logger.DebugContext(ctx, "command sequence finished",
		"steps", len(steps), "exit_code", result.ExitCode,
		"timed_out", result.TimedOut, "elapsed", elapsed)
	return result, nil
}

// ExecuteStages runs stages in order with per-stage timing, stopping after the
// first stage that does not succeed. Results for the stages that ran are
// returned either way.
func (e *ShellExecutor) ExecuteStages(ctx context.Context, workDir string, stages []Stage) ([]StageResult, error) {
	if len(stages) == 0 {
		return nil, errors.New("no stages to execute")
	}

	results := make([]StageResult, 0, len(stages))
	for _, stage := range stages {
		start := time.Now()
		res, err := e.Execute(ctx, workDir, stage.Steps)
		if res != nil {
			results = append(results, StageResult{Name: stage.Name, Result: *res, Elapsed: time.Since(start)})
		}
		if err != nil {
			return results, fmt.Errorf("stage %q: %w", stage.Name, err)
		}
		e.logger.InfoContext(ctx, "stage finished",
			"stage", stage.Name, "exit_code", res.ExitCode, "elapsed", time.Since(start))
		if !res.Succeeded() {
			break
		}
	}
	return results, nil
}
