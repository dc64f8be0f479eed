package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/datalab-sh/datalab/internal/run"
)

// ShellRunner spawns commands through the platform shell inside the run
// sandbox. Policy: timeout-only — every command runs under a wall-clock
// timeout and there is no verb allow-list. The working directory must stay
// inside the run directory; escapes are rejected before spawn.
type ShellRunner struct {
	Shell          string        // default /bin/sh
	DefaultTimeout time.Duration // applied when the request carries none
	MaxTimeout     time.Duration // upper clamp for requested timeouts
	MaxOutput      int           // message/tail byte cap, 0 = unlimited
	TailLines      int           // lines kept in stdout/stderr tails
	Log            *slog.Logger
}

// NewShellRunner returns a runner with the stock limits.
func NewShellRunner(log *slog.Logger) *ShellRunner {
	return &ShellRunner{
		Shell:          "/bin/sh",
		DefaultTimeout: 600 * time.Second,
		MaxTimeout:     600 * time.Second,
		MaxOutput:      20480,
		TailLines:      80,
		Log:            log,
	}
}

// Run executes cmdline and returns its outcome. A timeout yields OK=false
// with a timeout-specific message and whatever partial output the drains
// already buffered; it is a recoverable outcome, not a crash.
func (s *ShellRunner) Run(ctx context.Context, r *run.Run, cmdline, cwd string, timeoutSeconds int) ToolOutcome {
	workdir, err := resolveWorkdir(r.Dir, cwd)
	if err != nil {
		return failure("Sandbox violation: %v", err)
	}
	timeout := s.clampTimeout(timeoutSeconds)

	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell, "-c", cmdline)
	cmd.Dir = workdir
	// Own process group so a timeout kill reaches the whole child tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return failure("creating stdout pipe: %v", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return failure("creating stderr pipe: %v", err)
	}

	if s.Log != nil {
		s.Log.Debug("spawning shell command", "cmd", cmdline, "cwd", workdir, "timeout", timeout)
	}
	if err := cmd.Start(); err != nil {
		return failure("spawn failed: %v", err)
	}

	outCh := startDrain(stdoutPipe)
	errCh := startDrain(stderrPipe)
	// Wait only after both pipes hit EOF: Wait closes the parent read ends
	// on child exit and can drop buffered tail output if it races the drains.
	done := make(chan shellResult, 1)
	go func() {
		var res shellResult
		res.stdout = <-outCh
		res.stderr = <-errCh
		res.waitErr = cmd.Wait()
		done <- res
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res shellResult
	timedOut := false
	cancelled := false
	select {
	case res = <-done:
	case <-timer.C:
		timedOut = true
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		res = <-done
	case <-ctx.Done():
		cancelled = true
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		res = <-done
	}

	// The raw stdio files are part of the run contract; losing them is not
	// an ordinary tool failure the model can retry around.
	if err := r.WriteStdio("shell", res.stdout, res.stderr); err != nil {
		return failure("persisting shell output: %v", err)
	}

	if cancelled {
		return failure("cancelled: %v", ctx.Err())
	}
	if timedOut {
		return ToolOutcome{
			OK:         false,
			Message:    truncate(fmt.Sprintf("Timed out after %ds\n%s%s", int(timeout/time.Second), res.stdout, res.stderr), s.MaxOutput),
			StdoutTail: truncate(tail(res.stdout, s.tailLines()), s.MaxOutput),
			StderrTail: truncate(tail(res.stderr, s.tailLines()), s.MaxOutput),
		}
	}

	ok := res.waitErr == nil
	message := res.stdout
	if res.stderr != "" {
		message = res.stdout + "\n" + res.stderr
	}
	if !ok {
		message = fmt.Sprintf("%s\nexit status: %v", message, res.waitErr)
	}
	return ToolOutcome{
		OK:         ok,
		Message:    truncate(message, s.MaxOutput),
		StdoutTail: truncate(tail(res.stdout, s.tailLines()), s.MaxOutput),
		StderrTail: truncate(tail(res.stderr, s.tailLines()), s.MaxOutput),
	}
}

type shellResult struct {
	stdout, stderr string
	waitErr        error
}

func (s *ShellRunner) clampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		if s.DefaultTimeout > 0 {
			return s.DefaultTimeout
		}
		return 600 * time.Second
	}
	d := time.Duration(seconds) * time.Second
	if s.MaxTimeout > 0 && d > s.MaxTimeout {
		return s.MaxTimeout
	}
	return d
}

func (s *ShellRunner) tailLines() int {
	if s.TailLines > 0 {
		return s.TailLines
	}
	return 80
}

// resolveWorkdir maps a requested cwd into the run sandbox and rejects any
// path that escapes it, for relative traversal and absolute paths alike.
func resolveWorkdir(runDir, cwd string) (string, error) {
	base, err := filepath.Abs(runDir)
	if err != nil {
		return "", err
	}
	if cwd == "" {
		return base, nil
	}
	candidate := cwd
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(base, candidate)
	}
	candidate = filepath.Clean(candidate)
	rel, err := filepath.Rel(base, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("working directory %q escapes the run directory", cwd)
	}
	return candidate, nil
}
