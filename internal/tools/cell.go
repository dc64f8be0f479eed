package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"syscall"

	"github.com/datalab-sh/datalab/internal/run"
)

// previewBlockRe matches the fenced block a cell may print to hand back a
// small structured preview.
var previewBlockRe = regexp.MustCompile("(?s)```PREVIEW_JSON\\s*(\\{.*?\\})\\s*```")

// CellRunner executes model-written code cells: it writes the code to a fixed
// filename in the run directory, spawns the configured interpreter against it
// with the run directory as working directory, and post-processes the output
// (PREVIEW_JSON block, result.parquet auto-preview, produced artifacts).
// There is no timeout; crash-safety comes from converting every failure into
// an outcome.
type CellRunner struct {
	Interpreter string // e.g. "python3"
	Ext         string // cell filename extension, e.g. "py"
	MaxOutput   int
	TailLines   int
	Log         *slog.Logger
}

// NewCellRunner returns a runner with the default interpreter.
func NewCellRunner(interpreter, ext string, log *slog.Logger) *CellRunner {
	if interpreter == "" {
		interpreter = "python3"
	}
	if ext == "" {
		ext = "py"
	}
	return &CellRunner{Interpreter: interpreter, Ext: ext, MaxOutput: 20480, TailLines: 80, Log: log}
}

// Run executes one code cell and returns its outcome.
func (c *CellRunner) Run(ctx context.Context, r *run.Run, code string) ToolOutcome {
	cellName := "cell." + c.Ext
	if err := os.WriteFile(r.Path(cellName), []byte(code), 0o644); err != nil {
		return failure("writing %s: %v", cellName, err)
	}

	// Watch the run directory while the cell runs so produced artifacts
	// (plots, tables) land in the manifest. Best-effort: a watcher failure
	// never fails the cell.
	watcher := watchArtifacts(r, cellName, c.Log)

	cmd := exec.CommandContext(ctx, c.Interpreter, r.Path(cellName))
	cmd.Dir = r.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		watcher.stop()
		return failure("creating stdout pipe: %v", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		watcher.stop()
		return failure("creating stderr pipe: %v", err)
	}

	if c.Log != nil {
		c.Log.Debug("spawning interpreter", "interpreter", c.Interpreter, "bytes", len(code))
	}
	if err := cmd.Start(); err != nil {
		watcher.stop()
		return failure("spawn failed: %v", err)
	}

	outCh := startDrain(stdoutPipe)
	errCh := startDrain(stderrPipe)
	// Wait only after both pipes hit EOF: Wait closes the parent read ends
	// on child exit and can drop buffered tail output if it races the drains.
	stdout := <-outCh
	stderr := <-errCh
	waitErr := cmd.Wait()
	watcher.stop()

	// The raw stdio files are part of the run contract; losing them is not
	// an ordinary tool failure the model can retry around.
	if err := r.WriteStdio("run_code", stdout, stderr); err != nil {
		return failure("persisting cell output: %v", err)
	}

	outcome := ToolOutcome{
		OK:         waitErr == nil,
		StdoutTail: truncate(tail(stdout, c.tailLines()), c.MaxOutput),
		StderrTail: truncate(tail(stderr, c.tailLines()), c.MaxOutput),
	}

	message := stdout
	if stderr != "" {
		message = stdout + "\n" + stderr
	}
	if hint := missingModuleHint(stderr); hint != "" {
		message = hint + "\n" + message
	}
	outcome.Message = truncate(message, c.MaxOutput)

	// Both post-processing steps are best-effort; absence is not a failure.
	if m := previewBlockRe.FindStringSubmatch(stdout); m != nil {
		if json.Valid([]byte(m[1])) {
			outcome.Preview = json.RawMessage(m[1])
		}
	}
	if parquet := r.Path("result.parquet"); fileExists(parquet) {
		table, err := PreviewParquet(parquet)
		if err == nil {
			outcome.Table = table
		} else if c.Log != nil {
			c.Log.Warn("previewing result.parquet", "err", err)
		}
	}
	return outcome
}

func (c *CellRunner) tailLines() int {
	if c.TailLines > 0 {
		return c.TailLines
	}
	return 80
}

// missingModuleHint recognizes the interpreter's missing-dependency phrasing
// and prepends an actionable hint so the model can self-correct.
func missingModuleHint(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		if strings.Contains(line, "ModuleNotFoundError") || strings.Contains(line, "ImportError") {
			return fmt.Sprintf("Missing dependency: %s\nHint: install it first, e.g. via a shell action running pip install.", strings.TrimSpace(line))
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
