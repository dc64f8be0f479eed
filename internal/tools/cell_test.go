package tools

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// testCell uses the shell as the interpreter so the runner is exercised
// without a data-science toolchain on the test host.
func testCell() *CellRunner {
	return NewCellRunner("sh", "sh", nil)
}

func TestCellWritesScriptAndCapturesOutput(t *testing.T) {
	r := testRun(t)
	out := testCell().Run(context.Background(), r, "echo hi from cell")
	if !out.OK {
		t.Fatalf("OK = false: %s", out.Message)
	}
	if strings.TrimSpace(out.Message) != "hi from cell" {
		t.Errorf("Message = %q", out.Message)
	}
	code, err := os.ReadFile(r.Path("cell.sh"))
	if err != nil || string(code) != "echo hi from cell" {
		t.Errorf("cell source not persisted: %v %q", err, code)
	}
	if _, err := os.Stat(r.Path("run_code.stdout.txt")); err != nil {
		t.Errorf("raw stdout not persisted: %v", err)
	}
}

func TestCellFailureIsRecoverable(t *testing.T) {
	out := testCell().Run(context.Background(), testRun(t), "echo broken >&2; exit 1")
	if out.OK {
		t.Error("OK = true for failing cell")
	}
	if !strings.Contains(out.StderrTail, "broken") {
		t.Errorf("StderrTail = %q", out.StderrTail)
	}
	if !strings.Contains(out.Message, "broken") {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestCellSpawnFailureIsRecoverable(t *testing.T) {
	c := NewCellRunner("definitely-not-an-interpreter-xyz", "py", nil)
	out := c.Run(context.Background(), testRun(t), "print(1)")
	if out.OK {
		t.Error("OK = true for unspawnable interpreter")
	}
	if !strings.Contains(out.Message, "spawn failed") {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestCellExtractsPreviewBlock(t *testing.T) {
	script := `echo before
echo '` + "```PREVIEW_JSON" + `'
echo '{"summary":"two rows","rows":[1,2]}'
echo '` + "```" + `'
echo after`
	out := testCell().Run(context.Background(), testRun(t), script)
	if !out.OK {
		t.Fatalf("OK = false: %s", out.Message)
	}
	if string(out.Preview) != `{"summary":"two rows","rows":[1,2]}` {
		t.Errorf("Preview = %s", out.Preview)
	}
}

func TestCellIgnoresMalformedPreviewBlock(t *testing.T) {
	script := "echo '```PREVIEW_JSON'; echo '{not json'; echo '```'"
	out := testCell().Run(context.Background(), testRun(t), script)
	if !out.OK {
		t.Fatalf("OK = false: %s", out.Message)
	}
	if out.Preview != nil {
		t.Errorf("Preview = %s, want none", out.Preview)
	}
}

func TestCellMissingModuleHint(t *testing.T) {
	out := testCell().Run(context.Background(), testRun(t),
		"echo \"ModuleNotFoundError: No module named 'pandas'\" >&2; exit 1")
	if out.OK {
		t.Fatal("OK = true")
	}
	if !strings.Contains(out.Message, "Missing dependency") {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestCellDrainsOversizedLines(t *testing.T) {
	r := testRun(t)
	start := time.Now()
	// The cell runner has no timeout, so a drain stalling on a long single
	// line would hang the run outright rather than time out.
	out := testCell().Run(context.Background(), r,
		"head -c 2097152 /dev/zero | tr '\\0' x; echo; echo all-read")
	if !out.OK {
		t.Fatalf("OK = false: %s", out.Message)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("took %v, drain stalled", elapsed)
	}
	data, err := os.ReadFile(r.Path("run_code.stdout.txt"))
	if err != nil {
		t.Fatalf("reading raw stdout: %v", err)
	}
	if len(data) < 2097152 || !strings.Contains(string(data), "all-read") {
		t.Errorf("raw stdout incomplete: %d bytes", len(data))
	}
}

func TestCellStdioPersistenceFailureIsReported(t *testing.T) {
	r := testRun(t)
	if err := os.Mkdir(r.Path("run_code.stdout.txt"), 0o755); err != nil {
		t.Fatal(err)
	}
	out := testCell().Run(context.Background(), r, "echo hi")
	if out.OK {
		t.Error("OK = true despite stdio persistence failure")
	}
	if !strings.Contains(out.Message, "persisting cell output") {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestCellRecordsArtifactsInManifest(t *testing.T) {
	r := testRun(t)
	out := testCell().Run(context.Background(), r, "printf x > plot.png; printf y > notes.txt; sleep 0.2")
	if !out.OK {
		t.Fatalf("OK = false: %s", out.Message)
	}
	// The watcher is event-driven; give slow filesystems a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		m, err := r.ReadManifest()
		if err != nil {
			t.Fatalf("ReadManifest: %v", err)
		}
		if len(m.Artifacts) == 1 {
			if m.Artifacts[0].Path != "plot.png" || m.Artifacts[0].Kind != "image" {
				t.Errorf("manifest = %+v", m.Artifacts)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("manifest = %+v, want exactly plot.png", m.Artifacts)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
