// Package tools implements the sandboxed executors: the code-cell runner,
// the shell runner, and the SQL-to-parquet runner. Every executor converts
// ordinary failures (spawn errors, non-zero exits, timeouts, bad SQL) into a
// ToolOutcome with OK=false instead of returning an error, so the loop can
// feed the failure back to the model on the next turn.
package tools

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ToolOutcome is the uniform result of one tool execution.
type ToolOutcome struct {
	OK         bool            `json:"ok"`
	Message    string          `json:"message"`
	Preview    json.RawMessage `json:"preview_json,omitempty"`
	Table      *TablePreview   `json:"table,omitempty"`
	StdoutTail string          `json:"stdout_tail,omitempty"`
	StderrTail string          `json:"stderr_tail,omitempty"`
}

// TablePreview is a size-bounded look at a materialized table. Rows is capped
// at previewRows; the full result lives at Path.
type TablePreview struct {
	Schema   []Column         `json:"schema"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Path     string           `json:"path,omitempty"`
}

// Column is one (name, declared type) pair of a table schema, in order.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

const previewRows = 10

// failure builds an OK=false outcome with a formatted message.
func failure(format string, args ...any) ToolOutcome {
	return ToolOutcome{OK: false, Message: fmt.Sprintf(format, args...)}
}

// startDrain consumes r to EOF on its own goroutine and delivers the full
// text once. Draining each pipe concurrently avoids the deadlock where the
// child blocks on a full pipe buffer while the parent is waiting on the
// other stream. The read is EOF-bounded, not line-bounded, so a single
// arbitrarily long line cannot stall it mid-stream; a read error is noted
// inline in the captured text. The returned channel yields exactly one value.
func startDrain(r io.Reader) <-chan string {
	ch := make(chan string, 1)
	go func() {
		var b strings.Builder
		if _, err := io.Copy(&b, r); err != nil {
			fmt.Fprintf(&b, "\n[read error: %v]", err)
		}
		ch <- b.String()
	}()
	return ch
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// truncate caps s at max bytes with a trailing notice.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n...[output truncated, %d bytes total]", len(s))
}
