// Package runtime drives the turn loop: ask the model for one decision,
// execute it, feed the outcome back, stop on a terminal action or when the
// turn budget runs out.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/datalab-sh/datalab/internal/protocol"
	"github.com/datalab-sh/datalab/internal/run"
	"github.com/datalab-sh/datalab/internal/tools"
)

// Decider produces one decision per turn. *llm.Client satisfies it; tests
// substitute stubs.
type Decider interface {
	Decide(ctx context.Context, in protocol.CycleInput) (protocol.Decision, error)
}

// Catalog supplies dataset hint lines for the system instructions.
type Catalog interface {
	Datasets(ctx context.Context) ([]string, error)
}

// Result is how a run ended.
type Result struct {
	Output     string // final answer, or the question when NeedsInput
	TurnsUsed  int
	NeedsInput bool // terminated by ask_user
}

// Loop orchestrates one run. Zero-value collaborators other than Client,
// Cells and Shell are optional.
type Loop struct {
	Client   Decider
	Cells    *tools.CellRunner
	Shell    *tools.ShellRunner
	Catalog  Catalog
	Observer Observer
	Log      *slog.Logger

	LogDecisions bool // log every decision verbatim
	DumpContext  bool // persist each turn's model input under the run dir
}

const defaultQuestion = "Please clarify your goal."

// Run executes the loop for one prompt. Tool failures are recoverable and
// feed back into the next turn; decoding and transport failures abort.
// Exhausting maxTurns returns an empty Result with no error and no card.
func (l *Loop) Run(ctx context.Context, r *run.Run, prompt string, maxTurns int) (Result, error) {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	log := l.logger()
	obs := l.observer()

	instructions, err := l.instructions(ctx)
	if err != nil {
		return Result{}, err
	}

	transcript := []protocol.TranscriptItem{{Role: "user", Content: prompt}}
	var toolContext json.RawMessage

	log.Info("run started", "run", r.ID, "max_turns", maxTurns)

	for turn := 1; turn <= maxTurns; turn++ {
		obs.TurnStarted(turn)
		in := protocol.CycleInput{
			SystemInstructions: instructions,
			Transcript:         transcript,
			ToolContext:        toolContext,
		}
		if l.DumpContext {
			l.dumpContext(r, turn, in, log)
		}

		decision, err := l.Client.Decide(ctx, in)
		if err != nil {
			return Result{TurnsUsed: turn - 1}, fmt.Errorf("turn %d: %w", turn, err)
		}
		obs.DecisionReceived(turn, decision)
		if l.LogDecisions {
			raw, _ := json.Marshal(decision)
			log.Info("decision", "turn", turn, "decision", string(raw))
		}

		switch decision.Action {
		case protocol.ActionAskUser:
			question := defaultQuestion
			if decision.AskUser != nil && decision.AskUser.Prompt != "" {
				question = decision.AskUser.Prompt
			}
			details := map[string]any{"turn": turn}
			if _, err := r.WriteCard("question", question, details, nil); err != nil {
				return Result{}, fmt.Errorf("persisting question card: %w", err)
			}
			res := Result{Output: question, TurnsUsed: turn, NeedsInput: true}
			obs.RunCompleted(res)
			log.Info("run paused for user input", "run", r.ID, "turns", turn)
			return res, nil

		case protocol.ActionFinal:
			if decision.Final == nil {
				return Result{TurnsUsed: turn - 1}, fmt.Errorf("turn %d: final decision without output", turn)
			}
			details := map[string]any{"turn": turn}
			if toolContext != nil {
				details["tool_context"] = toolContext
			}
			if _, err := r.WriteCard("final", decision.Final.Output, details, nil); err != nil {
				return Result{}, fmt.Errorf("persisting final card: %w", err)
			}
			res := Result{Output: decision.Final.Output, TurnsUsed: turn}
			obs.RunCompleted(res)
			log.Info("run completed", "run", r.ID, "turns", turn)
			return res, nil

		case protocol.ActionRunCode, protocol.ActionShell:
			tool := string(decision.Action)
			if (decision.Action == protocol.ActionRunCode && decision.RunCode == nil) ||
				(decision.Action == protocol.ActionShell && decision.Shell == nil) {
				return Result{TurnsUsed: turn - 1}, fmt.Errorf("turn %d: %s decision without args", turn, tool)
			}
			obs.ToolStarted(turn, tool)
			var outcome tools.ToolOutcome
			if decision.Action == protocol.ActionRunCode {
				outcome = l.Cells.Run(ctx, r, decision.RunCode.Code)
			} else {
				outcome = l.Shell.Run(ctx, r, decision.Shell.Cmd, decision.Shell.Cwd, decision.Shell.TimeoutSeconds)
			}
			obs.ToolFinished(turn, tool, outcome)
			log.Info("tool finished", "turn", turn, "tool", tool, "ok", outcome.OK)

			if err := r.SaveOutcome(tool, outcome); err != nil {
				return Result{}, fmt.Errorf("persisting %s outcome: %w", tool, err)
			}
			if outcome.Preview != nil {
				if err := r.SavePreview(outcome.Preview); err != nil {
					return Result{}, fmt.Errorf("persisting preview: %w", err)
				}
			}

			transcript = append(transcript, protocol.TranscriptItem{
				Role:    "tool",
				Content: tool + " -> " + outcome.Message,
			})
			toolContext, err = json.Marshal(outcome)
			if err != nil {
				return Result{}, fmt.Errorf("encoding tool context: %w", err)
			}

		default:
			return Result{TurnsUsed: turn - 1}, fmt.Errorf("turn %d: unexecutable action %q", turn, decision.Action)
		}
	}

	// Budget spent without a terminal action. Not an error: the run dir
	// holds everything that happened.
	res := Result{TurnsUsed: maxTurns}
	obs.RunCompleted(res)
	log.Warn("turn budget exhausted", "run", r.ID, "turns", maxTurns)
	return res, nil
}

// instructions assembles the system prompt, appending dataset hints from the
// catalog. An empty catalog is stated explicitly so the model asks for data
// instead of hallucinating tables.
func (l *Loop) instructions(ctx context.Context) (string, error) {
	base := protocol.SystemPrompt()
	if l.Catalog == nil {
		return base, nil
	}
	hints, err := l.Catalog.Datasets(ctx)
	if err != nil {
		return "", fmt.Errorf("listing datasets: %w", err)
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")
	if len(hints) == 0 {
		b.WriteString("No registered datasets found. Ask the user for data or work from files they name.")
		return b.String(), nil
	}
	b.WriteString("Available datasets:\n")
	for _, h := range hints {
		b.WriteString("- ")
		b.WriteString(h)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// dumpContext writes the full model input for a turn. Debugging aid only, so
// failures are logged and ignored.
func (l *Loop) dumpContext(r *run.Run, turn int, in protocol.CycleInput, log *slog.Logger) {
	name := fmt.Sprintf("context-%03d.json", turn)
	data, err := json.MarshalIndent(in, "", "  ")
	if err == nil {
		err = os.WriteFile(r.Path(name), data, 0o644)
	}
	if err != nil {
		log.Warn("dumping context", "turn", turn, "err", err)
	}
}

func (l *Loop) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.New(slog.DiscardHandler)
}

func (l *Loop) observer() Observer {
	if l.Observer != nil {
		return l.Observer
	}
	return NopObserver{}
}
