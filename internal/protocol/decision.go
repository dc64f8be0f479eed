// Package protocol defines the per-turn contract between the loop and the
// model: the decision value the model must return, the wire shape it is
// carried in, and the system prompt describing the contract.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Action identifies which of the four cycle actions the model chose.
type Action string

const (
	ActionRunCode Action = "run_code"
	ActionShell   Action = "shell"
	ActionAskUser Action = "ask_user"
	ActionFinal   Action = "final"
)

// RunCodeArgs carries a code cell to execute in the run directory.
type RunCodeArgs struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation,omitempty"`
}

// ShellArgs carries a shell command to execute inside the run sandbox.
type ShellArgs struct {
	Cmd            string `json:"cmd"`
	Cwd            string `json:"cwd,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Explanation    string `json:"explanation,omitempty"`
}

// AskUserArgs carries a clarifying question back to the caller.
type AskUserArgs struct {
	Prompt string `json:"prompt,omitempty"`
}

// FinalArgs carries the final user-facing answer.
type FinalArgs struct {
	Output string `json:"output"`
}

// Decision is the single action the model selects each turn. Exactly one
// variant pointer is non-nil, matching Action.
type Decision struct {
	Action  Action
	RunCode *RunCodeArgs
	Shell   *ShellArgs
	AskUser *AskUserArgs
	Final   *FinalArgs
}

// TranscriptItem is one entry of the append-only run transcript.
// Role is "user", "assistant" or "tool".
type TranscriptItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CycleInput is everything the model sees on one turn.
type CycleInput struct {
	SystemInstructions string           `json:"system_instructions"`
	Transcript         []TranscriptItem `json:"transcript"`
	ToolContext        json.RawMessage  `json:"tool_context"`
}

// wireDecision is the flat permissive shape the model emits. Structured-output
// validators reject true unions, so every variant's fields share one args
// object and validity is enforced in Parse instead of the schema.
type wireDecision struct {
	Action string    `json:"action"`
	Args   *wireArgs `json:"args,omitempty"`
	Output *string   `json:"output,omitempty"`
}

type wireArgs struct {
	Code           *string `json:"code,omitempty"`
	Cmd            *string `json:"cmd,omitempty"`
	Cwd            *string `json:"cwd,omitempty"`
	TimeoutSeconds *int    `json:"timeout_seconds,omitempty"`
	Prompt         *string `json:"prompt,omitempty"`
	Explanation    *string `json:"explanation,omitempty"`
	Output         *string `json:"output,omitempty"`
}

// MarshalJSON renders the decision in the flat wire shape, so that a
// serialized decision strictly re-parses to an equal value.
func (d Decision) MarshalJSON() ([]byte, error) {
	w := wireDecision{Action: string(d.Action)}
	switch d.Action {
	case ActionRunCode:
		if d.RunCode == nil {
			return nil, fmt.Errorf("run_code decision without args")
		}
		w.Args = &wireArgs{Code: &d.RunCode.Code}
		if d.RunCode.Explanation != "" {
			w.Args.Explanation = &d.RunCode.Explanation
		}
	case ActionShell:
		if d.Shell == nil {
			return nil, fmt.Errorf("shell decision without args")
		}
		w.Args = &wireArgs{Cmd: &d.Shell.Cmd}
		if d.Shell.Cwd != "" {
			w.Args.Cwd = &d.Shell.Cwd
		}
		if d.Shell.TimeoutSeconds > 0 {
			w.Args.TimeoutSeconds = &d.Shell.TimeoutSeconds
		}
		if d.Shell.Explanation != "" {
			w.Args.Explanation = &d.Shell.Explanation
		}
	case ActionAskUser:
		if d.AskUser != nil && d.AskUser.Prompt != "" {
			w.Args = &wireArgs{Prompt: &d.AskUser.Prompt}
		}
	case ActionFinal:
		if d.Final == nil {
			return nil, fmt.Errorf("final decision without output")
		}
		w.Output = &d.Final.Output
	default:
		return nil, fmt.Errorf("unknown action %q", d.Action)
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the strict wire shape. Unknown actions and missing
// mandatory args are protocol violations, not defaults.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var w wireDecision
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := fromWire(w)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func fromWire(w wireDecision) (Decision, error) {
	switch Action(w.Action) {
	case ActionRunCode:
		if w.Args == nil || w.Args.Code == nil || *w.Args.Code == "" {
			return Decision{}, fmt.Errorf("run_code requires args.code")
		}
		args := &RunCodeArgs{Code: *w.Args.Code}
		if w.Args.Explanation != nil {
			args.Explanation = *w.Args.Explanation
		}
		return Decision{Action: ActionRunCode, RunCode: args}, nil

	case ActionShell:
		if w.Args == nil || w.Args.Cmd == nil || *w.Args.Cmd == "" {
			return Decision{}, fmt.Errorf("shell requires args.cmd")
		}
		args := &ShellArgs{Cmd: *w.Args.Cmd}
		if w.Args.Cwd != nil {
			args.Cwd = *w.Args.Cwd
		}
		if w.Args.TimeoutSeconds != nil {
			args.TimeoutSeconds = *w.Args.TimeoutSeconds
		}
		if w.Args.Explanation != nil {
			args.Explanation = *w.Args.Explanation
		}
		return Decision{Action: ActionShell, Shell: args}, nil

	case ActionAskUser:
		args := &AskUserArgs{}
		if w.Args != nil && w.Args.Prompt != nil {
			args.Prompt = *w.Args.Prompt
		}
		return Decision{Action: ActionAskUser, AskUser: args}, nil

	case ActionFinal:
		// Output may arrive at the top level or inside args.
		var out string
		switch {
		case w.Output != nil:
			out = *w.Output
		case w.Args != nil && w.Args.Output != nil:
			out = *w.Args.Output
		default:
			return Decision{}, fmt.Errorf("final requires output")
		}
		return Decision{Action: ActionFinal, Final: &FinalArgs{Output: out}}, nil
	}
	return Decision{}, fmt.Errorf("unknown action %q", w.Action)
}

// Parse decodes text as a strict wire-form decision.
func Parse(text string) (Decision, error) {
	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return Decision{}, err
	}
	return d, nil
}
