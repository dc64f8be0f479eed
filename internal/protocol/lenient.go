package protocol

import (
	"encoding/json"
	"fmt"
)

// ParseLenient reconstructs a minimal valid decision from JSON that names an
// action but misplaces or aliases its companion fields. It accepts fields at
// the top level or under args, and known aliases ("question" for the ask
// prompt, "user_output"/"answer" for the final output).
func ParseLenient(text string) (Decision, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return Decision{}, err
	}

	action, _ := obj["action"].(string)
	if action == "" {
		return Decision{}, fmt.Errorf("no action field")
	}
	args, _ := obj["args"].(map[string]any)

	// Look up a string field under args first, then at the top level,
	// trying each alias in order.
	str := func(keys ...string) string {
		for _, scope := range []map[string]any{args, obj} {
			if scope == nil {
				continue
			}
			for _, k := range keys {
				if s, ok := scope[k].(string); ok && s != "" {
					return s
				}
			}
		}
		return ""
	}

	switch Action(action) {
	case ActionRunCode:
		code := str("code")
		if code == "" {
			return Decision{}, fmt.Errorf("run_code without code")
		}
		return Decision{Action: ActionRunCode, RunCode: &RunCodeArgs{
			Code:        code,
			Explanation: str("explanation", "user_message"),
		}}, nil

	case ActionShell:
		cmd := str("cmd", "command")
		if cmd == "" {
			return Decision{}, fmt.Errorf("shell without cmd")
		}
		sh := &ShellArgs{
			Cmd:         cmd,
			Cwd:         str("cwd"),
			Explanation: str("explanation", "user_message"),
		}
		if args != nil {
			if n, ok := args["timeout_seconds"].(float64); ok {
				sh.TimeoutSeconds = int(n)
			}
		}
		return Decision{Action: ActionShell, Shell: sh}, nil

	case ActionAskUser:
		return Decision{Action: ActionAskUser, AskUser: &AskUserArgs{
			Prompt: str("prompt", "question"),
		}}, nil

	case ActionFinal:
		out := str("output", "user_output", "answer")
		if out == "" {
			return Decision{}, fmt.Errorf("final without output")
		}
		return Decision{Action: ActionFinal, Final: &FinalArgs{Output: out}}, nil
	}
	return Decision{}, fmt.Errorf("unknown action %q", action)
}
