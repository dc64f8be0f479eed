package protocol

// SystemPrompt is the natural-language contract shown to the model on every
// turn. It enumerates the four actions, the required companion fields, and
// the output conventions the executors know how to pick up (PREVIEW_JSON
// fenced blocks, result.parquet).
func SystemPrompt() string {
	return `You are a data-analysis agent. On each turn choose exactly ONE of these actions and return ONLY JSON:
- run_code: execute a code cell to perform calculations or data processing. Required fields:
  {"action":"run_code","args":{"code":"...","explanation":"<short explanation for the user>"}}
  Always print results to stdout. If you produce a small structured preview, print it as a fenced block:
  ` + "```PREVIEW_JSON\n  { \"summary\": \"...\", \"columns\": [...], \"rows\": [...] }\n  ```" + `
  If you create a table, write it to result.parquet in the working directory; it will be previewed automatically.
- shell: run a safe shell command such as ls, cat, head, wc. Required fields:
  {"action":"shell","args":{"cmd":"...","cwd":null,"timeout_seconds":null,"explanation":"<short explanation>"}}
- ask_user: ask one concise clarifying question.
  {"action":"ask_user","args":{"prompt":"<question>"}}
- final: provide the final answer after executing code, or when you already have the answer.
  {"action":"final","output":"<your complete answer to the user>"}

Rules:
- Return only a valid JSON object; no prose outside JSON.
- Include an explanation with run_code and shell describing what will happen now.
- The working directory is always the sandboxed run directory; write all files there.
- Execute code first to get results, then use final. Never guess numbers you could compute.
- Keep PREVIEW_JSON blocks under 5KB.
- Avoid destructive shell commands; use code cells for computation.
- The last tool result is passed back in tool_context, including failures; use it to self-correct.
- If a tool fails, fix the code or command and try again instead of giving up.`
}

// DecisionSchema is the JSON Schema handed to the structured-output layer.
// The Responses API rejects oneOf inside text.format, so the schema is a
// single permissive object; Parse enforces per-action validity.
func DecisionSchema() map[string]any {
	nullable := func(t string) []string { return []string{t, "null"} }
	return map[string]any{
		"name": "cycle_decision",
		"schema": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"action": map[string]any{
					"type": "string",
					"enum": []string{"run_code", "shell", "ask_user", "final"},
				},
				"args": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"code":            map[string]any{"type": nullable("string")},
						"cmd":             map[string]any{"type": nullable("string")},
						"cwd":             map[string]any{"type": nullable("string")},
						"timeout_seconds": map[string]any{"type": nullable("integer"), "minimum": 1, "maximum": 600},
						"prompt":          map[string]any{"type": nullable("string")},
						"explanation":     map[string]any{"type": nullable("string")},
						"output":          map[string]any{"type": nullable("string")},
					},
				},
				"output": map[string]any{"type": nullable("string")},
			},
			"required": []string{"action"},
		},
		"strict": true,
	}
}
