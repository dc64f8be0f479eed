package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecisionSchemaCoversWireShape(t *testing.T) {
	schema := DecisionSchema()

	root, ok := schema["schema"].(map[string]any)
	if !ok {
		t.Fatal("schema has no root object")
	}
	props := root["properties"].(map[string]any)

	action := props["action"].(map[string]any)
	enum := action["enum"].([]string)
	want := []string{"run_code", "shell", "ask_user", "final"}
	if len(enum) != len(want) {
		t.Fatalf("action enum = %v", enum)
	}
	for i, a := range want {
		if enum[i] != a {
			t.Errorf("action enum[%d] = %q, want %q", i, enum[i], a)
		}
	}

	args := props["args"].(map[string]any)["properties"].(map[string]any)
	for _, field := range []string{"code", "cmd", "cwd", "timeout_seconds", "prompt", "explanation", "output"} {
		if _, ok := args[field]; !ok {
			t.Errorf("args schema missing %q", field)
		}
	}

	// Structured-output validators reject unions, so none may appear.
	raw, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("schema does not marshal: %v", err)
	}
	for _, kw := range []string{"oneOf", "anyOf", "allOf"} {
		if strings.Contains(string(raw), kw) {
			t.Errorf("schema contains %s", kw)
		}
	}
}

func TestSystemPromptNamesConventions(t *testing.T) {
	p := SystemPrompt()
	for _, needle := range []string{"run_code", "shell", "ask_user", "final", "PREVIEW_JSON", "result.parquet"} {
		if !strings.Contains(p, needle) {
			t.Errorf("system prompt missing %q", needle)
		}
	}
}
