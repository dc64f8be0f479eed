package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/datalab-sh/datalab/internal/protocol"
)

func testInput() protocol.CycleInput {
	return protocol.CycleInput{
		SystemInstructions: "choose an action",
		Transcript:         []protocol.TranscriptItem{{Role: "user", Content: "add 2+2"}},
		ToolContext:        json.RawMessage(`{}`),
	}
}

// respond writes a Responses-API envelope whose message text is split across
// the given fragments.
func respond(w http.ResponseWriter, fragments ...string) {
	var blocks []map[string]any
	for _, f := range fragments {
		blocks = append(blocks, map[string]any{"type": "output_text", "text": f})
	}
	json.NewEncoder(w).Encode(map[string]any{
		"output": []map[string]any{
			{"type": "reasoning", "summary": "thinking"},
			{"type": "message", "content": blocks},
		},
	})
}

func TestDecideParsesSplitFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			t.Errorf("path = %q, want /v1/responses", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		respond(w, `{"action":"final",`, `"output":"4"}`)
	}))
	defer srv.Close()

	c := New(Options{Model: "gpt-5", APIKey: "sk-test", APIBase: srv.URL})
	d, err := c.Decide(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action != protocol.ActionFinal || d.Final.Output != "4" {
		t.Errorf("decision = %+v", d)
	}
}

func TestDecideSendsPromptAndRelayToken(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-app-token"); got != "shared-secret" {
			t.Errorf("x-app-token = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("relay request must not carry Authorization, got %q", got)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		respond(w, `{"action":"final","output":"ok"}`)
	}))
	defer srv.Close()

	c := New(Options{Model: "gpt-5", RelayURL: srv.URL, AppToken: "shared-secret"})
	if _, err := c.Decide(context.Background(), testInput()); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	input, _ := gotBody["input"].(string)
	for _, want := range []string{"choose an action", "[user] add 2+2", "--- Tool context ---"} {
		if !strings.Contains(input, want) {
			t.Errorf("prompt missing %q:\n%s", want, input)
		}
	}

	// The decision schema is carried in the request so the endpoint's
	// structured-output layer constrains the reply.
	text, _ := gotBody["text"].(map[string]any)
	format, _ := text["format"].(map[string]any)
	if format["type"] != "json_schema" || format["name"] != "cycle_decision" {
		t.Errorf("text.format = %+v", format)
	}
	if _, ok := format["schema"].(map[string]any); !ok {
		t.Errorf("text.format carries no schema: %+v", format)
	}
}

func TestDecideLenientFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, `{"action":"ask_user","question":"which table?"}`)
	}))
	defer srv.Close()

	c := New(Options{Model: "gpt-5", APIKey: "k", APIBase: srv.URL})
	d, err := c.Decide(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action != protocol.ActionAskUser || d.AskUser.Prompt != "which table?" {
		t.Errorf("decision = %+v", d)
	}
}

func TestDecideEnvelopeAsDecisionFallback(t *testing.T) {
	// A model that ignores instructions and answers with a bare decision
	// object instead of the envelope.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"action":"final","output":"direct"}`))
	}))
	defer srv.Close()

	c := New(Options{Model: "gpt-5", APIKey: "k", APIBase: srv.URL})
	d, err := c.Decide(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Final == nil || d.Final.Output != "direct" {
		t.Errorf("decision = %+v", d)
	}
}

func TestDecideDecodeErrorCarriesRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, "I think the answer is 4.")
	}))
	defer srv.Close()

	c := New(Options{Model: "gpt-5", APIKey: "k", APIBase: srv.URL})
	_, err := c.Decide(context.Background(), testInput())
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if !strings.Contains(de.Raw, "I think the answer is 4.") {
		t.Errorf("Raw = %q", de.Raw)
	}
}

func TestDecideNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Options{Model: "gpt-5", APIKey: "k", APIBase: srv.URL})
	_, err := c.Decide(context.Background(), testInput())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected 401 error, got %v", err)
	}
}

func TestExtractTextSkipsUnknownItemTypes(t *testing.T) {
	raw := []byte(`{"output":[
		{"type":"telemetry","payload":123},
		{"type":"message","content":[{"type":"text","text":"hello "},{"type":"annotation","text":"IGNORED"}]},
		{"type":"output_text","text":"world"}
	]}`)
	if got := extractText(raw); got != "hello world" {
		t.Errorf("extractText = %q", got)
	}
}
