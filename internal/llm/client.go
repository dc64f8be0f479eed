// Package llm turns a cycle input into exactly one decision by calling the
// model endpoint and parsing its structurally-constrained JSON reply.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/datalab-sh/datalab/internal/protocol"
)

// Options configures a Client. APIBase defaults to the public endpoint; when
// RelayURL is set, requests go to the relay with the shared app token instead
// of provider credentials.
type Options struct {
	Model    string
	APIKey   string
	APIBase  string
	RelayURL string
	AppToken string
}

// DecodeError is returned when the model's output cannot be parsed into a
// decision after all fallback attempts. Raw carries the offending text for
// diagnosis from the persisted run directory alone.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to parse model decision: %v (raw: %s)", e.Err, e.Raw)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Client issues one POST per decision against the Responses endpoint.
type Client struct {
	opts  Options
	httpc *http.Client
	base  string
	relay bool
}

// New builds a Client from opts.
func New(opts Options) *Client {
	base := opts.APIBase
	relay := false
	if opts.RelayURL != "" {
		base = opts.RelayURL
		relay = true
	}
	if base == "" {
		base = "https://api.openai.com"
	}
	return &Client{
		opts:  opts,
		httpc: &http.Client{Timeout: 10 * time.Minute},
		base:  strings.TrimRight(base, "/"),
		relay: relay,
	}
}

// Decide sends the cycle input and returns the model's decision.
// Transport failures and non-2xx statuses are hard errors for the turn;
// retry policy beyond transient backoff belongs to the caller.
func (c *Client) Decide(ctx context.Context, input protocol.CycleInput) (protocol.Decision, error) {
	body, err := json.Marshal(map[string]any{
		"model": c.opts.Model,
		"input": buildPrompt(input),
		"text": map[string]any{
			"format": textFormat(),
		},
	})
	if err != nil {
		return protocol.Decision{}, fmt.Errorf("encoding request: %w", err)
	}

	resp, err := retryWithBackoff(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/responses", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.relay {
			req.Header.Set("x-app-token", c.opts.AppToken)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		}
		return c.httpc.Do(req)
	})
	if err != nil {
		return protocol.Decision{}, fmt.Errorf("model call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.Decision{}, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return protocol.Decision{}, fmt.Errorf("model endpoint returned %d: %s", resp.StatusCode, raw)
	}

	text := extractText(raw)
	return parseDecision(text, raw)
}

// textFormat constrains the response to the flat decision schema. The schema
// is deliberately union-free, so the structured-output validator accepts it;
// per-action validity is enforced by the parser.
func textFormat() map[string]any {
	f := protocol.DecisionSchema()
	f["type"] = "json_schema"
	return f
}

// buildPrompt concatenates system instructions, the replayed transcript, and
// the serialized last tool outcome into the single input string the endpoint
// expects, with a JSON-only reminder up front.
func buildPrompt(input protocol.CycleInput) string {
	var b strings.Builder
	b.WriteString("Return only valid JSON for the given schema. No prose.\n\n")
	b.WriteString(input.SystemInstructions)
	b.WriteString("\n--- Transcript ---\n")
	for _, t := range input.Transcript {
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, t.Content)
	}
	b.WriteString("\n--- Tool context ---\n")
	if len(input.ToolContext) > 0 {
		b.Write(input.ToolContext)
	} else {
		b.WriteString("{}")
	}
	b.WriteString("\n--- End ---\n")
	return b.String()
}

// parseDecision runs the fallback ladder: strict parse of the extracted text,
// then the alias-tolerant pass, then the whole envelope as if it were already
// a decision (some models ignore the envelope instructions and answer
// directly). Anything else is a DecodeError carrying the raw text.
func parseDecision(text string, envelope []byte) (protocol.Decision, error) {
	if text != "" {
		if d, err := protocol.Parse(text); err == nil {
			return d, nil
		}
		if d, err := protocol.ParseLenient(text); err == nil {
			return d, nil
		}
	}
	if d, err := protocol.Parse(string(envelope)); err == nil {
		return d, nil
	}
	raw := text
	if raw == "" {
		raw = string(envelope)
	}
	return protocol.Decision{}, &DecodeError{Raw: raw, Err: fmt.Errorf("no parseable decision")}
}
