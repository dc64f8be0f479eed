package llm

import "encoding/json"

// The Responses endpoint wraps the answer in a list of heterogeneous output
// items. Only the shapes below are recognized; items with any other type are
// skipped so that new item kinds from provider upgrades degrade gracefully
// instead of crashing the parser.

type envelope struct {
	Output     []envelopeItem `json:"output"`
	OutputText string         `json:"output_text"`
}

type envelopeItem struct {
	Type    string         `json:"type"`
	Text    string         `json:"text"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// extractText concatenates every text fragment from message-type items.
// The answer may arrive split across multiple content blocks or item types.
func extractText(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}

	var buf []byte
	for _, item := range env.Output {
		switch item.Type {
		case "message":
			for _, block := range item.Content {
				switch block.Type {
				case "text", "output_text":
					buf = append(buf, block.Text...)
				}
			}
		case "output_text":
			buf = append(buf, item.Text...)
		}
	}
	if len(buf) == 0 && env.OutputText != "" {
		return env.OutputText
	}
	return string(buf)
}
