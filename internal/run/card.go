package run

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// Card is a persisted snapshot of a clarifying or terminal moment,
// independent of the raw transcript.
type Card struct {
	TimestampUTC time.Time       `json:"ts_utc"`
	RunID        string          `json:"run_id"`
	Kind         string          `json:"kind"` // "question" or "final"
	Summary      string          `json:"summary"`
	Details      json.RawMessage `json:"details"`
	Files        []string        `json:"files"`
}

// WriteCard persists a card under cards/<timestamp>-<kind>.json and returns
// the path it was written to.
func (r *Run) WriteCard(kind, summary string, details any, files []string) (string, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("marshalling card details: %w", err)
	}
	if files == nil {
		files = []string{}
	}
	card := Card{
		TimestampUTC: time.Now().UTC(),
		RunID:        r.ID,
		Kind:         kind,
		Summary:      summary,
		Details:      raw,
		Files:        files,
	}
	name := filepath.Join("cards", card.TimestampUTC.Format("20060102-150405")+"-"+kind+".json")
	if err := r.writeJSON(name, card); err != nil {
		return "", err
	}
	return r.Path(name), nil
}
