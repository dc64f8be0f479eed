package runtime

import (
	"github.com/datalab-sh/datalab/internal/protocol"
	"github.com/datalab-sh/datalab/internal/tools"
)

// Observer receives loop lifecycle callbacks, for progress UIs and tests.
// Callbacks run synchronously on the loop goroutine.
type Observer interface {
	TurnStarted(turn int)
	DecisionReceived(turn int, d protocol.Decision)
	ToolStarted(turn int, tool string)
	ToolFinished(turn int, tool string, outcome tools.ToolOutcome)
	RunCompleted(res Result)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) TurnStarted(int)                             {}
func (NopObserver) DecisionReceived(int, protocol.Decision)     {}
func (NopObserver) ToolStarted(int, string)                     {}
func (NopObserver) ToolFinished(int, string, tools.ToolOutcome) {}
func (NopObserver) RunCompleted(Result)                         {}
