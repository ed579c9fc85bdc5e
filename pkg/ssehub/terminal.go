package ssehub

import (
	"encoding/json"

	"github.com/octoagent/gateway/pkg/taskmodel"
)

// IsTerminalEvent reports whether ev is a STATE_TRANSITION into a
// terminal task status — the point at which a stream should send its
// final frame and close rather than wait for more events.
func IsTerminalEvent(ev taskmodel.Event) bool {
	if ev.Type != taskmodel.EventStateTransition {
		return false
	}
	var payload taskmodel.StateTransitionPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return false
	}
	return taskmodel.IsTerminal(payload.ToStatus)
}
