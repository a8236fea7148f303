package agent

import (
	"encoding/json"

	"github.com/Vikash221010/context-graph-demo/llmwire"
)

// recordDecisionTool is the tool whose results feed decision telemetry.
const recordDecisionTool = "record_decision"

// decisionTracker collects the decisions recorded during one run by
// watching record_decision tool results for the decision id the store
// assigned. A session is owned by one goroutine, so no locking is needed.
type decisionTracker struct {
	records []DecisionRecord
}

// observe inspects one completed dispatch and records it when it is a
// successful record_decision call.
func (d *decisionTracker) observe(toolName, toolUseID string, result ToolResult) {
	if toolName != recordDecisionTool || result.IsError {
		return
	}
	if id := extractDecisionID(result.Content); id != "" {
		d.records = append(d.records, DecisionRecord{DecisionID: id, ToolUseID: toolUseID})
	}
}

// Records returns the decisions observed so far.
func (d *decisionTracker) Records() []DecisionRecord {
	out := make([]DecisionRecord, len(d.records))
	copy(out, d.records)
	return out
}

// extractDecisionID pulls decision_id out of a record_decision result
// payload. The payload is JSON either as a json entry or as JSON text.
func extractDecisionID(content []llmwire.ResultContent) string {
	var payload struct {
		DecisionID string `json:"decision_id"`
	}
	for _, c := range content {
		var raw []byte
		switch c.Type {
		case llmwire.ResultJSON:
			raw = c.JSON
		case llmwire.ResultText:
			raw = []byte(c.Text)
		}
		if len(raw) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, &payload); err == nil && payload.DecisionID != "" {
			return payload.DecisionID
		}
	}
	return ""
}
