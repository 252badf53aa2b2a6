package server

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// randomID generates a fresh id suffix for a message, matching the uuid
// dependency reused across the module (node ids, message ids) rather than
// hand-rolling a random string generator.
func randomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type parsedSSEEvent struct {
	eventType    string
	textDelta    string
	stopReason   string
	outputTokens int
}

// parseSSEEvent re-parses one SSEBuilder-formatted "event: ...\ndata:
// ...\n\n" string, used only by the non-streaming response path to fold an
// internally-streamed sequence back into a single buffered body without
// duplicating SSEBuilder's event construction logic.
func parseSSEEvent(raw string) parsedSSEEvent {
	var out parsedSSEEvent

	lines := strings.Split(raw, "\n")
	var dataLine string
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "event: "):
			out.eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimPrefix(line, "data: ")
		}
	}
	if dataLine == "" {
		return out
	}

	switch out.eventType {
	case "content_block_delta":
		var payload struct {
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(dataLine), &payload); err == nil {
			out.textDelta = payload.Delta.Text
		}
	case "message_delta":
		var payload struct {
			Delta struct {
				StopReason string `json:"stop_reason"`
			} `json:"delta"`
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(dataLine), &payload); err == nil {
			out.stopReason = payload.Delta.StopReason
			out.outputTokens = payload.Usage.OutputTokens
		}
	}

	return out
}
