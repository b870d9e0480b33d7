package upstream

// Wire shapes of the upstream conversation API. Field sets are deliberately
// minimal; unknown fields are ignored so upstream payloads can grow without
// breaking us.

// windowPayload is one quota window in the usage response. The response is a
// JSON object keyed by window name.
type windowPayload struct {
	Utilization float64 `json:"utilization"`
	ResetsAt    string  `json:"resets_at"`
}

// Conversation is upstream conversation metadata, as returned by the list
// and create endpoints.
type Conversation struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	Summary   string `json:"summary,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// completionRequest is the body of a completion call.
type completionRequest struct {
	Prompt   string `json:"prompt"`
	Timezone string `json:"timezone"`
}

// completionEvent is one decoded data: frame of the completion stream.
// Pointers distinguish absent fields from empty ones; the final frame
// carries stop_reason and usually an empty completion.
type completionEvent struct {
	Completion *string          `json:"completion"`
	StopReason *string          `json:"stop_reason"`
	Error      *completionError `json:"error"`
}

type completionError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StreamChunk is one text delta of a completion stream.
type StreamChunk struct {
	DeltaText string
}

// CompletionResult is the assembled outcome of one completion call: the
// concatenated assistant text and the upstream stop reason, when one was
// reported before the stream ended.
type CompletionResult struct {
	Text       string
	StopReason string
}
