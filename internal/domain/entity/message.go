package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// --- Anthropic Messages API dialect ---
// The proxy speaks this dialect to its clients. Inbound content is either a
// flat string or an array of content blocks; a custom unmarshaler preserves
// the raw bytes so structured content can be forwarded verbatim.

// Message roles accepted on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Stop reasons emitted by the proxy.
const (
	StopReasonEndTurn = "end_turn"
	StopReasonToolUse = "tool_use"
)

// MessagesRequest is the inbound request body of POST /v1/messages.
type MessagesRequest struct {
	Model       string          `json:"model,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	System      string          `json:"system,omitempty"`
	Messages    []Message       `json:"messages"`
	Tools       []Tool          `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is the string-or-blocks union of the `content` field.
type MessageContent struct {
	// IsText is true when the wire value was a plain JSON string.
	IsText bool
	// Text holds the string form.
	Text string
	// Blocks holds the array form.
	Blocks []ContentBlock

	raw json.RawMessage
}

// TextContent builds a plain-string content value (test and internal use).
func TextContent(text string) MessageContent {
	return MessageContent{IsText: true, Text: text}
}

// UnmarshalJSON accepts either a JSON string or an array of content blocks
// and keeps the raw bytes either way.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	mc.raw = make(json.RawMessage, len(data))
	copy(mc.raw, data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		mc.IsText = true
		mc.Blocks = nil
		return json.Unmarshal(data, &mc.Text)
	}
	mc.IsText = false
	mc.Text = ""
	return json.Unmarshal(data, &mc.Blocks)
}

// MarshalJSON re-emits the original bytes when they exist, so structured
// content round-trips untouched.
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if len(mc.raw) > 0 {
		return mc.raw, nil
	}
	if mc.IsText {
		return json.Marshal(mc.Text)
	}
	return json.Marshal(mc.Blocks)
}

// PromptText returns the text this content contributes to the prompt: the
// plain string, or the verbatim JSON serialization of the block array.
// Structured content (tool uses, tool results) is never filtered out.
func (mc MessageContent) PromptText() string {
	if mc.IsText {
		return mc.Text
	}
	if len(mc.raw) > 0 {
		return string(bytes.TrimSpace(mc.raw))
	}
	data, err := json.Marshal(mc.Blocks)
	if err != nil {
		return ""
	}
	return string(data)
}

// ContentBlock is a polymorphic content element.
type ContentBlock struct {
	Type string `json:"type"` // "text" | "tool_use" | "tool_result" | "image"

	// For type "text"
	Text string `json:"text,omitempty"`

	// For type "tool_use" (assistant requesting a tool call)
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// For type "tool_result" (user providing tool output). Content may be a
	// string or nested blocks; it is carried raw.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	// For type "image"
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource is the payload of an image block.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// NewTextBlock builds a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolUse is a structured call request extracted from assistant text.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// Block converts the tool use into its wire content block.
func (t ToolUse) Block() ContentBlock {
	input := t.Input
	if input == nil {
		input = map[string]interface{}{}
	}
	return ContentBlock{Type: "tool_use", ID: t.ID, Name: t.Name, Input: input}
}

// Tool is a client-supplied tool definition.
type Tool struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	InputSchema ToolSchema `json:"input_schema"`
}

// ToolSchema is the input schema of a tool. Property declaration order is
// preserved so prompt rendering is deterministic for identical input bytes.
type ToolSchema struct {
	Type       string
	Properties []ToolProperty
	Required   []string
}

// ToolProperty is one named parameter of a tool schema.
type ToolProperty struct {
	Name        string
	Type        string        `json:"type,omitempty"`
	Description string        `json:"description,omitempty"`
	Enum        []interface{} `json:"enum,omitempty"`
}

// IsRequired reports whether name is listed in the schema's required set.
func (s ToolSchema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes the schema keeping the property order of the
// document, which encoding/json's map type would lose.
func (s *ToolSchema) UnmarshalJSON(data []byte) error {
	var plain struct {
		Type       string          `json:"type"`
		Properties json.RawMessage `json:"properties"`
		Required   []string        `json:"required"`
	}
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	s.Type = plain.Type
	s.Required = plain.Required
	s.Properties = nil

	trimmed := bytes.TrimSpace(plain.Properties)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("input_schema properties: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("input_schema properties: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("input_schema properties: %w", err)
		}
		name, _ := keyTok.(string)
		var prop ToolProperty
		if err := dec.Decode(&prop); err != nil {
			return fmt.Errorf("input_schema property %q: %w", name, err)
		}
		prop.Name = name
		s.Properties = append(s.Properties, prop)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("input_schema properties: %w", err)
	}
	return nil
}

// MarshalJSON re-emits the schema with properties in declaration order.
func (s ToolSchema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if s.Type != "" {
		buf.WriteString(`"type":`)
		if err := appendJSON(&buf, s.Type); err != nil {
			return nil, err
		}
	}
	if s.Properties != nil {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"properties":{`)
		for i, prop := range s.Properties {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendJSON(&buf, prop.Name); err != nil {
				return nil, err
			}
			buf.WriteByte(':')
			body, err := json.Marshal(struct {
				Type        string        `json:"type,omitempty"`
				Description string        `json:"description,omitempty"`
				Enum        []interface{} `json:"enum,omitempty"`
			}{prop.Type, prop.Description, prop.Enum})
			if err != nil {
				return nil, err
			}
			buf.Write(body)
		}
		buf.WriteByte('}')
	}
	if s.Required != nil {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"required":`)
		if err := appendJSON(&buf, s.Required); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func appendJSON(buf *bytes.Buffer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

// MessagesResponse is the non-streaming response body of POST /v1/messages.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"` // always "message"
	Role       string         `json:"role"` // always "assistant"
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Usage reports token consumption. Counts are the documented best-effort
// estimate, not tokenizer output.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// EstimateTokens approximates a token count as max(1, len/4).
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}
