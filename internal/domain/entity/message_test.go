package entity

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMessageContent_UnmarshalString(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"ping"}`), &m); err != nil {
		t.Fatal(err)
	}
	if !m.Content.IsText || m.Content.Text != "ping" {
		t.Fatalf("content = %+v, want plain text ping", m.Content)
	}
	if m.Content.PromptText() != "ping" {
		t.Fatalf("PromptText() = %q", m.Content.PromptText())
	}
}

func TestMessageContent_UnmarshalBlocksKeepsRawBytes(t *testing.T) {
	raw := `[{"type":"tool_result","tool_use_id":"toolu_1","content":"ok"}]`
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":`+raw+`}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Content.IsText {
		t.Fatal("array content must not be flagged as text")
	}
	if len(m.Content.Blocks) != 1 || m.Content.Blocks[0].Type != "tool_result" {
		t.Fatalf("blocks = %+v", m.Content.Blocks)
	}
	// The prompt sees the verbatim JSON, tool results included.
	if m.Content.PromptText() != raw {
		t.Fatalf("PromptText() = %q, want the raw array", m.Content.PromptText())
	}

	out, err := json.Marshal(m.Content)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != raw {
		t.Fatalf("re-marshal = %s, want untouched bytes", out)
	}
}

func TestToolSchema_PreservesPropertyOrder(t *testing.T) {
	doc := `{
		"type": "object",
		"properties": {
			"zebra": {"type": "string", "description": "last alphabetically"},
			"apple": {"type": "number"},
			"mode":  {"type": "string", "enum": ["fast", "slow"]}
		},
		"required": ["zebra"]
	}`
	var s ToolSchema
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		t.Fatal(err)
	}

	wantOrder := []string{"zebra", "apple", "mode"}
	if len(s.Properties) != len(wantOrder) {
		t.Fatalf("got %d properties, want %d", len(s.Properties), len(wantOrder))
	}
	for i, name := range wantOrder {
		if s.Properties[i].Name != name {
			t.Fatalf("property %d = %q, want %q", i, s.Properties[i].Name, name)
		}
	}
	if !s.IsRequired("zebra") || s.IsRequired("apple") {
		t.Fatal("required set mismatch")
	}
	if len(s.Properties[2].Enum) != 2 {
		t.Fatalf("enum = %v", s.Properties[2].Enum)
	}

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	// Declaration order survives a marshal round.
	zebra := strings.Index(string(out), `"zebra"`)
	apple := strings.Index(string(out), `"apple"`)
	mode := strings.Index(string(out), `"mode"`)
	if !(zebra < apple && apple < mode) {
		t.Fatalf("marshal lost property order: %s", out)
	}
}

func TestToolSchema_EmptyAndMissingProperties(t *testing.T) {
	var s ToolSchema
	if err := json.Unmarshal([]byte(`{"type":"object"}`), &s); err != nil {
		t.Fatal(err)
	}
	if s.Properties != nil {
		t.Fatalf("missing properties should decode to nil, got %v", s.Properties)
	}

	if err := json.Unmarshal([]byte(`{"type":"object","properties":{}}`), &s); err != nil {
		t.Fatal(err)
	}
	if len(s.Properties) != 0 {
		t.Fatalf("empty properties should decode to empty, got %v", s.Properties)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 1},
		{"abc", 1},
		{"abcd", 1},
		{"abcdefgh", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}

func TestToolUse_Block(t *testing.T) {
	u := ToolUse{ID: "toolu_1_0", Name: "Read", Input: map[string]interface{}{"path": "/tmp/x"}}
	b := u.Block()
	if b.Type != "tool_use" || b.ID != "toolu_1_0" || b.Name != "Read" {
		t.Fatalf("block = %+v", b)
	}

	empty := ToolUse{ID: "toolu_1_1", Name: "Ping"}
	if empty.Block().Input == nil {
		t.Fatal("tool_use block input must marshal as {}, not null")
	}
}
