package service

import "testing"

func TestScoreToolCallMiss(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"announced action with colon", "I'll now update the configuration:", 2},
		{"intent phrase only", "Let me check the file for you.", 1},
		{"colon only", "Here is the plan:", 1},
		{"plain prose", "The configuration looks fine.", 0},
		{"empty", "", 0},
		{"whitespace", "  \n\t ", 0},
		{"last sentence wins", "Done with step one. I'm going to apply it:", 2},
		{"earlier line ignored", "I'll do it later.\nAll finished now.", 0},
		{"case insensitive intent", "LET ME RUN THAT:", 2},
		{"colon with trailing space", "I will fix this: ", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreToolCallMiss(tt.text); got != tt.want {
				t.Fatalf("ScoreToolCallMiss(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestLastSentence(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"One. Two. Three:", "Three:"},
		{"line one\nline two", "line two"},
		{"Did it work? Yes.", "Yes."},
		{"single", "single"},
	}
	for _, tt := range tests {
		if got := lastSentence(tt.text); got != tt.want {
			t.Fatalf("lastSentence(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
