package service

import (
	"regexp"
	"strings"
)

// Missed tool-call detection — when the client supplied tools but the
// completion contained no tool_use XML, the text often still announces an
// action ("I'll update the config:"). Scoring the last sentence catches the
// common failure shape where the model described the call instead of making
// it. Diagnostic only; the response is never altered.

var (
	colonTailRe  = regexp.MustCompile(`.*\s?:\s?$`)
	intentWordRe = regexp.MustCompile(`(?i).*(i'll|let me|i will|i'm going to|i am going to).*`)
)

// ScoreToolCallMiss rates how strongly the completion's last sentence
// suggests an intended-but-missing tool call. A trailing colon and an
// intent phrase score one point each; two points warrant a warning.
func ScoreToolCallMiss(text string) int {
	sentence := lastSentence(text)
	if sentence == "" {
		return 0
	}
	score := 0
	if colonTailRe.MatchString(sentence) {
		score++
	}
	if intentWordRe.MatchString(sentence) {
		score++
	}
	return score
}

// lastSentence isolates the final sentence: the tail of the last non-empty
// line, after any earlier sentence on that line.
func lastSentence(text string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return ""
	}
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[i+1:])
	}
	for _, sep := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(s, sep); i >= 0 {
			s = s[i+len(sep):]
		}
	}
	return strings.TrimSpace(s)
}
