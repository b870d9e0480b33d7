package service

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xyz-jphil/ccapis/internal/domain/entity"
)

// Prompt encoding — the upstream conversation endpoint accepts one prompt
// string per completion, so the structured message history is flattened into
// XML-tagged blocks. Tags are chosen per request so that no tag ever appears
// inside the content it wraps.

// Base tag names. Suffixes _1.._999 are appended on collision.
const (
	tagSystem     = "custom_system_prompt"
	tagFormatting = "formatting_instructions"
	tagUser       = "user"
	tagAssistant  = "ai_assistant"
)

const maxTagSuffix = 999

// formattingTemplate tells the model which tag identity it is completing.
// The placeholder is filled with the final assistant tag in angle brackets.
const formattingTemplate = "This conversation uses XML-style tags for message boundaries.\n" +
	"You are fulfilling the role of <%s>.\n" +
	"Respond with ONLY your answer as plain text.\n" +
	"Do NOT include XML tags in your response."

// BuildPrompt encodes a messages request into the single prompt string sent
// upstream. The encoding is deterministic: identical requests produce
// identical bytes.
//
// Single-turn requests (exactly one user message, no history) stay close to
// raw text. Anything else becomes a tagged multi-turn transcript with a
// formatting preamble.
func BuildPrompt(req *entity.MessagesRequest) string {
	systemText := joinBlocks(req.System, RenderToolsText(req.Tools))

	contents := make([]string, 0, len(req.Messages)+1)
	if systemText != "" {
		contents = append(contents, systemText)
	}
	texts := make([]string, len(req.Messages))
	assistantCount := 0
	for i, m := range req.Messages {
		texts[i] = m.Content.PromptText()
		contents = append(contents, texts[i])
		if m.Role == entity.RoleAssistant {
			assistantCount++
		}
	}

	if len(req.Messages) == 1 && req.Messages[0].Role != entity.RoleAssistant {
		if systemText == "" {
			return texts[0]
		}
		sysTag, _ := findTag(contents, tagSystem, 0)
		return wrapTag(sysTag, systemText) + "\n\n" + texts[0]
	}

	blocks := make([]string, 0, len(req.Messages)+2)
	if systemText != "" {
		sysTag, _ := findTag(contents, tagSystem, 0)
		blocks = append(blocks, wrapTag(sysTag, systemText))
	}

	finalTag, _ := findTag(contents, tagAssistant, assistantCount)
	fmtTag, _ := findTag(contents, tagFormatting, 0)
	blocks = append(blocks, wrapTag(fmtTag, fmt.Sprintf(formattingTemplate, finalTag)))

	userTags := tagAllocator{contents: contents, base: tagUser}
	assistantTags := tagAllocator{contents: contents, base: tagAssistant}
	for i, m := range req.Messages {
		var tag string
		if m.Role == entity.RoleAssistant {
			tag = assistantTags.take()
		} else {
			tag = userTags.take()
		}
		blocks = append(blocks, wrapTag(tag, texts[i]))
	}

	return strings.TrimRightFunc(strings.Join(blocks, "\n\n"), unicode.IsSpace)
}

// joinBlocks concatenates two prompt fragments with a blank line, treating
// an empty operand as identity.
func joinBlocks(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n\n" + b
}

func wrapTag(tag, content string) string {
	return "<" + tag + ">" + content + "</" + tag + ">"
}

// findTag returns the first candidate tag at or after start that does not
// collide with any content string, together with its index. Candidate 0 is
// the bare base name, candidate n is base_n. The search is bounded at 999;
// if everything collides the last candidate is used anyway.
func findTag(contents []string, base string, start int) (string, int) {
	for i := start; i <= maxTagSuffix; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d", base, i)
		}
		if !collides(contents, candidate) {
			return candidate, i
		}
	}
	return fmt.Sprintf("%s_%d", base, maxTagSuffix), maxTagSuffix
}

// collides reports whether any content string contains the candidate tag.
// A bare substring match also covers the <tag> and </tag> forms.
func collides(contents []string, candidate string) bool {
	for _, s := range contents {
		if strings.Contains(s, candidate) {
			return true
		}
	}
	return false
}

// tagAllocator hands out per-message tags for one base name. Each message
// takes the first non-colliding candidate after the previous message's
// index, so two messages never share a tag.
type tagAllocator struct {
	contents []string
	base     string
	next     int
}

func (a *tagAllocator) take() string {
	tag, idx := findTag(a.contents, a.base, a.next)
	a.next = idx + 1
	return tag
}
