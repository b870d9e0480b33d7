package service

import (
	"fmt"
	"strings"

	"github.com/xyz-jphil/ccapis/internal/domain/entity"
)

// toolsHeader instructs the model how to invoke tools. The upstream model
// has no native tool-call channel, so the calling convention rides inside
// the system preamble and the calls come back as XML in plain text.
const toolsHeader = `# Available Tools

IMPORTANT: You MUST use <tool_use> tags (Anthropic format). Do NOT use <invoke> or <use_tool> tags.

Use tools by outputting XML in EXACTLY this format:
<tool_uses><tool_use name="tool_name"><parameter name="param_name">value</parameter></tool_use></tool_uses>

CRITICAL: Use <tool_use name="..."> with the standard Anthropic format. The tag name MUST be 'tool_use'.`

// RenderToolsText renders tool definitions into the Markdown block appended
// to the system preamble. Output is byte-deterministic for identical input:
// tools render in list order and schema properties in declaration order.
// Returns "" when no tools are supplied.
func RenderToolsText(tools []entity.Tool) string {
	if len(tools) == 0 {
		return ""
	}
	sections := make([]string, 0, len(tools)+1)
	sections = append(sections, toolsHeader)
	for _, tool := range tools {
		sections = append(sections, renderTool(tool))
	}
	return strings.Join(sections, "\n\n")
}

func renderTool(tool entity.Tool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Tool: %s\n", tool.Name)
	fmt.Fprintf(&b, "**Description:** %s\n", tool.Description)

	if len(tool.InputSchema.Properties) == 0 {
		b.WriteString("**Parameters:** (No parameters)")
		return b.String()
	}

	b.WriteString("**Parameters:**")
	for _, prop := range tool.InputSchema.Properties {
		fmt.Fprintf(&b, "\n  - `%s`", prop.Name)
		if tool.InputSchema.IsRequired(prop.Name) {
			b.WriteString(" **(required)**")
		}
		if prop.Type != "" {
			fmt.Fprintf(&b, " - Type: `%s`", prop.Type)
		}
		if prop.Description != "" {
			fmt.Fprintf(&b, "\n    %s", prop.Description)
		}
		if len(prop.Enum) > 0 {
			b.WriteString("\n    Allowed values: ")
			for i, v := range prop.Enum {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "`%v`", v)
			}
		}
	}
	return b.String()
}
