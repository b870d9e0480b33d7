package service

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"

	"github.com/xyz-jphil/ccapis/internal/domain/entity"
)

// Tool-call extraction — the upstream model emits tool invocations as XML
// inside plain completion text. The text is run through a lenient HTML parse
// (models produce imperfect markup), tool_use elements are lifted out, and
// parameter values are coerced back into the typed JSON the client expects.

// ExtractionResult is the outcome of scanning one assistant completion.
type ExtractionResult struct {
	// TextBefore is the prose preceding the first tool element, trimmed.
	// When no tool elements exist it is the input text unmodified.
	TextBefore string
	ToolUses   []entity.ToolUse
	// Warnings records coercion decisions worth logging, one line each.
	Warnings []string
}

// HasToolUses reports whether any tool invocation was found.
func (r ExtractionResult) HasToolUses() bool { return len(r.ToolUses) > 0 }

// ExtractToolCalls parses assistant text for tool invocations. It looks for
// the first <tool_uses> wrapper, falling back to bare <tool_use> elements
// when no wrapper exists.
func ExtractToolCalls(text string) ExtractionResult {
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return ExtractionResult{TextBefore: text}
	}
	root := findElement(doc, "body")
	if root == nil {
		root = doc
	}

	var toolNodes []*html.Node
	container := findElement(root, "tool_uses")
	if container != nil {
		toolNodes = findElements(container, "tool_use")
	} else {
		toolNodes = findElements(root, "tool_use")
		if len(toolNodes) > 0 {
			container = toolNodes[0]
		}
	}
	if container == nil || len(toolNodes) == 0 {
		return ExtractionResult{TextBefore: text}
	}

	var before strings.Builder
	collectTextBefore(root, container, &before)

	result := ExtractionResult{TextBefore: strings.TrimSpace(before.String())}
	millis := monotonicMillis()
	for _, node := range toolNodes {
		name := attrValue(node, "name")
		if name == "" {
			continue
		}
		input := map[string]interface{}{}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.ElementNode || child.Data != "parameter" {
				continue
			}
			paramName := attrValue(child, "name")
			if paramName == "" {
				continue
			}
			raw := innerContent(child)
			value, warning := coerceParameter(name, paramName, raw)
			if warning != "" {
				result.Warnings = append(result.Warnings, warning)
			}
			input[paramName] = value
		}
		result.ToolUses = append(result.ToolUses, entity.ToolUse{
			ID:    fmt.Sprintf("toolu_%d_%d", millis, len(result.ToolUses)),
			Name:  name,
			Input: input,
		})
	}
	if len(result.ToolUses) == 0 {
		return ExtractionResult{TextBefore: text}
	}
	return result
}

// lastExtractionMillis ratchets the millisecond stamp used in tool_use ids,
// so two extractions in the same millisecond still produce distinct ids.
var lastExtractionMillis atomic.Int64

func monotonicMillis() int64 {
	now := time.Now().UnixMilli()
	for {
		last := lastExtractionMillis.Load()
		if now <= last {
			now = last + 1
		}
		if lastExtractionMillis.CompareAndSwap(last, now) {
			return now
		}
	}
}

// findElement returns the first element with the given tag name in document
// order, or nil.
func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// findElements returns every element with the given tag name in document
// order. The search does not descend into matched elements.
func findElements(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n.Type == html.ElementNode && n.Data == tag {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		return out
	}
	walk(n)
	return out
}

// collectTextBefore appends every text node preceding stopAt in document
// order, newlines included. Returns true once stopAt is reached.
func collectTextBefore(n, stopAt *html.Node, b *strings.Builder) bool {
	if n == stopAt {
		return true
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if collectTextBefore(c, stopAt, b) {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// innerContent serializes the children of a parameter element exactly: text
// nodes verbatim as parsed, embedded elements re-rendered with their tags.
// No trimming; parameter whitespace is significant.
func innerContent(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			buf.WriteString(c.Data)
			continue
		}
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

// --- Parameter type coercion ---

// coercionKind decides what a numeric-looking parameter value becomes.
type coercionKind int

const (
	kindKnownNumeric coercionKind = iota
	kindKnownString
	kindUnknown
)

type coercionRule struct {
	toolPattern *regexp.Regexp
	param       string
	kind        coercionKind
}

var anyTool = regexp.MustCompile(`.*`)

// defaultCoercionRules is consulted first-match-wins for numeric-shaped
// values. Parameters outside the list coerce to numbers with a warning.
var defaultCoercionRules = buildDefaultRules()

func buildDefaultRules() []coercionRule {
	numeric := []string{"offset", "limit", "timeout", "port", "line", "count", "size", "length", "index", "number", "num"}
	str := []string{"id", "file_path", "path", "name", "description"}
	rules := make([]coercionRule, 0, len(numeric)+len(str))
	for _, p := range numeric {
		rules = append(rules, coercionRule{toolPattern: anyTool, param: p, kind: kindKnownNumeric})
	}
	for _, p := range str {
		rules = append(rules, coercionRule{toolPattern: anyTool, param: p, kind: kindKnownString})
	}
	return rules
}

var numericShapeRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// coerceParameter turns the raw string value of one parameter into its
// typed form. Booleans always win; numeric-shaped values follow the rule
// list; everything else stays a string silently.
func coerceParameter(toolName, paramName, raw string) (interface{}, string) {
	switch strings.ToLower(raw) {
	case "true":
		return true, ""
	case "false":
		return false, ""
	}
	if !numericShapeRe.MatchString(raw) {
		return raw, ""
	}

	kind := kindUnknown
	for _, rule := range defaultCoercionRules {
		if rule.param == paramName && rule.toolPattern.MatchString(toolName) {
			kind = rule.kind
			break
		}
	}
	switch kind {
	case kindKnownString:
		return raw, fmt.Sprintf("parameter %q of tool %q: numeric-looking value %q kept as string", paramName, toolName, raw)
	case kindKnownNumeric:
		return parseNumber(raw), ""
	default:
		return parseNumber(raw), fmt.Sprintf("parameter %q of tool %q: no coercion rule for value %q, treating as number", paramName, toolName, raw)
	}
}

// parseNumber converts a numeric-shaped string: integers land in the
// smallest of int and int64 that fits, decimals become float64.
func parseNumber(raw string) interface{} {
	if !strings.Contains(raw, ".") {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			if i >= math.MinInt32 && i <= math.MaxInt32 {
				return int(i)
			}
			return i
		}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	return f
}
