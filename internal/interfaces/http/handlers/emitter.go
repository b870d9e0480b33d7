package handlers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xyz-jphil/ccapis/internal/application/usecase"
	"github.com/xyz-jphil/ccapis/internal/domain/entity"
)

// Frame payloads of the streaming response dialect. The wire shapes follow
// the Anthropic Messages stream so existing client SDKs can consume them.

type messageEnvelope struct {
	ID         string                `json:"id"`
	Type       string                `json:"type"`
	Role       string                `json:"role"`
	Model      string                `json:"model"`
	Content    []entity.ContentBlock `json:"content"`
	StopReason *string               `json:"stop_reason"`
}

type messageStartFrame struct {
	Type    string          `json:"type"`
	Message messageEnvelope `json:"message"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolUseBlock struct {
	Type  string                 `json:"type"`
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

type contentBlockStartFrame struct {
	Type         string      `json:"type"`
	Index        int         `json:"index"`
	ContentBlock interface{} `json:"content_block"`
}

type textDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type contentBlockDeltaFrame struct {
	Type  string    `json:"type"`
	Index int       `json:"index"`
	Delta textDelta `json:"delta"`
}

type contentBlockStopFrame struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaFrame struct {
	Type  string           `json:"type"`
	Delta messageDeltaBody `json:"delta"`
	Usage entity.Usage     `json:"usage"`
}

type messageDeltaBody struct {
	StopReason string `json:"stop_reason"`
}

type messageStopFrame struct {
	Type string `json:"type"`
}

type errorFrame struct {
	Type  string         `json:"type"`
	Error errorFrameBody `json:"error"`
}

type errorFrameBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// newMessageID builds the response message id from the current millisecond.
func newMessageID() string {
	return "msg_" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// buildMessagesResponse assembles the non-streaming response body. With tool
// uses the text block carries only the text before the first tool call;
// empty text drops the block entirely.
func buildMessagesResponse(id string, completion *usecase.Completion) *entity.MessagesResponse {
	text := completion.Text
	if completion.Extraction.HasToolUses() {
		text = completion.Extraction.TextBefore
	}

	content := make([]entity.ContentBlock, 0, 1+len(completion.Extraction.ToolUses))
	if text != "" {
		content = append(content, entity.NewTextBlock(text))
	}
	for _, use := range completion.Extraction.ToolUses {
		content = append(content, use.Block())
	}

	return &entity.MessagesResponse{
		ID:         id,
		Type:       "message",
		Role:       entity.RoleAssistant,
		Model:      completion.Model,
		Content:    content,
		StopReason: completion.StopReason,
		Usage:      completion.Usage,
	}
}

// streamEmitter writes SSE frames as "event: <type>" plus a JSON data line,
// flushing after every frame so deltas reach the client immediately.
type streamEmitter struct {
	w      gin.ResponseWriter
	logger *zap.Logger
}

func newStreamEmitter(w gin.ResponseWriter, logger *zap.Logger) *streamEmitter {
	return &streamEmitter{w: w, logger: logger}
}

func (e *streamEmitter) emit(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("Failed to marshal stream frame",
			zap.String("event", event),
			zap.Error(err),
		)
		return
	}
	fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data)
	e.w.Flush()
}

func (e *streamEmitter) messageStart(id, model string) {
	e.emit("message_start", messageStartFrame{
		Type: "message_start",
		Message: messageEnvelope{
			ID:      id,
			Type:    "message",
			Role:    entity.RoleAssistant,
			Model:   model,
			Content: []entity.ContentBlock{},
		},
	})
}

func (e *streamEmitter) textBlockStart(index int) {
	e.emit("content_block_start", contentBlockStartFrame{
		Type:         "content_block_start",
		Index:        index,
		ContentBlock: textBlock{Type: "text", Text: ""},
	})
}

func (e *streamEmitter) textBlockDelta(index int, text string) {
	e.emit("content_block_delta", contentBlockDeltaFrame{
		Type:  "content_block_delta",
		Index: index,
		Delta: textDelta{Type: "text_delta", Text: text},
	})
}

func (e *streamEmitter) contentBlockStop(index int) {
	e.emit("content_block_stop", contentBlockStopFrame{
		Type:  "content_block_stop",
		Index: index,
	})
}

// toolUseBlockPair emits the start/stop pair for one extracted tool use. The
// start frame carries the complete typed input.
func (e *streamEmitter) toolUseBlockPair(index int, use entity.ToolUse) {
	input := use.Input
	if input == nil {
		input = map[string]interface{}{}
	}
	e.emit("content_block_start", contentBlockStartFrame{
		Type:  "content_block_start",
		Index: index,
		ContentBlock: toolUseBlock{
			Type:  "tool_use",
			ID:    use.ID,
			Name:  use.Name,
			Input: input,
		},
	})
	e.contentBlockStop(index)
}

func (e *streamEmitter) messageDelta(stopReason string, usage entity.Usage) {
	e.emit("message_delta", messageDeltaFrame{
		Type:  "message_delta",
		Delta: messageDeltaBody{StopReason: stopReason},
		Usage: usage,
	})
}

func (e *streamEmitter) messageStop() {
	e.emit("message_stop", messageStopFrame{Type: "message_stop"})
}

func (e *streamEmitter) errorEvent(message string) {
	e.emit("error", errorFrame{
		Type:  "error",
		Error: errorFrameBody{Type: "api_error", Message: message},
	})
}
