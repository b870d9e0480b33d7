package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xyz-jphil/ccapis/internal/application/usecase"
	"github.com/xyz-jphil/ccapis/internal/domain/entity"
	"github.com/xyz-jphil/ccapis/internal/infrastructure/upstream"
	apperrors "github.com/xyz-jphil/ccapis/pkg/errors"
)

// CompletionRunner is the handler's view of the completion use-case.
type CompletionRunner interface {
	Execute(ctx context.Context, req *entity.MessagesRequest) (*usecase.Completion, error)
	ExecuteStream(ctx context.Context, req *entity.MessagesRequest, deltaCh chan<- upstream.StreamChunk) (*usecase.Completion, error)
}

// MessagesHandler serves the Anthropic-compatible message endpoints.
type MessagesHandler struct {
	completions CompletionRunner
	logger      *zap.Logger
}

// NewMessagesHandler creates the messages handler.
func NewMessagesHandler(completions CompletionRunner, logger *zap.Logger) *MessagesHandler {
	return &MessagesHandler{
		completions: completions,
		logger:      logger,
	}
}

// errorEnvelope is the flat error body shared by all non-2xx JSON responses.
func errorEnvelope(code, message string) gin.H {
	return gin.H{"error": code, "message": message}
}

// CreateMessage handles POST /v1/messages.
func (h *MessagesHandler) CreateMessage(c *gin.Context) {
	var req entity.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope("invalid_request_error", "invalid request body: "+err.Error()))
		return
	}

	if req.Stream {
		h.stream(c, &req)
		return
	}

	completion, err := h.completions.Execute(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildMessagesResponse(newMessageID(), completion))
}

// CompleteNotSupported handles POST /v1/complete. The legacy text-completion
// dialect is deliberately unsupported.
func (h *MessagesHandler) CompleteNotSupported(c *gin.Context) {
	c.JSON(http.StatusNotImplemented,
		errorEnvelope("not_implemented", "text completions are not supported; use /v1/messages"))
}

// stream runs the use-case in a goroutine and relays its deltas as SSE
// frames. The response stays plain JSON until the first frame: errors before
// that point keep their proper HTTP status, errors after it become a
// terminal error event.
func (h *MessagesHandler) stream(c *gin.Context, req *entity.MessagesRequest) {
	type outcome struct {
		completion *usecase.Completion
		err        error
	}

	deltaCh := make(chan upstream.StreamChunk, 32)
	outcomeCh := make(chan outcome, 1)
	go func() {
		defer close(deltaCh)
		completion, err := h.completions.ExecuteStream(c.Request.Context(), req, deltaCh)
		outcomeCh <- outcome{completion: completion, err: err}
	}()

	model := req.Model
	if model == "" {
		model = usecase.DefaultModel
	}

	var emitter *streamEmitter
	start := func() {
		if emitter != nil {
			return
		}
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		emitter = newStreamEmitter(c.Writer, h.logger)
		emitter.messageStart(newMessageID(), model)
		emitter.textBlockStart(0)
	}

	for chunk := range deltaCh {
		start()
		emitter.textBlockDelta(0, chunk.DeltaText)
	}

	result := <-outcomeCh
	if result.err != nil {
		if emitter == nil {
			h.respondError(c, result.err)
			return
		}
		emitter.errorEvent("upstream request failed")
		return
	}

	// A completion with zero deltas still gets the full frame sequence.
	start()
	emitter.contentBlockStop(0)
	for i, use := range result.completion.Extraction.ToolUses {
		emitter.toolUseBlockPair(i+1, use)
	}
	emitter.messageDelta(result.completion.StopReason, result.completion.Usage)
	emitter.messageStop()
}

// respondError maps application errors to client-facing envelopes. Upstream
// detail never leaves the process; the use-case has already logged it.
func (h *MessagesHandler) respondError(c *gin.Context, err error) {
	appErr, ok := apperrors.AsAppError(err)
	switch {
	case ok && appErr.Code == apperrors.CodeInvalidInput:
		c.JSON(http.StatusBadRequest, errorEnvelope("invalid_request_error", appErr.Message))
	case ok && appErr.Code == apperrors.CodeNoCredentials:
		c.JSON(http.StatusInternalServerError, errorEnvelope("api_error", "no upstream credentials available"))
	case ok && appErr.Code != apperrors.CodeInternal:
		c.JSON(http.StatusInternalServerError, errorEnvelope("api_error", "upstream request failed"))
	default:
		h.logger.Error("Unclassified request failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorEnvelope("internal_server_error", "internal server error"))
	}
}
