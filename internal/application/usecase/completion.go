package usecase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xyz-jphil/ccapis/internal/domain/entity"
	"github.com/xyz-jphil/ccapis/internal/domain/service"
	"github.com/xyz-jphil/ccapis/internal/infrastructure/txlog"
	"github.com/xyz-jphil/ccapis/internal/infrastructure/upstream"
	apperrors "github.com/xyz-jphil/ccapis/pkg/errors"
)

// DefaultModel is echoed into responses when the client omits one. The
// upstream conversation endpoint has no model parameter; the field is
// cosmetic and exists for client compatibility.
const DefaultModel = "claude-3-5-sonnet-20241022"

// CredentialSelector picks a credential for the next request.
type CredentialSelector interface {
	Select(ctx context.Context) (*service.Selection, error)
}

// UpstreamGateway is the use-case's view of the upstream client.
type UpstreamGateway interface {
	CreateConversation(ctx context.Context, cred *entity.Credential, name string, temporary bool) (*upstream.Conversation, error)
	Complete(ctx context.Context, cred *entity.Credential, conversationUUID, prompt string, tx *txlog.Transaction) (*upstream.CompletionResult, error)
	StreamComplete(ctx context.Context, cred *entity.Credential, conversationUUID, prompt string, deltaCh chan<- upstream.StreamChunk, tx *txlog.Transaction) (*upstream.CompletionResult, error)
}

// Completion is the semantic outcome of one proxied request: the full
// assistant text, the tool calls extracted from it, and the response
// metadata the emitter needs.
type Completion struct {
	Text       string
	Extraction service.ExtractionResult
	Model      string
	StopReason string
	Usage      entity.Usage
}

// CompletionUseCase drives one request end to end: pick a credential, build
// the prompt, open an upstream conversation, run the completion, extract
// tool calls, and record the outcome into the health monitor.
type CompletionUseCase struct {
	selector          CredentialSelector
	health            *service.HealthMonitor
	gateway           UpstreamGateway
	recorder          *txlog.Recorder
	keepConversations bool
	logger            *zap.Logger
}

// NewCompletionUseCase creates the completion use-case. recorder may be nil
// when conversation logging is disabled.
func NewCompletionUseCase(
	selector CredentialSelector,
	health *service.HealthMonitor,
	gateway UpstreamGateway,
	recorder *txlog.Recorder,
	keepConversations bool,
	logger *zap.Logger,
) *CompletionUseCase {
	return &CompletionUseCase{
		selector:          selector,
		health:            health,
		gateway:           gateway,
		recorder:          recorder,
		keepConversations: keepConversations,
		logger:            logger.With(zap.String("component", "completion")),
	}
}

// Execute runs a buffered completion.
func (uc *CompletionUseCase) Execute(ctx context.Context, req *entity.MessagesRequest) (*Completion, error) {
	return uc.run(ctx, req, nil)
}

// ExecuteStream runs a streaming completion, forwarding text deltas to
// deltaCh as they arrive. The caller owns deltaCh and closes it after this
// returns. Deltas already sent are not retracted on a later error.
func (uc *CompletionUseCase) ExecuteStream(ctx context.Context, req *entity.MessagesRequest, deltaCh chan<- upstream.StreamChunk) (*Completion, error) {
	return uc.run(ctx, req, deltaCh)
}

func (uc *CompletionUseCase) run(ctx context.Context, req *entity.MessagesRequest, deltaCh chan<- upstream.StreamChunk) (*Completion, error) {
	started := time.Now()

	if len(req.Messages) == 0 {
		return nil, apperrors.NewInvalidInputError("messages must not be empty")
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	selection, err := uc.selector.Select(ctx)
	if err != nil {
		return nil, err
	}
	cred := selection.Credential

	prompt := service.BuildPrompt(req)

	conversation, err := uc.gateway.CreateConversation(ctx, cred, conversationName(), !uc.keepConversations)
	if err != nil {
		return nil, uc.recordFailure(cred, "create_conversation", err)
	}

	tx := uc.recorder.Begin()
	defer tx.Finish()
	tx.SetMeta("model", model)
	tx.SetMeta("stream", strconv.FormatBool(deltaCh != nil))

	var result *upstream.CompletionResult
	if deltaCh != nil {
		result, err = uc.gateway.StreamComplete(ctx, cred, conversation.UUID, prompt, deltaCh, tx)
	} else {
		result, err = uc.gateway.Complete(ctx, cred, conversation.UUID, prompt, tx)
	}
	if err != nil {
		return nil, uc.recordFailure(cred, "completion", err)
	}
	uc.health.RecordSuccess(cred.ID())

	extraction := service.ExtractToolCalls(result.Text)
	for _, warning := range extraction.Warnings {
		uc.logger.Warn("Tool parameter coercion", zap.String("detail", warning))
	}
	if len(req.Tools) > 0 && !extraction.HasToolUses() {
		if score := service.ScoreToolCallMiss(result.Text); score >= 2 {
			uc.logger.Warn("Assistant text ends like an unfulfilled tool call",
				zap.Int("score", score),
				zap.Int("tools_offered", len(req.Tools)),
			)
		}
	}
	tx.SetMeta("tool_uses", strconv.Itoa(len(extraction.ToolUses)))

	stopReason := entity.StopReasonEndTurn
	if extraction.HasToolUses() {
		stopReason = entity.StopReasonToolUse
	}

	record := uc.health.Get(cred.ID())
	uc.logger.Info("Request completed",
		zap.String("credential", cred.ID()),
		zap.String("health", record.State.String()),
		zap.Float64("utilization_pct", selection.Utilization),
		zap.String("routing", string(selection.Strategy)),
		zap.Bool("stream", deltaCh != nil),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("completion_chars", len(result.Text)),
		zap.Int("tool_uses", len(extraction.ToolUses)),
		zap.Duration("duration", time.Since(started)),
	)

	return &Completion{
		Text:       result.Text,
		Extraction: extraction,
		Model:      model,
		StopReason: stopReason,
		Usage: entity.Usage{
			InputTokens:  entity.EstimateTokens(prompt),
			OutputTokens: entity.EstimateTokens(result.Text),
		},
	}, nil
}

// recordFailure classifies err into the health monitor and passes it through.
func (uc *CompletionUseCase) recordFailure(cred *entity.Credential, operation string, err error) error {
	kind := service.ClassifyFailure(err)
	uc.health.RecordFailure(cred.ID(), kind)
	uc.logger.Error("Upstream call failed",
		zap.String("credential", cred.ID()),
		zap.String("operation", operation),
		zap.String("kind", kind.String()),
		zap.Error(err),
	)
	return err
}

// conversationName yields a unique, sortable upstream conversation name.
func conversationName() string {
	return fmt.Sprintf("ccapis-%d", time.Now().UnixMilli())
}
